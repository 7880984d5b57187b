// Package server exposes the classification pipeline and ledger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a-marczewski/fridgevision/internal/infer"
	"github.com/a-marczewski/fridgevision/internal/ledger"
)

const uploadPage = `<!DOCTYPE html>
<html>
<head><title>Fridge Vision</title></head>
<body>
<h1>Upload a produce photo</h1>
<form method="post" enctype="multipart/form-data">
  <input type="file" name="file">
  <input type="submit" value="Classify">
</form>
{{if .Error}}<p>{{.Error}}</p>{{end}}
{{if .Results}}
<ul>
{{range .Results}}  <li>{{.}}</li>
{{end}}</ul>
{{end}}
</body>
</html>
`

// Server serves the prediction and retrieval endpoints.
type Server struct {
	pipeline   *infer.Pipeline
	store      ledger.Ledger
	logger     *zap.Logger
	httpServer *http.Server
	uploadTmpl *template.Template
	startTime  time.Time
}

// NewServer wires the HTTP surface around the pipeline and ledger.
func NewServer(pipeline *infer.Pipeline, store ledger.Ledger, logger *zap.Logger, port int) *Server {
	s := &Server{
		pipeline:   pipeline,
		store:      store,
		logger:     logger,
		uploadTmpl: template.Must(template.New("upload").Parse(uploadPage)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/records", s.handleRecords)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

// Handler returns the route handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.startTime = time.Now()
	s.logger.Info("Starting fridgevision server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Fridge Vision server with produce recognition is running!")
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	logger := s.logger.With(zap.String("request_id", uuid.NewString()))

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	candidates, _, err := s.pipeline.Run(r.Context(), file)
	if err != nil {
		s.writePipelineError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"predictions": candidates})
}

type uploadView struct {
	Results []string
	Error   string
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.renderUpload(w, uploadView{})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.renderUpload(w, uploadView{})
		return
	}
	defer file.Close()

	logger := s.logger.With(zap.String("request_id", uuid.NewString()))

	candidates, _, err := s.pipeline.Run(r.Context(), file)
	if err != nil {
		logger.Error("Upload classification failed", zap.Error(err))
		s.renderUpload(w, uploadView{Error: publicMessage(err)})
		return
	}

	results := make([]string, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, fmt.Sprintf("%s: %.2f%%", c.Description, c.Confidence*100))
	}
	s.renderUpload(w, uploadView{Results: results})
}

func (s *Server) renderUpload(w http.ResponseWriter, view uploadView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.uploadTmpl.Execute(w, view); err != nil {
		s.logger.Error("Failed to render upload page", zap.Error(err))
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Latest(r.Context())
	switch {
	case errors.Is(err, ledger.ErrNoStore):
		writeJSON(w, http.StatusOK, map[string]string{"message": "no data"})
	case errors.Is(err, ledger.ErrNoRecords):
		writeJSON(w, http.StatusOK, map[string]string{"message": "no records"})
	case err != nil:
		s.logger.Error("Failed to read latest record", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read ledger"})
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.All(r.Context())
	if err != nil {
		s.logger.Error("Failed to read records", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read ledger"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	status := "ok"
	if err != nil {
		s.logger.Error("Ledger health check failed", zap.Error(err))
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"records": count,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// writePipelineError maps a pipeline failure to a structured response. The
// message never exposes internals; details stay in the log.
func (s *Server) writePipelineError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind, _ := infer.KindOf(err)
	switch kind {
	case infer.KindDecode:
		logger.Warn("Rejected undecodable upload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Could not decode image"})
	case infer.KindClassifier:
		logger.Error("Classification failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Classification failed"})
	case infer.KindPersistence:
		logger.Error("Failed to persist record", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to record result"})
	default:
		logger.Error("Prediction failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
	}
}

func publicMessage(err error) string {
	kind, _ := infer.KindOf(err)
	switch kind {
	case infer.KindDecode:
		return "Could not decode image"
	case infer.KindClassifier:
		return "Classification failed"
	case infer.KindPersistence:
		return "Failed to record result"
	default:
		return "Internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

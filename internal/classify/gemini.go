package classify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/maypok86/otter/v2"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const promptTemplate = `Identify the piece of produce (fruit or vegetable) shown in this image.
Return up to %d ranked guesses, most likely first. For each guess provide:
- label: a short lower-case machine label (e.g. "banana", "granny_smith")
- description: a human-readable name
- confidence: your confidence between 0 and 1
If the image does not show produce, still return your best guesses for what it shows.`

// GeminiOptions configures the Gemini-backed classifier.
type GeminiOptions struct {
	APIKey       string
	Model        string
	GCPProject   string
	CacheEnabled bool
	CacheTTL     time.Duration
}

// GeminiClassifier classifies images with the Gemini API. The client is
// created once at process start and shared across requests; results are
// cached by image content so re-uploads of the same picture skip the remote
// call.
type GeminiClassifier struct {
	client *genai.Client
	model  string
	cache  *otter.Cache[string, []Candidate]
	logger *zap.Logger
}

// NewGeminiClassifier creates the shared classifier handle. With an API key
// it talks to the Gemini API backend; without one it falls back to Vertex AI
// with Application Default Credentials.
func NewGeminiClassifier(ctx context.Context, opts GeminiOptions, logger *zap.Logger) (*GeminiClassifier, error) {
	var config *genai.ClientConfig
	if opts.APIKey != "" {
		config = &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  opts.APIKey,
		}
		logger.Info("Using Gemini API with API key")
	} else {
		projectID := opts.GCPProject
		if projectID == "" {
			projectID = os.Getenv("GCP_PROJECT")
		}
		if projectID == "" {
			projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		config = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  projectID,
			Location: "us-central1",
		}
		logger.Info("Using Vertex AI with Application Default Credentials", zap.String("project", projectID))
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := strings.TrimPrefix(opts.Model, "models/")
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}

	g := &GeminiClassifier{
		client: client,
		model:  model,
		logger: logger,
	}

	if opts.CacheEnabled {
		g.cache = otter.Must(&otter.Options[string, []Candidate]{
			MaximumSize:      4096,
			ExpiryCalculator: otter.ExpiryWriting[string, []Candidate](opts.CacheTTL),
		})
	}

	return g, nil
}

// Classify sends the resized image to Gemini and returns ranked candidates.
func (g *GeminiClassifier) Classify(ctx context.Context, img *image.RGBA, topK int) ([]Candidate, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode classifier input: %w", err)
	}

	cacheKey := g.cacheKey(buf.Bytes(), topK)
	if g.cache != nil {
		if cached, found := g.cache.GetIfPresent(cacheKey); found {
			g.logger.Debug("Classifier cache hit", zap.Int("candidates", len(cached)))
			return cached, nil
		}
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: buf.Bytes()}},
				{Text: fmt.Sprintf(promptTemplate, topK)},
			},
		},
	}

	temperature := float32(0.1)
	genConfig := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  500,
		ResponseMIMEType: "application/json",
		ResponseSchema:   candidateSchema(),
	}

	var resp *genai.GenerateContentResponse
	err := retry.Do(
		func() error {
			var genErr error
			resp, genErr = g.client.Models.GenerateContent(ctx, g.model, contents, genConfig)
			if genErr != nil {
				if isTransientError(genErr) {
					g.logger.Warn("Gemini transient error, retrying", zap.Error(genErr))
					return genErr
				}
				return retry.Unrecoverable(genErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini classification failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, ErrEmptyResult
	}

	candidates, err := parseCandidates(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrEmptyResult
	}

	ranked := rank(candidates, topK)
	if g.cache != nil {
		g.cache.Set(cacheKey, ranked)
	}
	return ranked, nil
}

func (g *GeminiClassifier) cacheKey(pixels []byte, topK int) string {
	sum := sha256.Sum256(pixels)
	return fmt.Sprintf("classify:%s:%d:%s", g.model, topK, hex.EncodeToString(sum[:]))
}

func candidateSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"candidates": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"label": {
							Type:        genai.TypeString,
							Description: "Short lower-case machine label, e.g. 'banana'",
						},
						"description": {
							Type:        genai.TypeString,
							Description: "Human-readable name of the produce",
						},
						"confidence": {
							Type:        genai.TypeNumber,
							Description: "Confidence between 0 and 1",
						},
					},
					Required: []string{"label", "description", "confidence"},
				},
			},
		},
		Required: []string{"candidates"},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return ""
	}
	for _, part := range content.Parts {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}

// parseCandidates decodes the structured JSON produced by the response
// schema into candidates, clamping confidences into [0, 1].
func parseCandidates(text string) ([]Candidate, error) {
	var parsed struct {
		Candidates []struct {
			Label       string  `json:"label"`
			Description string  `json:"description"`
			Confidence  float64 `json:"confidence"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(parsed.Candidates))
	for _, c := range parsed.Candidates {
		if c.Label == "" {
			continue
		}
		conf := c.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		desc := c.Description
		if desc == "" {
			desc = c.Label
		}
		candidates = append(candidates, Candidate{Label: c.Label, Description: desc, Confidence: conf})
	}
	return candidates, nil
}

func isTransientError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"rate limit", "quota", "timeout", "deadline", "unavailable",
		"internal server error", "500", "502", "503", "504",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// Package app wires configuration, logging, the ledger, and the classifier
// into a single application instance shared by all CLI commands.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/fridgevision/internal/classify"
	"github.com/a-marczewski/fridgevision/internal/config"
	"github.com/a-marczewski/fridgevision/internal/ledger"
	"github.com/a-marczewski/fridgevision/internal/logging"
	"github.com/a-marczewski/fridgevision/internal/produce"
)

// App holds the core components of the application.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Store  ledger.Ledger
	Policy *produce.Policy
}

// NewApp loads configuration and initializes the logger, ledger, and
// shelf-life policy. The classifier is constructed separately because only
// the serve command needs one.
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := ledger.Open(cfg.LedgerBackend, cfg.LedgerPath)
	if err != nil {
		logger.Error("Failed to open ledger", zap.Error(err))
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Policy: produce.NewPolicy(cfg.ShelfLifeDays, cfg.DefaultExpiryDays),
	}, nil
}

// NewClassifier constructs the configured classifier capability. The handle
// is created once and shared read-only across all requests.
func (a *App) NewClassifier(ctx context.Context) (classify.Classifier, error) {
	switch a.Config.ClassifierProvider {
	case config.ProviderStatic:
		a.Logger.Info("Using static classifier", zap.String("label", a.Config.StaticLabel))
		return &classify.StaticClassifier{Label: a.Config.StaticLabel}, nil
	case config.ProviderGemini:
		return classify.NewGeminiClassifier(ctx, classify.GeminiOptions{
			APIKey:       a.Config.GeminiAPIKey,
			Model:        a.Config.GeminiModel,
			GCPProject:   a.Config.GCPProject,
			CacheEnabled: a.Config.CacheEnabled,
			CacheTTL:     time.Duration(a.Config.CacheTTLSeconds) * time.Second,
		}, a.Logger)
	default:
		return nil, fmt.Errorf("unknown classifier provider: %q", a.Config.ClassifierProvider)
	}
}

// Close gracefully releases application resources.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Failed to close ledger", zap.Error(err))
		}
	}
	if a.Logger != nil {
		if err := a.Logger.Sync(); err != nil {
			// Syncing stderr is expected to fail on some platforms.
			if !strings.Contains(err.Error(), "/dev/stderr") {
				fmt.Fprintf(os.Stderr, "Error syncing logger: %v\n", err)
			}
		}
	}
}

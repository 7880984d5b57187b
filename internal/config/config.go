package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultPort                   = 5051
	DefaultDataDir                = "data"
	DefaultLedgerFile             = "expiry_data.json"
	DefaultTopK                   = 3
	DefaultClassifyTimeoutSeconds = 30
	DefaultCacheTTLSeconds        = 3600
	DefaultExpiryDays             = 5
	DefaultGeminiModel            = "gemini-2.5-flash-lite"
)

// Backend names accepted for the record ledger.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Classifier provider names.
const (
	ProviderGemini = "gemini"
	ProviderStatic = "static"
)

// Config holds the application configuration.
type Config struct {
	Port                   int
	DataDir                string
	LedgerBackend          string
	LedgerPath             string
	TopK                   int
	ClassifierProvider     string
	GeminiModel            string
	GeminiAPIKey           string
	GCPProject             string
	StaticLabel            string
	ClassifyTimeoutSeconds int
	CacheEnabled           bool
	CacheTTLSeconds        int
	DefaultExpiryDays      int
	ShelfLifeDays          map[string]int
	LogLevel               string
	LogFile                string
	ConfigPath             string
}

type fileConfig struct {
	Server struct {
		Port int `toml:"port"`
	} `toml:"server"`
	Ledger struct {
		Backend string `toml:"backend"`
		Path    string `toml:"path"`
	} `toml:"ledger"`
	Classifier struct {
		Provider       string `toml:"provider"`
		Model          string `toml:"model"`
		APIKey         string `toml:"api_key"`
		GCPProject     string `toml:"gcp_project"`
		StaticLabel    string `toml:"static_label"`
		TopK           int    `toml:"top_k"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"classifier"`
	Cache struct {
		Enabled    bool `toml:"enabled"`
		TTLSeconds int  `toml:"ttl_seconds"`
	} `toml:"cache"`
	ShelfLife struct {
		DefaultDays int            `toml:"default_days"`
		Days        map[string]int `toml:"days"`
	} `toml:"shelf_life"`
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
}

// LoadConfig loads configuration from file, environment variables, and defaults.
// The config file lives at <dataDir>/config.toml; a missing file is not an error.
func LoadConfig() (*Config, error) {
	dataDir := DefaultDataDir
	if dir := os.Getenv("FRIDGEVISION_DATA_DIR"); dir != "" {
		dataDir = dir
	}
	return LoadConfigFromDir(dataDir)
}

// LoadConfigFromDir loads configuration rooted at the given data directory.
func LoadConfigFromDir(dataDir string) (*Config, error) {
	configPath := filepath.Join(dataDir, "config.toml")

	cfg := &Config{
		Port:                   DefaultPort,
		DataDir:                dataDir,
		LedgerBackend:          BackendJSON,
		LedgerPath:             "",
		TopK:                   DefaultTopK,
		ClassifierProvider:     ProviderGemini,
		GeminiModel:            DefaultGeminiModel,
		StaticLabel:            "banana",
		ClassifyTimeoutSeconds: DefaultClassifyTimeoutSeconds,
		CacheEnabled:           true,
		CacheTTLSeconds:        DefaultCacheTTLSeconds,
		DefaultExpiryDays:      DefaultExpiryDays,
		ShelfLifeDays:          nil,
		LogLevel:               "info",
		LogFile:                filepath.Join(dataDir, "logs", "fridgevision.log"),
		ConfigPath:             configPath,
	}

	if _, err := os.Stat(configPath); err == nil {
		fileData, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var parsed fileConfig
		if err := toml.Unmarshal(fileData, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
		var raw map[string]interface{}
		if err := toml.Unmarshal(fileData, &raw); err != nil {
			return nil, err
		}
		_, cacheSectionPresent := raw["cache"]

		if parsed.Server.Port != 0 {
			cfg.Port = parsed.Server.Port
		}
		if parsed.Ledger.Backend != "" {
			cfg.LedgerBackend = parsed.Ledger.Backend
		}
		if parsed.Ledger.Path != "" {
			cfg.LedgerPath = parsed.Ledger.Path
		}
		if parsed.Classifier.Provider != "" {
			cfg.ClassifierProvider = parsed.Classifier.Provider
		}
		if parsed.Classifier.Model != "" {
			cfg.GeminiModel = parsed.Classifier.Model
		}
		if parsed.Classifier.APIKey != "" {
			cfg.GeminiAPIKey = parsed.Classifier.APIKey
		}
		if parsed.Classifier.GCPProject != "" {
			cfg.GCPProject = parsed.Classifier.GCPProject
		}
		if parsed.Classifier.StaticLabel != "" {
			cfg.StaticLabel = parsed.Classifier.StaticLabel
		}
		if parsed.Classifier.TopK != 0 {
			cfg.TopK = parsed.Classifier.TopK
		}
		if parsed.Classifier.TimeoutSeconds != 0 {
			cfg.ClassifyTimeoutSeconds = parsed.Classifier.TimeoutSeconds
		}
		// Only override cache defaults if [cache] is present.
		if cacheSectionPresent {
			cfg.CacheEnabled = parsed.Cache.Enabled
			if parsed.Cache.TTLSeconds != 0 {
				cfg.CacheTTLSeconds = parsed.Cache.TTLSeconds
			}
		}
		if parsed.ShelfLife.DefaultDays != 0 {
			cfg.DefaultExpiryDays = parsed.ShelfLife.DefaultDays
		}
		if len(parsed.ShelfLife.Days) > 0 {
			cfg.ShelfLifeDays = parsed.ShelfLife.Days
		}
		if parsed.Logging.Level != "" {
			cfg.LogLevel = parsed.Logging.Level
		}
		if parsed.Logging.File != "" {
			cfg.LogFile = parsed.Logging.File
		}
	}

	applyEnvOverrides(cfg)

	if cfg.LedgerPath == "" {
		switch cfg.LedgerBackend {
		case BackendSQLite:
			cfg.LedgerPath = filepath.Join(cfg.DataDir, "expiry_data.sqlite3")
		default:
			cfg.LedgerPath = filepath.Join(cfg.DataDir, DefaultLedgerFile)
		}
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("FRIDGEVISION_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if backend := os.Getenv("FRIDGEVISION_LEDGER_BACKEND"); backend != "" {
		cfg.LedgerBackend = backend
	}
	if path := os.Getenv("FRIDGEVISION_LEDGER_PATH"); path != "" {
		cfg.LedgerPath = path
	}
	if provider := os.Getenv("FRIDGEVISION_CLASSIFIER_PROVIDER"); provider != "" {
		cfg.ClassifierProvider = provider
	}
	if model := os.Getenv("FRIDGEVISION_GEMINI_MODEL"); model != "" {
		cfg.GeminiModel = model
	}
	if key := os.Getenv("FRIDGEVISION_GEMINI_API_KEY"); key != "" {
		cfg.GeminiAPIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = key
	}
	if project := os.Getenv("FRIDGEVISION_GCP_PROJECT"); project != "" {
		cfg.GCPProject = project
	}
	if topK := os.Getenv("FRIDGEVISION_TOP_K"); topK != "" {
		if k, err := strconv.Atoi(topK); err == nil {
			cfg.TopK = k
		}
	}
	if timeout := os.Getenv("FRIDGEVISION_CLASSIFY_TIMEOUT_SECONDS"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			cfg.ClassifyTimeoutSeconds = t
		}
	}
	if cache := os.Getenv("FRIDGEVISION_CACHE_ENABLED"); cache != "" {
		cfg.CacheEnabled = cache == "true" || cache == "1"
	}
	if level := os.Getenv("FRIDGEVISION_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if logFile := os.Getenv("FRIDGEVISION_LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}
}

// Validate verifies the configuration is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.LedgerBackend != BackendJSON && c.LedgerBackend != BackendSQLite {
		return fmt.Errorf("unknown ledger backend: %q", c.LedgerBackend)
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		return fmt.Errorf("ledger path is empty")
	}
	if c.ClassifierProvider != ProviderGemini && c.ClassifierProvider != ProviderStatic {
		return fmt.Errorf("unknown classifier provider: %q", c.ClassifierProvider)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.ClassifyTimeoutSeconds <= 0 {
		return fmt.Errorf("classify timeout must be positive")
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.DefaultExpiryDays < 0 {
		return fmt.Errorf("default expiry days cannot be negative")
	}
	for name, days := range c.ShelfLifeDays {
		if days < 0 {
			return fmt.Errorf("shelf life for %q cannot be negative", name)
		}
	}
	return nil
}

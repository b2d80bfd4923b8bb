package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/retro-lab/drawing-analyzer/constants"
)

const (
	// EnvPrefix is the prefix for all environment variables, e.g.
	// DRAW_OPENROUTER_API_KEY.
	EnvPrefix = "DRAW"

	DefaultListenAddr     = ":8080"
	DefaultLogLevel       = "info"
	DefaultMaxUploadBytes = 50 * 1024 * 1024

	DefaultOCRTimeout     = 300 * time.Second
	DefaultTextTimeout    = 60 * time.Second
	DefaultOpenRouterURL  = "https://openrouter.ai/api/v1"
	DefaultGroqURL        = "https://api.groq.com/openai/v1"
	DefaultCloudURL       = "https://cloud.mail.ru"
	DefaultLanguages      = "rus+eng"
	DefaultTesseractDPI   = 300
	DefaultCloudMaxFiles  = 50
	DefaultCloudUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// Config holds all application configuration, resolved once in main()
// and threaded explicitly. Nothing re-reads the environment mid-run.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	OpenRouter OpenRouterConfig
	Groq       GroqConfig
	Tesseract  TesseractConfig
	Timeouts   TimeoutConfig
	History    HistoryConfig
	Steel      SteelConfig
	Cloud      CloudConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// OpenRouterConfig holds the OpenRouter provider configuration.
// VisionModel, when set, is moved to the front of the built-in vision
// cascade rather than replacing it.
type OpenRouterConfig struct {
	APIKey      string
	BaseURL     string
	VisionModel string
	AppURL      string
	AppTitle    string
}

// GroqConfig holds the Groq provider configuration.
type GroqConfig struct {
	APIKey  string
	BaseURL string
}

// TesseractConfig holds local OCR configuration. Languages uses the
// tesseract convention, e.g. "rus+eng".
type TesseractConfig struct {
	Languages   string
	DPI         int
	TessdataDir string
}

// TimeoutConfig holds the per-attempt ceilings, one per task kind.
type TimeoutConfig struct {
	OCR         time.Duration
	Translate   time.Duration
	Extract     time.Duration
	SteelLookup time.Duration
}

// HistoryConfig holds the run-history store configuration. An empty DSN
// disables persistence.
type HistoryConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// SteelConfig holds the steel-equivalents table configuration.
// TablePath optionally overrides the compiled-in table with a YAML file.
type SteelConfig struct {
	TablePath string
}

// CloudConfig holds the Mail.ru Cloud client configuration.
type CloudConfig struct {
	BaseURL   string
	MaxFiles  int
	UserAgent string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultListenAddr,
			MaxUploadBytes:  DefaultMaxUploadBytes,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:  DefaultOpenRouterURL,
			AppURL:   "https://github.com/retro-lab/drawing-analyzer",
			AppTitle: "Retro Drawing Analyzer",
		},
		Groq: GroqConfig{
			BaseURL: DefaultGroqURL,
		},
		Tesseract: TesseractConfig{
			Languages: DefaultLanguages,
			DPI:       DefaultTesseractDPI,
		},
		Timeouts: TimeoutConfig{
			OCR:         DefaultOCRTimeout,
			Translate:   DefaultTextTimeout,
			Extract:     DefaultTextTimeout,
			SteelLookup: DefaultTextTimeout,
		},
		History: HistoryConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Cloud: CloudConfig{
			BaseURL:   DefaultCloudURL,
			MaxFiles:  DefaultCloudMaxFiles,
			UserAgent: DefaultCloudUserAgent,
		},
	}
}

// LoadConfig resolves configuration from defaults, environment
// variables (DRAW_ prefix) and any pflag set bound beforehand via
// BindFlags.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(cfg)
	populateFromViper(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// BindFlag routes one CLI flag onto a config key so flags override
// environment variables. Call before pflag.Parse and LoadConfig.
func BindFlag(key string, f *pflag.Flag) {
	if f != nil {
		_ = viper.BindPFlag(key, f)
	}
}

func setDefaults(cfg *Config) {
	viper.SetDefault("server.addr", cfg.Server.Addr)
	viper.SetDefault("server.max_upload_bytes", cfg.Server.MaxUploadBytes)
	viper.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	viper.SetDefault("log.level", cfg.Log.Level)
	viper.SetDefault("openrouter.api_key", "")
	viper.SetDefault("openrouter.base_url", cfg.OpenRouter.BaseURL)
	viper.SetDefault("openrouter.vision_model", "")
	viper.SetDefault("openrouter.app_url", cfg.OpenRouter.AppURL)
	viper.SetDefault("openrouter.app_title", cfg.OpenRouter.AppTitle)
	viper.SetDefault("groq.api_key", "")
	viper.SetDefault("groq.base_url", cfg.Groq.BaseURL)
	viper.SetDefault("tesseract.languages", cfg.Tesseract.Languages)
	viper.SetDefault("tesseract.dpi", cfg.Tesseract.DPI)
	viper.SetDefault("tesseract.tessdata", "")
	viper.SetDefault("timeout.ocr", cfg.Timeouts.OCR)
	viper.SetDefault("timeout.translate", cfg.Timeouts.Translate)
	viper.SetDefault("timeout.extract", cfg.Timeouts.Extract)
	viper.SetDefault("timeout.steel", cfg.Timeouts.SteelLookup)
	viper.SetDefault("history.dsn", "")
	viper.SetDefault("history.max_conns", cfg.History.MaxConns)
	viper.SetDefault("history.min_conns", cfg.History.MinConns)
	viper.SetDefault("steel.table", "")
	viper.SetDefault("cloud.base_url", cfg.Cloud.BaseURL)
	viper.SetDefault("cloud.max_files", cfg.Cloud.MaxFiles)
	viper.SetDefault("cloud.user_agent", cfg.Cloud.UserAgent)
}

func populateFromViper(cfg *Config) {
	cfg.Server.Addr = viper.GetString("server.addr")
	cfg.Server.MaxUploadBytes = viper.GetInt64("server.max_upload_bytes")
	cfg.Server.ShutdownTimeout = viper.GetDuration("server.shutdown_timeout")
	cfg.Log.Level = viper.GetString("log.level")
	cfg.OpenRouter.APIKey = viper.GetString("openrouter.api_key")
	cfg.OpenRouter.BaseURL = viper.GetString("openrouter.base_url")
	cfg.OpenRouter.VisionModel = viper.GetString("openrouter.vision_model")
	cfg.OpenRouter.AppURL = viper.GetString("openrouter.app_url")
	cfg.OpenRouter.AppTitle = viper.GetString("openrouter.app_title")
	cfg.Groq.APIKey = viper.GetString("groq.api_key")
	cfg.Groq.BaseURL = viper.GetString("groq.base_url")
	cfg.Tesseract.Languages = viper.GetString("tesseract.languages")
	cfg.Tesseract.DPI = viper.GetInt("tesseract.dpi")
	cfg.Tesseract.TessdataDir = viper.GetString("tesseract.tessdata")
	cfg.Timeouts.OCR = viper.GetDuration("timeout.ocr")
	cfg.Timeouts.Translate = viper.GetDuration("timeout.translate")
	cfg.Timeouts.Extract = viper.GetDuration("timeout.extract")
	cfg.Timeouts.SteelLookup = viper.GetDuration("timeout.steel")
	cfg.History.DSN = viper.GetString("history.dsn")
	cfg.History.MaxConns = viper.GetInt32("history.max_conns")
	cfg.History.MinConns = viper.GetInt32("history.min_conns")
	cfg.Steel.TablePath = viper.GetString("steel.table")
	cfg.Cloud.BaseURL = viper.GetString("cloud.base_url")
	cfg.Cloud.MaxFiles = viper.GetInt("cloud.max_files")
	cfg.Cloud.UserAgent = viper.GetString("cloud.user_agent")
}

// For returns the per-attempt ceiling for a task kind. Unset fields
// fall back to the built-in defaults so a zero TimeoutConfig is usable.
func (t TimeoutConfig) For(kind constants.TaskKind) time.Duration {
	pick := func(d, fallback time.Duration) time.Duration {
		if d > 0 {
			return d
		}
		return fallback
	}
	switch kind {
	case constants.TaskOCR:
		return pick(t.OCR, DefaultOCRTimeout)
	case constants.TaskTranslate:
		return pick(t.Translate, DefaultTextTimeout)
	case constants.TaskStructuredExtract:
		return pick(t.Extract, DefaultTextTimeout)
	case constants.TaskSteelLookup:
		return pick(t.SteelLookup, DefaultTextTimeout)
	default:
		return DefaultTextTimeout
	}
}

// Validate checks if the configuration is valid. API keys are not
// required here: a missing key surfaces as a Fatal failure from the
// provider so local-only chains keep working.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("max upload size must be positive")
	}
	validator := NewValidator()
	validator.Field("tesseract.languages", c.Tesseract.Languages, Required, Languages)
	if validator.HasErrors() {
		return errors.New(validator.ErrorMessage())
	}
	if c.Tesseract.DPI <= 0 {
		return errors.New("tesseract dpi must be positive")
	}
	for _, d := range []time.Duration{c.Timeouts.OCR, c.Timeouts.Translate, c.Timeouts.Extract, c.Timeouts.SteelLookup} {
		if d <= 0 {
			return errors.New("task timeouts must be positive")
		}
	}
	if c.Cloud.MaxFiles <= 0 {
		return errors.New("cloud max files must be positive")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return nil
}

// Package openrouter talks to the OpenRouter chat/completions API. It backs
// three providers: vision OCR over drawing images, structured metadata
// extraction from recognized text, and technical translation. Each provider
// walks its model cascade until one model produces a usable reply.
package openrouter

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// visionCascade lists vision models in attempt order. Specialized OCR
// models come first, then strong general-purpose models, then free and
// budget fallbacks.
var visionCascade = []string{
	"qwen/qwen3-vl-32b-instruct",
	"qwen/qwen2.5-vl-72b-instruct",
	"qwen/qwen2.5-vl-32b-instruct",
	"internvl/internvl2-78b",
	"internvl/internvl2-26b",
	"internvl/internvl2-8b",
	"got-ocr/got-ocr-2.0",
	"openai/gpt-4o",
	"anthropic/claude-3.5-sonnet",
	"google/gemini-1.5-pro",
	"qwen/qwen-2-vl-72b-instruct",
	"google/gemini-2.0-flash-exp",
	"google/gemini-2.0-flash-001",
	"mistralai/pixtral-large",
	"x-ai/grok-4.1-fast:free",
	"internvl/internvl2-1b",
}

// textCascade lists text models for extraction and translation.
var textCascade = []string{
	"anthropic/claude-3.5-sonnet",
	"openai/gpt-4o",
	"google/gemini-1.5-pro",
	"google/gemini-2.0-flash-001",
}

// Config for the OpenRouter client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENROUTER_API_KEY
	BaseURL     string        // default https://openrouter.ai/api/v1
	VisionModel string        // preferred vision model, tried before the cascade
	TextModel   string        // preferred text model, tried before the cascade
	AppURL      string        // sent as HTTP-Referer
	AppTitle    string        // sent as X-Title
	Timeout     time.Duration // http client timeout
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = visionCascade[0]
	}
	if cfg.TextModel == "" {
		cfg.TextModel = textCascade[0]
	}
	if cfg.AppURL == "" {
		cfg.AppURL = "http://localhost:5000"
	}
	if cfg.AppTitle == "" {
		cfg.AppTitle = "Retro Drawing Analyzer"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Configured reports whether an API key was resolved from config or
// environment. An unconfigured client still constructs; its providers
// fail fatal before any network I/O.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
		"HTTP-Referer":  c.cfg.AppURL,
		"X-Title":       c.cfg.AppTitle,
	}
}

// cascade returns preferred first, then the rest of the fallback list
// without duplicating it.
func cascade(preferred string, fallbacks []string) []string {
	models := make([]string, 0, len(fallbacks)+1)
	models = append(models, preferred)
	for _, m := range fallbacks {
		if m != preferred {
			models = append(models, m)
		}
	}
	return models
}

// Package groq talks to the Groq chat/completions API. It backs the
// text-model OCR attempt in the recognition chain and the primary
// translation provider.
package groq

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/provider"
)

// ProviderID identifies both Groq-backed providers in chains and trails.
const ProviderID = "groq"

// ocrCascade lists models for the OCR attempt in priority order.
var ocrCascade = []string{
	"groq/compound",
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
}

// translateCascade lists models for translation in priority order.
var translateCascade = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"openai/gpt-oss-20b",
}

// Config for the Groq client.
type Config struct {
	APIKey  string        // if empty, falls back to env GROQ_API_KEY
	BaseURL string        // default https://api.groq.com/openai/v1
	Timeout time.Duration // http client timeout
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
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

// tryModel posts one system+user exchange and validates the reply. A
// rejected key aborts as fatal; other problems fall through to the next
// model in the cascade.
func (c *Client) tryModel(ctx context.Context, model, system, user string, report extract.ProgressFunc) (string, extract.Usage, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.3,
		"max_tokens":  4096,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := provider.SendJSON(ctx, c.httpClient, endpoint, payload, headers, c.log)
	if err != nil {
		if ctx.Err() != nil {
			return "", extract.Usage{}, err
		}
		if status > 0 && common.ClassifyHTTP(status) == common.FailureFatal {
			c.log.Error("groq.auth_rejected", "model", model, "status", status)
			return "", extract.Usage{}, common.Fatal(ProviderID,
				fmt.Sprintf("authorization rejected (status %d)", status), err)
		}
		c.log.Warn("groq.model.failed",
			"model", model,
			"status", status,
			"error", provider.TruncateForLog(err.Error(), 300),
		)
		report.Emit(fmt.Sprintf("model %s failed, falling back", model))
		return "", extract.Usage{}, err
	}

	content, usage, err := provider.ParseChat(raw)
	if err == nil {
		err = provider.ValidateReply(content)
	}
	if err != nil {
		c.log.Warn("groq.model.rejected", "model", model, "error", err)
		report.Emit(fmt.Sprintf("model %s failed, falling back", model))
		return "", extract.Usage{}, err
	}
	return content, usage, nil
}

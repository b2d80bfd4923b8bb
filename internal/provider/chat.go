// Package provider holds the plumbing shared by the concrete extraction
// providers: chat-completion request/response shapes, the JSON transport
// helper and model reply validation. Callers decide URLs, headers and
// payloads; nothing here assumes a particular vendor.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// ChatResponse is the subset of an OpenAI-style chat/completions reply
// that the providers consume.
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// SendJSON posts a JSON body to a full URL with optional headers and returns
// the raw response body and status code. On a non-2xx status the body is
// still returned so callers can inspect the upstream error text.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		logger.Error("provider.http.encode_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		logger.Error("provider.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("provider.http.request",
		"req_id", reqID,
		"url", url,
		"content_length", len(bs),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("provider.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn("provider.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)

	logger.Debug("provider.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}

// ParseChat decodes a chat/completions reply and returns the first choice's
// content together with token usage. An embedded error object or an empty
// choice list is reported as an error.
func ParseChat(raw []byte) (string, extract.Usage, error) {
	var cc ChatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", extract.Usage{}, fmt.Errorf("decode chat response: %w", err)
	}
	if cc.Error != nil && cc.Error.Message != "" {
		return "", extract.Usage{}, fmt.Errorf("upstream error: %s", cc.Error.Message)
	}
	if len(cc.Choices) == 0 {
		return "", extract.Usage{}, fmt.Errorf("no choices in chat response")
	}
	usage := extract.Usage{
		PromptTokens:     cc.Usage.PromptTokens,
		CompletionTokens: cc.Usage.CompletionTokens,
		TotalTokens:      cc.Usage.TotalTokens,
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), usage, nil
}

// TruncateForLog clips upstream error bodies before they hit the log or a
// progress trail.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

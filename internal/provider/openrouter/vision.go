package openrouter

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/provider"
)

// VisionProviderID identifies the vision OCR provider in chains and trails.
const VisionProviderID = "openrouter-vision"

const visionMaxTokens = 8000

// Vision returns the OCR provider backed by the vision model cascade.
func (c *Client) Vision() extract.Provider {
	return visionProvider{c}
}

type visionProvider struct {
	c *Client
}

func (p visionProvider) ID() string { return VisionProviderID }

func (p visionProvider) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	return p.c.recognizeText(ctx, in, report)
}

func (c *Client) recognizeText(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	if c.cfg.APIKey == "" {
		return extract.Result{}, common.Fatal(VisionProviderID, "api key not configured", nil)
	}

	start := time.Now()
	mimeType := in.MIME
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(in.Bytes)
	prompt := ocrPrompt(in.Languages)
	models := cascade(c.cfg.VisionModel, visionCascade)

	c.log.Info("openrouter.ocr.start",
		"bytes", len(in.Bytes),
		"mime", mimeType,
		"languages", strings.Join(in.Languages, "+"),
		"models", len(models),
	)

	var lastErr error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}

		payload := map[string]any{
			"model": model,
			"messages": []map[string]any{{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			}},
			"temperature": 0.0,
			"max_tokens":  visionMaxTokens,
		}

		content, usage, err := c.tryModel(ctx, VisionProviderID, model, payload, report)
		if err != nil {
			if common.IsFatal(err) || ctx.Err() != nil {
				return extract.Result{}, err
			}
			lastErr = err
			continue
		}

		c.log.Info("openrouter.ocr.ok",
			"model", model,
			"chars", len(content),
			"tokens", usage.TotalTokens,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return extract.Result{
			Record:   extract.TextRecord(content),
			Model:    model,
			Usage:    usage,
			Duration: time.Since(start),
		}, nil
	}

	return extract.Result{}, common.Transient(VisionProviderID, "all vision models failed", lastErr)
}

// tryModel posts one chat payload and validates the reply. HTTP statuses
// that mean the key is rejected abort the whole provider as fatal; every
// other problem is reported to the trail and returned for the caller to
// fall through on.
func (c *Client) tryModel(ctx context.Context, providerID, model string, payload map[string]any, report extract.ProgressFunc) (string, extract.Usage, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, status, err := provider.SendJSON(ctx, c.httpClient, endpoint, payload, c.headers(), c.log)
	if err != nil {
		if ctx.Err() != nil {
			return "", extract.Usage{}, err
		}
		if status > 0 && common.ClassifyHTTP(status) == common.FailureFatal {
			c.log.Error("openrouter.auth_rejected", "model", model, "status", status)
			return "", extract.Usage{}, common.Fatal(providerID,
				fmt.Sprintf("authorization rejected (status %d)", status), err)
		}
		c.log.Warn("openrouter.model.failed",
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
		c.log.Warn("openrouter.model.rejected", "model", model, "error", err)
		report.Emit(fmt.Sprintf("model %s failed, falling back", model))
		return "", extract.Usage{}, err
	}
	return content, usage, nil
}

func ocrPrompt(languages []string) string {
	return fmt.Sprintf(`Ты профессиональная OCR-система с высочайшей точностью распознавания текста. Твоя задача - извлечь ВЕСЬ текст из этого изображения технического чертежа.

КРИТИЧЕСКИ ВАЖНО:
- Языки для распознавания: %s
- Извлеки ВСЕ видимые символы, цифры, буквы, знаки
- Сохраняй точную структуру: переносы строк, абзацы, расположение
- Извлекай текст на русском и английском языках ТОЧНО как он написан
- Включай все надписи, размеры, обозначения, стандарты (ГОСТ, ОСТ, ТУ)
- Извлекай технические термины, марки материалов, номера деталей

Верни ТОЛЬКО извлеченный текст без каких-либо объяснений, комментариев или форматирования.`, provider.LanguageNames(languages))
}

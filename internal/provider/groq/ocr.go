package groq

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

// base64SampleLimit caps how much of the encoded document goes into the
// prompt. Groq models are text-only, so they see a sample, not the whole
// file.
const base64SampleLimit = 5000

const ocrSystemPrompt = "You are an expert OCR system that extracts text from documents and images."

// OCR returns the text-model OCR provider.
func (c *Client) OCR() extract.Provider {
	return ocrProvider{c}
}

type ocrProvider struct {
	c *Client
}

func (p ocrProvider) ID() string { return ProviderID }

func (p ocrProvider) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	return p.c.recognizeText(ctx, in, report)
}

func (c *Client) recognizeText(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	if c.cfg.APIKey == "" {
		return extract.Result{}, common.Fatal(ProviderID, "api key not configured", nil)
	}

	start := time.Now()
	user := ocrUserPrompt(in)

	c.log.Info("groq.ocr.start",
		"bytes", len(in.Bytes),
		"mime", in.MIME,
		"models", len(ocrCascade),
	)

	var lastErr error
	for _, model := range ocrCascade {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}

		content, usage, err := c.tryModel(ctx, model, ocrSystemPrompt, user, report)
		if err != nil {
			if common.IsFatal(err) || ctx.Err() != nil {
				return extract.Result{}, err
			}
			lastErr = err
			continue
		}

		c.log.Info("groq.ocr.ok",
			"model", model,
			"chars", len(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return extract.Result{
			Record:   extract.TextRecord(content),
			Model:    model,
			Usage:    usage,
			Duration: time.Since(start),
		}, nil
	}

	return extract.Result{}, common.Transient(ProviderID, "all models failed", lastErr)
}

func ocrUserPrompt(in extract.Input) string {
	sample := base64.StdEncoding.EncodeToString(in.Bytes)
	if len(sample) > base64SampleLimit {
		sample = sample[:base64SampleLimit]
	}
	langList := provider.LanguageNames(in.Languages)

	kind := "PDF document"
	data := "PDF data"
	if strings.HasPrefix(in.MIME, "image/") {
		kind = "image"
		data = "Image data"
	}
	return fmt.Sprintf(`You are an expert OCR system. Extract all text from this %s.
Languages to recognize: %s
Return ONLY the extracted text, preserving line breaks and structure.
Do not add any explanations or comments.

%s (base64): %s...`, kind, langList, data, sample)
}

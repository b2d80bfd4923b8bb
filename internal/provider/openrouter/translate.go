package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// TranslateProviderID identifies the translation provider.
const TranslateProviderID = "openrouter-text"

const translateMaxTokens = 2000

// Glossary pre-translates known technical terms before the text reaches
// the model.
type Glossary interface {
	Apply(text string) string
}

// Translator returns the translation provider. glossary may be nil.
func (c *Client) Translator(glossary Glossary) extract.Provider {
	return translateProvider{c: c, glossary: glossary}
}

type translateProvider struct {
	c        *Client
	glossary Glossary
}

func (p translateProvider) ID() string { return TranslateProviderID }

func (p translateProvider) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	return p.c.translate(ctx, in, p.glossary, report)
}

func (c *Client) translate(ctx context.Context, in extract.Input, glossary Glossary, report extract.ProgressFunc) (extract.Result, error) {
	if c.cfg.APIKey == "" {
		return extract.Result{}, common.Fatal(TranslateProviderID, "api key not configured", nil)
	}

	start := time.Now()
	text := in.Text
	if glossary != nil {
		text = glossary.Apply(text)
	}
	targetName := "English"
	switch strings.ToLower(in.ToLang) {
	case "ru", "rus", "russian":
		targetName = "Russian"
	}
	models := cascade(c.cfg.TextModel, textCascade)

	c.log.Info("openrouter.translate.start", "text_len", len(text), "models", len(models))

	var lastErr error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}

		payload := map[string]any{
			"model": model,
			"messages": []map[string]any{
				{"role": "user", "content": translatePrompt(text, targetName)},
			},
			"temperature": 0.3,
			"max_tokens":  translateMaxTokens,
		}

		content, usage, err := c.tryModel(ctx, TranslateProviderID, model, payload, report)
		if err != nil {
			if common.IsFatal(err) || ctx.Err() != nil {
				return extract.Result{}, err
			}
			lastErr = err
			continue
		}

		c.log.Info("openrouter.translate.ok",
			"model", model,
			"chars", len(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return extract.Result{
			Record:   extract.TextRecord(strings.TrimSpace(content)),
			Model:    model,
			Usage:    usage,
			Duration: time.Since(start),
		}, nil
	}

	return extract.Result{}, common.Transient(TranslateProviderID, "all text models failed", lastErr)
}

func translatePrompt(text, targetName string) string {
	return fmt.Sprintf(`Ты специалист по техническому переводу. Переведи следующий текст с русского на %s, используя технический глоссарий для чертежей и машиностроения.

Сохрани технические термины, стандарты (ГОСТ, ОСТ, ТУ), обозначения (Ra, посадки) в правильном формате.

Текст для перевода:
%s

Верни только переведенный текст без дополнительных объяснений.`, targetName, text)
}

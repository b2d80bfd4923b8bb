package groq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/provider"
)

const translateSystemPrompt = "You are an expert technical translator specializing in engineering and manufacturing documents."

// Glossary pre-translates known technical terms before the text reaches
// the model. Applied only for Russian to English.
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

func (p translateProvider) ID() string { return ProviderID }

func (p translateProvider) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	return p.c.translate(ctx, in, p.glossary, report)
}

func (c *Client) translate(ctx context.Context, in extract.Input, glossary Glossary, report extract.ProgressFunc) (extract.Result, error) {
	if c.cfg.APIKey == "" {
		return extract.Result{}, common.Fatal(ProviderID, "api key not configured", nil)
	}

	start := time.Now()
	from, to := translationPair(in)
	text := in.Text
	if glossary != nil && isRussian(from) && isEnglish(to) {
		text = glossary.Apply(text)
	}
	user := translateUserPrompt(text, from, to)

	c.log.Info("groq.translate.start",
		"text_len", len(text),
		"from", from,
		"to", to,
		"models", len(translateCascade),
	)

	var lastErr error
	for _, model := range translateCascade {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}

		content, usage, err := c.tryModel(ctx, model, translateSystemPrompt, user, report)
		if err != nil {
			if common.IsFatal(err) || ctx.Err() != nil {
				return extract.Result{}, err
			}
			lastErr = err
			continue
		}

		c.log.Info("groq.translate.ok",
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

	return extract.Result{}, common.Transient(ProviderID, "all models failed", lastErr)
}

func translationPair(in extract.Input) (string, string) {
	from := in.FromLang
	if from == "" {
		from = "ru"
	}
	to := in.ToLang
	if to == "" {
		to = "en"
	}
	return from, to
}

func isRussian(lang string) bool {
	switch strings.ToLower(lang) {
	case "ru", "rus", "russian":
		return true
	}
	return false
}

func isEnglish(lang string) bool {
	switch strings.ToLower(lang) {
	case "en", "eng", "english":
		return true
	}
	return false
}

func translateUserPrompt(text, from, to string) string {
	fromName := provider.LanguageNames([]string{from})
	toName := provider.LanguageNames([]string{to})
	return fmt.Sprintf(`Translate the following technical text from %s to %s.
Preserve technical terms, abbreviations, and formatting.
Return ONLY the translation, without explanations.

Text to translate:
%s`, fromName, toName, text)
}

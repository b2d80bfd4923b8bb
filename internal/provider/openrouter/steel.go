package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/steel"
)

// SteelProviderID identifies the model-backed steel lookup provider.
const SteelProviderID = "openrouter-steel"

const steelMaxTokens = 1000

// SteelLookup returns the provider that resolves steel grade
// equivalents through the text model cascade. It covers grades the
// local table does not know; the table remains the terminal tier.
func (c *Client) SteelLookup() extract.Provider {
	return steelProvider{c}
}

type steelProvider struct {
	c *Client
}

func (p steelProvider) ID() string { return SteelProviderID }

func (p steelProvider) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	return p.c.lookupSteel(ctx, in, report)
}

func (c *Client) lookupSteel(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	if c.cfg.APIKey == "" {
		return extract.Result{}, common.Fatal(SteelProviderID, "api key not configured", nil)
	}

	start := time.Now()
	models := cascade(c.cfg.TextModel, textCascade)

	c.log.Info("openrouter.steel.start", "grade", in.Text, "models", len(models))

	var lastErr error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}

		payload := map[string]any{
			"model": model,
			"messages": []map[string]any{
				{"role": "user", "content": steelPrompt(in.Text)},
			},
			"temperature": 0.0,
			"max_tokens":  steelMaxTokens,
		}

		content, usage, err := c.tryModel(ctx, SteelProviderID, model, payload, report)
		if err != nil {
			if common.IsFatal(err) || ctx.Err() != nil {
				return extract.Result{}, err
			}
			lastErr = err
			continue
		}

		res, err := decodeSteelReply(in.Text, content)
		if err != nil {
			c.log.Warn("openrouter.steel.bad_reply", "model", model, "error", err)
			report.Emit(fmt.Sprintf("model %s failed, falling back", model))
			lastErr = err
			continue
		}

		c.log.Info("openrouter.steel.ok",
			"model", model,
			"grade", res.Grade,
			"found", res.Found,
			"tokens", usage.TotalTokens,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return extract.Result{
			Record: extract.Record{
				Materials: []string{res.Grade},
				RawText:   res.Encode(),
			},
			Model:    model,
			Usage:    usage,
			Duration: time.Since(start),
		}, nil
	}

	return extract.Result{}, common.Transient(SteelProviderID, "all text models failed", lastErr)
}

// decodeSteelReply digs the JSON object out of the reply and
// canonicalizes the grade; a reply without a parsable object fails the
// model, not the chain.
func decodeSteelReply(inputGrade, content string) (steel.Result, error) {
	body, ok := jsonObject(content)
	if !ok {
		return steel.Result{}, fmt.Errorf("no json object in reply")
	}

	var res steel.Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return steel.Result{}, fmt.Errorf("unmarshal steel reply: %w", err)
	}

	if strings.TrimSpace(res.Grade) == "" {
		res.Grade = inputGrade
	}
	res.Grade = steel.Normalize(res.Grade)
	return res, nil
}

func steelPrompt(grade string) string {
	return fmt.Sprintf(`Ты специалист по металловедению и маркам сталей. Определи международные аналоги марки стали "%s".

Верни результат в формате JSON с полями:
{
  "grade": "нормализованная марка",
  "found": true,
  "gost": "стандарт ГОСТ для этой марки",
  "astm": "аналог по ASTM/AISI",
  "iso": "аналог по ISO/EN",
  "gbt": "аналог по GB/T (Китай)",
  "description": "краткое описание стали на английском"
}

Если марка неизвестна или это не марка стали, верни "found": false и пустые строки в остальных полях.
Верни ТОЛЬКО JSON без пояснений.`, grade)
}

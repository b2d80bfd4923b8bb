package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/provider"
)

// ExtractorProviderID identifies the structured extraction provider.
const ExtractorProviderID = "openrouter"

const extractMaxTokens = 2000

// Extractor returns the provider that pulls structured drawing metadata
// out of recognized text via the text model cascade.
func (c *Client) Extractor() extract.Provider {
	return extractorProvider{c}
}

type extractorProvider struct {
	c *Client
}

func (p extractorProvider) ID() string { return ExtractorProviderID }

func (p extractorProvider) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	return p.c.extractFields(ctx, in, report)
}

func (c *Client) extractFields(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	if c.cfg.APIKey == "" {
		return extract.Result{}, common.Fatal(ExtractorProviderID, "api key not configured", nil)
	}

	start := time.Now()
	schema := BuildRecordJSONSchema()
	models := cascade(c.cfg.TextModel, textCascade)

	c.log.Info("openrouter.extract.start", "text_len", len(in.Text), "models", len(models))

	var lastErr error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, err
		}

		payload := map[string]any{
			"model": model,
			"messages": []map[string]any{
				{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
				{"role": "user", "content": analyzePrompt(in.Text)},
			},
			"temperature": 0.0,
			"max_tokens":  extractMaxTokens,
		}

		content, usage, err := c.tryModel(ctx, ExtractorProviderID, model, payload, report)
		if err != nil {
			if common.IsFatal(err) || ctx.Err() != nil {
				return extract.Result{}, err
			}
			lastErr = err
			continue
		}

		rec, err := decodeRecordReply(schema, content)
		if err != nil {
			c.log.Warn("openrouter.extract.bad_reply", "model", model, "error", err)
			report.Emit(fmt.Sprintf("model %s failed, falling back", model))
			lastErr = err
			continue
		}
		if rec.RawText == "" {
			rec.RawText = in.Text
		}

		c.log.Info("openrouter.extract.ok",
			"model", model,
			"materials", len(rec.Materials),
			"standards", len(rec.Standards),
			"tokens", usage.TotalTokens,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return extract.Result{
			Record:   rec,
			Model:    model,
			Usage:    usage,
			Duration: time.Since(start),
		}, nil
	}

	return extract.Result{}, common.Transient(ExtractorProviderID, "all text models failed", lastErr)
}

// decodeRecordReply digs the JSON object out of the reply, repairs it and
// validates it against the schema before unmarshalling.
func decodeRecordReply(schema map[string]any, content string) (extract.Record, error) {
	body, ok := jsonObject(content)
	if !ok {
		return extract.Record{}, fmt.Errorf("no json object in reply")
	}

	cleaned, changed, err := SanitizeRecordJSON([]byte(body))
	if err != nil {
		return extract.Record{}, err
	}
	if err := provider.ValidateJSONAgainstSchema(schema, cleaned); err != nil {
		return extract.Record{}, fmt.Errorf("schema validation failed (repairs: %s): %w",
			strings.Join(changed, ","), err)
	}

	var rec extract.Record
	if err := json.Unmarshal(cleaned, &rec); err != nil {
		return extract.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

// jsonObject returns the span between the first "{" and the last "}".
// Models wrap JSON in prose and code fences more often than not.
func jsonObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func analyzePrompt(text string) string {
	return fmt.Sprintf(`Ты специалист по техническим чертежам. Проанализируй текст чертежа и извлеки следующую информацию:

1. Материалы (materials) - марки сталей, металлов, сплавов
2. Стандарты (standards) - ГОСТ, ОСТ, ТУ с номерами
3. Шероховатость (roughnessValues) - числовые значения Ra (например, 1.6, 3.2)
4. Посадки (fits) - обозначения посадок (например, H7/f7, H8/d9)
5. Термообработка (heatTreatments) - виды термообработки (закалка, отжиг, нормализация и т.д.)
6. Весь текст (rawText) - исходный текст без изменений

Верни результат в формате JSON с полями:
{
  "materials": ["список материалов"],
  "standards": ["список стандартов"],
  "roughnessValues": [числовые значения Ra],
  "fits": ["список посадок"],
  "heatTreatments": ["список видов термообработки"],
  "rawText": "весь текст"
}

Если какое-то поле не найдено, верни пустой массив или пустую строку.
Верни ТОЛЬКО JSON без пояснений.

Текст чертежа:
%s`, text)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

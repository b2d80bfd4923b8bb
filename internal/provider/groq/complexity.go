package groq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/provider"
)

// DecisionModel answers quick pre-flight questions about a document.
// The smallest model in the cascade; the consult must cost less than
// the time it saves.
const DecisionModel = "llama-3.1-8b-instant"

const (
	// complexitySampleLimit caps how many raw bytes are base64-encoded
	// for the consult.
	complexitySampleLimit = 50000
	// complexityPromptLimit caps how much of the encoded sample reaches
	// the prompt.
	complexityPromptLimit = 1000
)

const complexitySystemPrompt = "You are a document analysis expert. Analyze document complexity for OCR processing."

// complexityTimeout bounds the consult so a slow model cannot delay the
// run it is supposed to speed up.
const complexityTimeout = 10 * time.Second

var complexityObjectRe = regexp.MustCompile(`\{[^}]+\}`)

// AnalyzeComplexity asks the decision model to score a document sample
// in [0,1] for OCR difficulty. The returned reasoning is free text from
// the model.
func (c *Client) AnalyzeComplexity(ctx context.Context, mime string, sample []byte) (float64, string, error) {
	if c.cfg.APIKey == "" {
		return 0, "", errors.New("api key not configured")
	}

	if len(sample) > complexitySampleLimit {
		sample = sample[:complexitySampleLimit]
	}
	encoded := base64.StdEncoding.EncodeToString(sample)
	if len(encoded) > complexityPromptLimit {
		encoded = encoded[:complexityPromptLimit]
	}

	user := fmt.Sprintf(`Analyze this document sample and estimate processing complexity (0.0-1.0):
- 0.0-0.3: Simple text documents, clear fonts, few pages
- 0.3-0.6: Standard documents, some formatting, moderate pages
- 0.7-1.0: Complex documents, mixed languages, dense text, technical drawings

Document type: %s
Sample (base64): %s...

Return ONLY a JSON object: {"complexity": 0.5, "reasoning": "brief explanation"}`, mime, encoded)

	ctx, cancel := context.WithTimeout(ctx, complexityTimeout)
	defer cancel()

	payload := map[string]any{
		"model": DecisionModel,
		"messages": []map[string]any{
			{"role": "system", "content": complexitySystemPrompt},
			{"role": "user", "content": user},
		},
		"temperature": 0.1,
		"max_tokens":  200,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, _, err := provider.SendJSON(ctx, c.httpClient, endpoint, payload, headers, c.log)
	if err != nil {
		return 0, "", err
	}

	content, _, err := provider.ParseChat(raw)
	if err != nil {
		return 0, "", err
	}

	span := complexityObjectRe.FindString(content)
	if span == "" {
		return 0, "", fmt.Errorf("no json object in reply: %s", provider.TruncateForLog(content, 120))
	}
	var verdict struct {
		Complexity float64 `json:"complexity"`
		Reasoning  string  `json:"reasoning"`
	}
	verdict.Complexity = 0.5
	if err := json.Unmarshal([]byte(span), &verdict); err != nil {
		return 0, "", fmt.Errorf("decode complexity reply: %w", err)
	}
	if verdict.Reasoning == "" {
		verdict.Reasoning = "AI analysis"
	}
	return verdict.Complexity, verdict.Reasoning, nil
}

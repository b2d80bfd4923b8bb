package extract

import (
	"context"
	"time"
)

// Input is the payload for one provider attempt. OCR tasks carry Bytes
// plus a MIME hint; text tasks carry Text. Languages is the OCR
// language preference in priority order, e.g. ["rus", "eng"].
// FromLang and ToLang steer translation tasks and default to ru -> en.
type Input struct {
	Bytes     []byte
	MIME      string
	Text      string
	Languages []string
	FromLang  string
	ToLang    string
}

// Usage is the token accounting reported by the winning model of a
// network provider, zero-valued for local providers.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a successful provider attempt.
type Result struct {
	Record     Record
	Model      string // winning internal model for cascading providers
	Confidence float32
	Usage      Usage
	Pages      int
	Duration   time.Duration
	Warnings   []string
}

// ProgressFunc receives human-readable progress lines. Providers call
// it for internal model-cascade transitions; the orchestrator owns the
// run-level entries. A nil ProgressFunc is always safe to pass.
type ProgressFunc func(message string)

// Emit calls the function when non-nil.
func (f ProgressFunc) Emit(message string) {
	if f != nil {
		f(message)
	}
}

// Provider is one backing extraction capability behind a uniform call
// contract. Attempt must honor ctx for both timeout and cancellation,
// must release its underlying request on every exit path, and must
// never panic across this boundary: every internal error comes back as
// a *common.Failure value.
type Provider interface {
	ID() string
	Attempt(ctx context.Context, in Input, report ProgressFunc) (Result, error)
}

// ProviderFunc adapts a function to the Provider interface. Local
// capabilities and test fakes use it.
type ProviderFunc struct {
	Name string
	Fn   func(ctx context.Context, in Input, report ProgressFunc) (Result, error)
}

func (p ProviderFunc) ID() string { return p.Name }

func (p ProviderFunc) Attempt(ctx context.Context, in Input, report ProgressFunc) (Result, error) {
	return p.Fn(ctx, in, report)
}

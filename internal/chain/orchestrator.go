// Package chain runs one ordered provider list for one task: first
// success wins, transient failures move on, fatal failures abort, and
// the caller's context cancels everything. Every state transition lands
// in an append-only progress trail.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// Task describes one orchestrated operation. Timeout is the
// per-attempt ceiling; zero means the configured default for the kind.
type Task struct {
	Kind    constants.TaskKind
	Timeout time.Duration
}

// Outcome is the result of a successful run: the merged record plus
// provenance of the provider that satisfied the task.
type Outcome struct {
	Record     extract.Record `json:"record"`
	ProviderID string         `json:"providerId"`
	Model      string         `json:"model,omitempty"`
	Usage      extract.Usage  `json:"usage"`
	Confidence float32        `json:"confidence,omitempty"`
	Pages      int            `json:"pages,omitempty"`
	Attempts   int            `json:"attempts"`
	Duration   time.Duration  `json:"duration"`
	Trail      []Entry        `json:"trail"`
}

// PatternEngine mines structured fields out of raw text. The
// orchestrator runs it after every text-task success and merges its
// record with the winner's.
type PatternEngine interface {
	Extract(text string) extract.Record
}

// Orchestrator executes provider chains. Attempts run strictly
// sequentially; there is no speculative racing of providers.
type Orchestrator struct {
	logger   *slog.Logger
	timeouts common.TimeoutConfig
	patterns PatternEngine
}

// NewOrchestrator wires the orchestrator. patterns may be nil, which
// disables the post-success pattern merge.
func NewOrchestrator(logger *slog.Logger, timeouts common.TimeoutConfig, patterns PatternEngine) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger, timeouts: timeouts, patterns: patterns}
}

// Run tries each provider in order under a per-attempt timeout and the
// caller's cancellation, returning at the first success. onProgress,
// when non-nil, observes every trail entry as it is appended.
//
// Failure classes returned: InvalidInput (empty input, no providers
// attempted), Fatal (short-circuited chain), Cancelled, or
// AllProvidersFailed carrying the last transient reason.
func (o *Orchestrator) Run(ctx context.Context, task Task, providers []extract.Provider, in extract.Input, onProgress func(Entry)) (Outcome, error) {
	runID := common.RequestIDFromContext(ctx)
	trail := NewTrail(onProgress)
	started := time.Now()

	if err := validateInput(task.Kind, in); err != nil {
		return Outcome{}, err
	}
	if len(providers) == 0 {
		return Outcome{}, common.InvalidInput("empty provider chain")
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = o.timeouts.For(task.Kind)
	}

	o.logger.Info("chain.run.start",
		"run_id", runID,
		"task", string(task.Kind),
		"providers", len(providers),
		"timeout", timeout,
	)

	var lastTransient *common.Failure
	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			trail.Append("run cancelled")
			return Outcome{}, common.Cancelled(err)
		}

		trail.Append(fmt.Sprintf("trying provider %d/%d: %s", i+1, len(providers), p.ID()))
		o.logger.Info("chain.attempt.start", "run_id", runID, "provider", p.ID(), "attempt", i+1)

		res, err := o.attempt(ctx, p, in, timeout, trail)
		if err == nil {
			trail.Append(successMessage(p.ID(), res))
			o.logger.Info("chain.attempt.ok",
				"run_id", runID,
				"provider", p.ID(),
				"model", res.Model,
				"duration_ms", res.Duration.Milliseconds(),
			)
			record := o.mergePatterns(task.Kind, in, res.Record)
			return Outcome{
				Record:     record,
				ProviderID: p.ID(),
				Model:      res.Model,
				Usage:      res.Usage,
				Confidence: res.Confidence,
				Pages:      res.Pages,
				Attempts:   i + 1,
				Duration:   time.Since(started),
				Trail:      trail.Entries(),
			}, nil
		}

		failure := o.classify(ctx, p.ID(), err)
		switch failure.Class {
		case common.FailureCancelled:
			trail.Append("run cancelled")
			o.logger.Info("chain.run.cancelled", "run_id", runID, "provider", p.ID())
			return Outcome{}, failure
		case common.FailureFatal:
			trail.Append(fmt.Sprintf("%s failed: %s", p.ID(), failure.Reason))
			o.logger.Error("chain.run.fatal", "run_id", runID, "provider", p.ID(), "reason", failure.Reason)
			return Outcome{}, failure
		default:
			trail.Append(fmt.Sprintf("%s failed: %s, trying next", p.ID(), failure.Reason))
			o.logger.Warn("chain.attempt.failed",
				"run_id", runID,
				"provider", p.ID(),
				"reason", failure.Reason,
				"err", err,
			)
			lastTransient = failure
		}
	}

	trail.Append(fmt.Sprintf("all %d providers failed", len(providers)))
	o.logger.Error("chain.run.exhausted", "run_id", runID, "task", string(task.Kind), "attempts", len(providers))
	return Outcome{}, common.Exhausted(lastTransient)
}

// attempt executes one provider under its own deadline. The deadline
// context is always cancelled on return so the underlying request is
// released on every exit path. A panicking provider is contained here
// and surfaces as a transient failure.
func (o *Orchestrator) attempt(ctx context.Context, p extract.Provider, in extract.Input, timeout time.Duration, trail *Trail) (res extract.Result, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = common.Transient(p.ID(), "provider panicked", fmt.Errorf("%v", r))
		}
	}()

	started := time.Now()
	res, err = p.Attempt(attemptCtx, in, trail.Append)
	if err == nil && res.Duration == 0 {
		res.Duration = time.Since(started)
	}
	return res, err
}

// classify maps an attempt error onto the failure taxonomy. The outer
// context is consulted first: caller cancellation takes precedence over
// whatever the provider reported.
func (o *Orchestrator) classify(ctx context.Context, providerID string, err error) *common.Failure {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return common.Cancelled(ctxErr)
	}
	if f, ok := common.AsFailure(err); ok {
		return f
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return common.ClassifyContext(providerID, err)
	}
	return common.Transient(providerID, "attempt failed", err)
}

// mergePatterns folds the lexical extraction of the source text into
// the winner's record. OCR tasks have no text input to mine; their text
// goes through a separate structured-extraction run.
func (o *Orchestrator) mergePatterns(kind constants.TaskKind, in extract.Input, aiRecord extract.Record) extract.Record {
	if o.patterns == nil || !kind.IsTextTask() {
		return aiRecord.Normalized()
	}
	return extract.Merge(aiRecord, o.patterns.Extract(in.Text))
}

func validateInput(kind constants.TaskKind, in extract.Input) error {
	if kind == constants.TaskOCR {
		if len(in.Bytes) == 0 {
			return common.InvalidInput("empty document input")
		}
		return nil
	}
	if in.Text == "" {
		return common.InvalidInput("empty text input")
	}
	return nil
}

func successMessage(providerID string, res extract.Result) string {
	msg := providerID + " succeeded"
	if res.Model != "" {
		msg += fmt.Sprintf(" (model=%s)", res.Model)
	}
	if res.Usage.TotalTokens > 0 {
		msg += fmt.Sprintf(" (tokens=%d)", res.Usage.TotalTokens)
	}
	if res.Confidence > 0 {
		msg += fmt.Sprintf(" (confidence=%.2f)", res.Confidence)
	}
	return msg
}

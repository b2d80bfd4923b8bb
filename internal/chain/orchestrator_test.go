package chain

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

type fakeProvider struct {
	id    string
	calls atomic.Int32
	fn    func(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error)
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, in, report)
}

func succeeding(id string, rec extract.Record) *fakeProvider {
	return &fakeProvider{id: id, fn: func(context.Context, extract.Input, extract.ProgressFunc) (extract.Result, error) {
		return extract.Result{Record: rec}, nil
	}}
}

func transient(id, reason string) *fakeProvider {
	return &fakeProvider{id: id, fn: func(context.Context, extract.Input, extract.ProgressFunc) (extract.Result, error) {
		return extract.Result{}, common.Transient(id, reason, nil)
	}}
}

func blocking(id string) *fakeProvider {
	return &fakeProvider{id: id, fn: func(ctx context.Context, _ extract.Input, _ extract.ProgressFunc) (extract.Result, error) {
		<-ctx.Done()
		return extract.Result{}, ctx.Err()
	}}
}

func newTestOrchestrator(patterns PatternEngine) *Orchestrator {
	return NewOrchestrator(slog.New(slog.DiscardHandler), common.TimeoutConfig{}, patterns)
}

func textTask() Task {
	return Task{Kind: constants.TaskStructuredExtract}
}

func textInput(s string) extract.Input {
	return extract.Input{Text: s}
}

func TestRunFirstSuccessWins(t *testing.T) {
	p1 := transient("p1", "boom")
	p2 := succeeding("p2", extract.TextRecord("ok"))
	p3 := succeeding("p3", extract.TextRecord("never"))

	out, err := newTestOrchestrator(nil).Run(context.Background(), textTask(),
		[]extract.Provider{p1, p2, p3}, textInput("вход"), nil)

	require.NoError(t, err)
	assert.Equal(t, "p2", out.ProviderID)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, int32(0), p3.calls.Load())
}

func TestRunFatalShortCircuits(t *testing.T) {
	p1 := &fakeProvider{id: "p1", fn: func(context.Context, extract.Input, extract.ProgressFunc) (extract.Result, error) {
		return extract.Result{}, common.Fatal("p1", "missing api key", nil)
	}}
	p2 := succeeding("p2", extract.TextRecord("ok"))

	_, err := newTestOrchestrator(nil).Run(context.Background(), textTask(),
		[]extract.Provider{p1, p2}, textInput("вход"), nil)

	require.Error(t, err)
	assert.True(t, common.IsFatal(err))
	assert.Equal(t, int32(0), p2.calls.Load())
}

func TestRunTimeoutIsTransientAndBounded(t *testing.T) {
	p1 := blocking("p1")
	p2 := succeeding("p2", extract.TextRecord("ok"))

	started := time.Now()
	task := Task{Kind: constants.TaskStructuredExtract, Timeout: 30 * time.Millisecond}
	out, err := newTestOrchestrator(nil).Run(context.Background(), task,
		[]extract.Provider{p1, p2}, textInput("вход"), nil)

	require.NoError(t, err)
	assert.Equal(t, "p2", out.ProviderID)
	assert.Less(t, time.Since(started), time.Second)
	assert.Contains(t, out.Trail[1].Message, "p1 failed: attempt timed out, trying next")
}

func TestRunTimeoutExhaustionCarriesReason(t *testing.T) {
	task := Task{Kind: constants.TaskStructuredExtract, Timeout: 20 * time.Millisecond}

	_, err := newTestOrchestrator(nil).Run(context.Background(), task,
		[]extract.Provider{blocking("p1")}, textInput("вход"), nil)

	require.Error(t, err)
	assert.True(t, common.IsExhausted(err))
	assert.Contains(t, err.Error(), "attempt timed out")
}

func TestRunCancellationBeatsExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p1 := &fakeProvider{id: "p1", fn: func(context.Context, extract.Input, extract.ProgressFunc) (extract.Result, error) {
		cancel() // caller withdraws while the first attempt is failing
		return extract.Result{}, common.Transient("p1", "boom", nil)
	}}
	p2 := succeeding("p2", extract.TextRecord("ok"))

	_, err := newTestOrchestrator(nil).Run(ctx, textTask(),
		[]extract.Provider{p1, p2}, textInput("вход"), nil)

	require.Error(t, err)
	assert.True(t, common.IsCancelled(err))
	assert.False(t, common.IsExhausted(err))
	assert.Equal(t, int32(0), p2.calls.Load())
}

func TestRunCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := succeeding("p1", extract.TextRecord("ok"))

	_, err := newTestOrchestrator(nil).Run(ctx, textTask(),
		[]extract.Provider{p1}, textInput("вход"), nil)

	require.Error(t, err)
	assert.True(t, common.IsCancelled(err))
	assert.Equal(t, int32(0), p1.calls.Load())
}

func TestRunEmptyInputFailsFast(t *testing.T) {
	p1 := succeeding("p1", extract.TextRecord("ok"))

	tests := []struct {
		name string
		task Task
		in   extract.Input
	}{
		{"empty text", textTask(), extract.Input{}},
		{"empty bytes for ocr", Task{Kind: constants.TaskOCR}, extract.Input{MIME: "application/pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestOrchestrator(nil).Run(context.Background(), tt.task,
				[]extract.Provider{p1}, tt.in, nil)

			require.Error(t, err)
			assert.True(t, common.IsInvalidInput(err))
		})
	}
	assert.Equal(t, int32(0), p1.calls.Load())
}

func TestRunEmptyChainIsInvalidInput(t *testing.T) {
	_, err := newTestOrchestrator(nil).Run(context.Background(), textTask(), nil, textInput("вход"), nil)

	require.Error(t, err)
	assert.True(t, common.IsInvalidInput(err))
}

func TestRunExhaustionCarriesLastTransient(t *testing.T) {
	p1 := transient("p1", "first reason")
	p2 := transient("p2", "second reason")

	_, err := newTestOrchestrator(nil).Run(context.Background(), textTask(),
		[]extract.Provider{p1, p2}, textInput("вход"), nil)

	require.Error(t, err)
	assert.True(t, common.IsExhausted(err))
	assert.Contains(t, err.Error(), "p2")
	assert.Contains(t, err.Error(), "second reason")
	assert.NotContains(t, err.Error(), "first reason")
}

func TestRunProgressTrailOrder(t *testing.T) {
	p1 := transient("p1", "boom")
	p2 := succeeding("p2", extract.TextRecord("ok"))

	var observed []string
	out, err := newTestOrchestrator(nil).Run(context.Background(), textTask(),
		[]extract.Provider{p1, p2}, textInput("вход"), func(e Entry) {
			observed = append(observed, e.Message)
		})

	require.NoError(t, err)
	want := []string{
		"trying provider 1/2: p1",
		"p1 failed: boom, trying next",
		"trying provider 2/2: p2",
		"p2 succeeded",
	}
	assert.Equal(t, want, observed)

	got := make([]string, len(out.Trail))
	for i, e := range out.Trail {
		got[i] = e.Message
	}
	assert.Equal(t, want, got)
}

func TestRunProviderSubProgressLandsInTrail(t *testing.T) {
	p1 := &fakeProvider{id: "p1", fn: func(_ context.Context, _ extract.Input, report extract.ProgressFunc) (extract.Result, error) {
		report.Emit("model qwen failed, falling back")
		return extract.Result{Record: extract.TextRecord("ok")}, nil
	}}

	out, err := newTestOrchestrator(nil).Run(context.Background(), textTask(),
		[]extract.Provider{p1}, textInput("вход"), nil)

	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out.Trail), 3)
	assert.Equal(t, "model qwen failed, falling back", out.Trail[1].Message)
}

type fixedPatterns struct {
	rec extract.Record
}

func (f fixedPatterns) Extract(string) extract.Record { return f.rec }

func TestRunMergesPatternRecordOnTextTasks(t *testing.T) {
	ai := extract.Record{Materials: []string{"X"}, RawText: "ai text"}
	patterns := fixedPatterns{rec: extract.Record{Materials: []string{"X", "Y"}}}
	p1 := succeeding("p1", ai)

	out, err := newTestOrchestrator(patterns).Run(context.Background(), textTask(),
		[]extract.Provider{p1}, textInput("вход"), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, out.Record.Materials)
	assert.Equal(t, "ai text", out.Record.RawText)
}

func TestRunSkipsPatternMergeForOCR(t *testing.T) {
	patterns := fixedPatterns{rec: extract.Record{Materials: []string{"Y"}}}
	p1 := succeeding("ocr", extract.TextRecord("распознанный текст"))

	out, err := newTestOrchestrator(patterns).Run(context.Background(),
		Task{Kind: constants.TaskOCR},
		[]extract.Provider{p1}, extract.Input{Bytes: []byte{0x25, 0x50}, MIME: "application/pdf"}, nil)

	require.NoError(t, err)
	assert.Empty(t, out.Record.Materials)
	assert.Equal(t, "распознанный текст", out.Record.RawText)
}

func TestRunContainsPanickingProvider(t *testing.T) {
	p1 := &fakeProvider{id: "p1", fn: func(context.Context, extract.Input, extract.ProgressFunc) (extract.Result, error) {
		panic("broken adapter")
	}}
	p2 := succeeding("p2", extract.TextRecord("ok"))

	out, err := newTestOrchestrator(nil).Run(context.Background(), textTask(),
		[]extract.Provider{p1, p2}, textInput("вход"), nil)

	require.NoError(t, err)
	assert.Equal(t, "p2", out.ProviderID)
	assert.Contains(t, out.Trail[1].Message, "provider panicked")
}

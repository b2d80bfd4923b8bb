package async

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestQueueProcessesAllJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	handler := func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.Path)
		return nil
	}

	q := NewQueue(handler, testLogger(), WithWorkers(2), WithQueueSize(8))
	q.Start(context.Background())

	paths := []string{"a.pdf", "b.png", "c.pdf", "d.jpg", "e.tif"}
	for _, p := range paths {
		require.NoError(t, q.Enqueue(context.Background(), Job{Path: p}))
	}
	q.Shutdown(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, paths, seen)
}

func TestEnqueueAfterShutdownFails(t *testing.T) {
	q := NewQueue(func(context.Context, Job) error { return nil }, testLogger())
	q.Start(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{Path: "late.pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shut down")
}

func TestJobsRunUnderTimeout(t *testing.T) {
	deadlines := make(chan bool, 1)
	handler := func(ctx context.Context, _ Job) error {
		_, ok := ctx.Deadline()
		deadlines <- ok
		return nil
	}

	q := NewQueue(handler, testLogger(), WithWorkers(1), WithJobTimeout(time.Second))
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), Job{Path: "a.pdf"}))
	q.Shutdown(context.Background())

	assert.True(t, <-deadlines, "handler context must carry the job timeout")
}

func TestHandlerErrorDoesNotStopPool(t *testing.T) {
	var (
		mu   sync.Mutex
		seen int
	)
	handler := func(_ context.Context, job Job) error {
		mu.Lock()
		seen++
		mu.Unlock()
		if job.Path == "bad.pdf" {
			return assert.AnError
		}
		return nil
	}

	q := NewQueue(handler, testLogger(), WithWorkers(1))
	q.Start(context.Background())
	for _, p := range []string{"bad.pdf", "good.pdf"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{Path: p}))
	}
	q.Shutdown(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, seen)
}

func TestCancelledContextStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(func(context.Context, Job) error { return nil }, testLogger(), WithWorkers(2))
	q.Start(ctx)

	cancel()
	done := make(chan struct{})
	go func() {
		q.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return after cancellation")
	}
}

func TestEnqueueStampsSubmissionTime(t *testing.T) {
	captured := make(chan Job, 1)
	q := NewQueue(func(_ context.Context, job Job) error {
		captured <- job
		return nil
	}, testLogger(), WithWorkers(1))
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{Path: "a.pdf"}))
	q.Shutdown(context.Background())

	job := <-captured
	assert.False(t, job.SubmittedAt.IsZero())
}

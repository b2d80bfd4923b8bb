package chain

import (
	"sync"
	"time"
)

// Entry is one timestamped, human-readable progress line.
type Entry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Trail is the append-only progress log of one pipeline run. The
// orchestrator is its only writer; an observer callback and snapshot
// reads may happen from other goroutines, hence the mutex. Entries are
// never removed or rewritten.
type Trail struct {
	mu       sync.Mutex
	entries  []Entry
	observer func(Entry)
	now      func() time.Time
}

// NewTrail creates a trail. observer, when non-nil, receives every
// entry synchronously in append order.
func NewTrail(observer func(Entry)) *Trail {
	return &Trail{observer: observer, now: time.Now}
}

// Append adds one entry and notifies the observer.
func (t *Trail) Append(message string) {
	t.mu.Lock()
	entry := Entry{At: t.now(), Message: message}
	t.entries = append(t.entries, entry)
	observer := t.observer
	t.mu.Unlock()

	if observer != nil {
		observer(entry)
	}
}

// Entries returns a snapshot copy in append order.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Messages returns just the text of every entry, in order.
func (t *Trail) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Message
	}
	return out
}

// Len reports the number of entries appended so far.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

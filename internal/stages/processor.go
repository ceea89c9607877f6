// Package stages implements the per-stage processors the orchestrator invokes
// on claimed work batches.
package stages

import (
	"context"
	"sync"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// Processor handles one pipeline stage's claimed batch. Per-item failures are
// contained inside Process; a returned error means the whole batch could not
// run and the orchestrator should log and move on.
type Processor interface {
	Stage() pipeline.Stage
	Process(ctx context.Context, items []pipeline.WorkItem) error
}

// failureTracker counts consecutive per-item failures so a processor can stop
// retrying an item that keeps failing. Failures reset on the first success.
type failureTracker struct {
	ceiling int

	mu     sync.Mutex
	counts map[int64]int
}

func newFailureTracker(ceiling int) *failureTracker {
	if ceiling <= 0 {
		ceiling = 3
	}
	return &failureTracker{ceiling: ceiling, counts: make(map[int64]int)}
}

// fail records one failure and reports whether the ceiling has been reached.
// Reaching the ceiling clears the counter so a later retry starts fresh.
func (t *failureTracker) fail(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[id]++
	if t.counts[id] >= t.ceiling {
		delete(t.counts, id)
		return true
	}
	return false
}

func (t *failureTracker) reset(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, id)
}

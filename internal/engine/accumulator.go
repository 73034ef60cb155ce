package engine

import (
	"errors"
	"slices"
	"sync"

	"github.com/xz-dev/AdGuardHome-LogSync/internal/model"
)

// ErrSealed is returned when the accumulator is used after traversal began.
var ErrSealed = errors.New("accumulator already traversed")

// Accumulator holds every accepted record of a merge run in sorted runs.
// All mutation happens under one mutex. Runs are kept in decreasing size
// order; whenever the newest run grows to at least half of the one before
// it, the two are merged. The run count therefore stays logarithmic and an
// insert never re-sorts records that are already stored.
type Accumulator struct {
	mu     sync.Mutex
	runs   [][]model.LogRecord
	count  int
	sealed bool
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// InsertBatch adds records to the accumulator.
// The caller may reuse the slice after the call returns.
func (a *Accumulator) InsertBatch(records []model.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Sort outside the lock; only the merge step is shared.
	run := slices.Clone(records)
	slices.SortFunc(run, model.Compare)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return ErrSealed
	}

	a.runs = append(a.runs, run)
	a.count += len(run)

	for n := len(a.runs); n >= 2 && len(a.runs[n-2]) <= 2*len(a.runs[n-1]); n = len(a.runs) {
		merged := mergeRuns(a.runs[n-2], a.runs[n-1])
		a.runs[n-2] = merged
		a.runs[n-1] = nil
		a.runs = a.runs[:n-1]
	}
	return nil
}

// Len returns the number of stored records.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Traverse seals the accumulator and returns a one-shot ordered cursor
// over its contents. Call it only after every producer has finished.
func (a *Accumulator) Traverse() (*Cursor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return nil, ErrSealed
	}
	a.sealed = true

	runs := a.runs
	a.runs = nil
	return newCursor(runs, a.count), nil
}

// mergeRuns merges two sorted runs into a new sorted run.
// On equal keys the record from a comes first.
func mergeRuns(a, b []model.LogRecord) []model.LogRecord {
	out := make([]model.LogRecord, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if model.Compare(b[j], a[i]) < 0 {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

package engine

import (
	"container/heap"

	"github.com/xz-dev/AdGuardHome-LogSync/internal/model"
)

// Cursor walks the accumulator contents in ascending (Key, Payload) order.
// It is single-use and not safe for concurrent use.
type Cursor struct {
	heads runHeap
	curr  model.LogRecord
	total int
}

func newCursor(runs [][]model.LogRecord, total int) *Cursor {
	c := &Cursor{total: total}
	for _, r := range runs {
		if len(r) > 0 {
			c.heads = append(c.heads, r)
		}
	}
	heap.Init(&c.heads)
	return c
}

// Next advances to the next record. It returns false once exhausted.
func (c *Cursor) Next() bool {
	if len(c.heads) == 0 {
		c.curr = model.LogRecord{}
		return false
	}
	run := c.heads[0]
	c.curr = run[0]
	// Drop the reference so consumed records can be collected.
	run[0] = model.LogRecord{}
	if len(run) == 1 {
		heap.Pop(&c.heads)
	} else {
		c.heads[0] = run[1:]
		heap.Fix(&c.heads, 0)
	}
	return true
}

// Record returns the record at the current position.
func (c *Cursor) Record() model.LogRecord {
	return c.curr
}

// Len returns the total number of records the cursor yields.
func (c *Cursor) Len() int {
	return c.total
}

// runHeap is a min-heap of non-empty sorted runs keyed by their head.
type runHeap [][]model.LogRecord

func (h runHeap) Len() int           { return len(h) }
func (h runHeap) Less(i, j int) bool { return model.Less(h[i][0], h[j][0]) }
func (h runHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *runHeap) Push(x any) {
	*h = append(*h, x.([]model.LogRecord))
}

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// Package remap implements the two structures that make the transform's
// forward-reference problem tractable: CompactRemapTable, a dense
// source→target id mapping stored as sorted runs, and RemapContext, which
// owns one such table per entity kind and resolves polymorphic entity
// references (including relationship endpoints) across them.
package remap

import (
	"fmt"
	"sort"
	"sync"

	"idxform/pkg/xid"
)

// Run is one contiguous source→target mapping: every id in
// [From, From+Length) maps to the corresponding id in [To, To+Length).
type Run struct {
	From   xid.Id
	To     xid.Id
	Length uint64
}

// ErrOverlap is returned when a Put would overlap an existing run. Per the
// design, this is always a fatal programming error — the orchestrator
// never remaps the same source id twice.
type ErrOverlap struct {
	Src      xid.Id
	Existing Run
}

func (e ErrOverlap) Error() string {
	return fmt.Sprintf("remap: source id %s overlaps existing run %+v", e.Src, e.Existing)
}

// Table is the CompactRemapTable of the design: a sorted, non-overlapping
// list of runs supporting point lookup and bulk enumeration.
type Table struct {
	mu   sync.Mutex
	runs []Run
}

// NewTable constructs an empty remap table.
func NewTable() *Table {
	return &Table{}
}

// Put records a source→target mapping, extending the run immediately
// preceding src when the new pair is contiguous with it, and otherwise
// inserting a new single-id run at its sorted position. Runs are kept
// sorted by From regardless of insertion order — the well-known-id seeding
// in NewContext and any subsequent element id can land anywhere relative
// to runs already present — so overlap is checked against the run that
// actually precedes src, not merely the most recently appended one.
func (t *Table) Put(src, tgt xid.Id) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.runs), func(i int) bool { return t.runs[i].From > src })
	if i > 0 {
		pred := &t.runs[i-1]
		if uint64(src) < uint64(pred.From)+pred.Length {
			return ErrOverlap{Src: src, Existing: *pred}
		}
		if uint64(src) == uint64(pred.From)+pred.Length && uint64(tgt) == uint64(pred.To)+pred.Length {
			pred.Length++
			return nil
		}
	}
	t.runs = append(t.runs, Run{})
	copy(t.runs[i+1:], t.runs[i:])
	t.runs[i] = Run{From: src, To: tgt, Length: 1}
	return nil
}

// Get resolves a source id to its target id via binary search over the
// sorted run list. The second return value is false when no run covers
// the requested id.
func (t *Table) Get(src xid.Id) (xid.Id, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.runs), func(i int) bool {
		return t.runs[i].From > src
	})
	if i == 0 {
		return xid.InvalidId, false
	}
	run := t.runs[i-1]
	if uint64(src) >= uint64(run.From)+run.Length {
		return xid.InvalidId, false
	}
	return xid.Id(uint64(run.To) + (uint64(src) - uint64(run.From))), true
}

// Runs returns a copy of the sorted run list, used by the orchestrator to
// bulk-insert the table's contents into a temp SQL table between passes.
func (t *Table) Runs() []Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Run, len(t.runs))
	copy(out, t.runs)
	return out
}

// Len returns the number of runs currently stored, used for metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}

// replaceRuns swaps in an entirely new run list, used by LoadState to
// restore a table from a saved state file without copying the mutex.
func (t *Table) replaceRuns(runs []Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs = runs
}

// Count returns the total number of mapped ids across all runs.
func (t *Table) Count() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n uint64
	for _, r := range t.runs {
		n += r.Length
	}
	return n
}

package engine

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// DependencyTracker records which regions each code cell's last
// evaluation read, and answers "which code cells must recompute when a
// region changes".
//
// Edges are (read region -> computing cell) pairs. The edges for a code
// cell are replaced wholesale on every re-evaluation: stale edges from a
// prior evaluation never linger. For async evaluations the edges are
// recorded at request-issue time, not at resolution time.
//
// The tracker is exclusively owned by the executor; it is not safe for
// concurrent use.
type DependencyTracker struct {
	// reads maps each computing code cell to the regions it read.
	reads map[grid.SheetPos][]grid.SheetRect
}

// NewDependencyTracker creates an empty tracker.
func NewDependencyTracker() *DependencyTracker {
	return &DependencyTracker{reads: make(map[grid.SheetPos][]grid.SheetRect)}
}

// RecordAccess replaces all edges whose destination is cell with the
// given read regions. An empty reads list clears the cell's edges.
func (t *DependencyTracker) RecordAccess(cell grid.SheetPos, reads []grid.SheetRect) {
	if len(reads) == 0 {
		delete(t.reads, cell)
		return
	}
	t.reads[cell] = append([]grid.SheetRect(nil), reads...)
}

// Clear removes all edges for a code cell. Called when the cell stops
// being a code cell (overwritten or its sheet deleted).
func (t *DependencyTracker) Clear(cell grid.SheetPos) {
	delete(t.reads, cell)
}

// DependentsOf returns the set of code cells whose recorded read
// regions intersect any of the changed regions.
func (t *DependencyTracker) DependentsOf(changed []grid.SheetRect) mapset.Set[grid.SheetPos] {
	out := mapset.NewThreadUnsafeSet[grid.SheetPos]()
	if len(changed) == 0 {
		return out
	}
	for cell, reads := range t.reads {
		for _, read := range reads {
			if intersectsAny(read, changed) {
				out.Add(cell)
				break
			}
		}
	}
	return out
}

// ReadsOf returns the regions recorded for a code cell, nil if none.
// Used by tests and the round-trip equality check.
func (t *DependencyTracker) ReadsOf(cell grid.SheetPos) []grid.SheetRect {
	return t.reads[cell]
}

// EdgeCount returns the number of code cells with recorded reads.
func (t *DependencyTracker) EdgeCount() int {
	return len(t.reads)
}

// SelfReads reports whether any read region covers the computing cell
// itself - a direct circular reference, rejected at evaluation time.
func SelfReads(cell grid.SheetPos, reads []grid.SheetRect) bool {
	return intersectsAny(grid.SheetRectAt(cell), reads)
}

func intersectsAny(r grid.SheetRect, rs []grid.SheetRect) bool {
	for _, o := range rs {
		if r.Intersects(o) {
			return true
		}
	}
	return false
}

// sortCells orders cells row-major within sheet id order, giving the
// cascade a deterministic recompute order.
func sortCells(cells []grid.SheetPos) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.SheetID != b.SheetID {
			return a.SheetID < b.SheetID
		}
		if a.Pos.Y != b.Pos.Y {
			return a.Pos.Y < b.Pos.Y
		}
		return a.Pos.X < b.Pos.X
	})
}

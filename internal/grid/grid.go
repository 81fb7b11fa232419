// Package grid holds the in-memory spreadsheet state the transaction
// engine mutates: sheets of sparse cells, formats, borders, validations,
// and axis sizing.
//
// The grid performs no recomputation and no I/O. It is exclusively owned
// by one executor instance; all mutations flow through operations so
// every change is captured with its inverse.
package grid

import (
	"fmt"
	"sort"
)

// Grid is one document's full in-memory state.
type Grid struct {
	sheets map[SheetID]*Sheet
}

// New creates an empty grid with no sheets.
func New() *Grid {
	return &Grid{sheets: make(map[SheetID]*Sheet)}
}

// Sheet returns the sheet with the given id, or an error naming the
// stale id. Callers treat the error as a validation failure.
func (g *Grid) Sheet(id SheetID) (*Sheet, error) {
	s, ok := g.sheets[id]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", id)
	}
	return s, nil
}

// HasSheet reports whether a sheet with the given id exists.
func (g *Grid) HasSheet(id SheetID) bool {
	_, ok := g.sheets[id]
	return ok
}

// SheetByName returns the sheet with the given user-visible name, or nil.
func (g *Grid) SheetByName(name string) *Sheet {
	for _, s := range g.sheets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddSheet inserts a sheet. The id and name must both be unused.
func (g *Grid) AddSheet(s *Sheet) error {
	if _, ok := g.sheets[s.ID]; ok {
		return fmt.Errorf("sheet %q already exists", s.ID)
	}
	if g.SheetByName(s.Name) != nil {
		return fmt.Errorf("sheet name %q already in use", s.Name)
	}
	g.sheets[s.ID] = s
	return nil
}

// DeleteSheet removes a sheet and returns it so the caller can capture
// its contents for the reverse operation.
func (g *Grid) DeleteSheet(id SheetID) (*Sheet, error) {
	s, ok := g.sheets[id]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", id)
	}
	delete(g.sheets, id)
	return s, nil
}

// RenameSheet changes a sheet's user-visible name, enforcing uniqueness.
// Returns the prior name.
func (g *Grid) RenameSheet(id SheetID, name string) (string, error) {
	s, ok := g.sheets[id]
	if !ok {
		return "", fmt.Errorf("sheet %q not found", id)
	}
	if other := g.SheetByName(name); other != nil && other.ID != id {
		return "", fmt.Errorf("sheet name %q already in use", name)
	}
	prev := s.Name
	s.Name = name
	return prev, nil
}

// SheetCount returns the number of sheets.
func (g *Grid) SheetCount() int {
	return len(g.sheets)
}

// Sheets returns all sheets ordered by their sheet-bar position, ties
// broken by id for determinism.
func (g *Grid) Sheets() []*Sheet {
	out := make([]*Sheet, 0, len(g.sheets))
	for _, s := range g.sheets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cell returns the value at sp, Blank{} for an empty cell, or an error
// for a stale sheet id.
func (g *Grid) Cell(sp SheetPos) (CellValue, error) {
	s, err := g.Sheet(sp.SheetID)
	if err != nil {
		return nil, err
	}
	return s.Cell(sp.Pos), nil
}

// Clone returns a deep copy of the whole grid. Used by tests comparing
// pre- and post-roundtrip state.
func (g *Grid) Clone() *Grid {
	c := New()
	for id, s := range g.sheets {
		c.sheets[id] = s.Clone()
	}
	return c
}

// Equal reports observable equality of two grids.
func (g *Grid) Equal(o *Grid) bool {
	if len(g.sheets) != len(o.sheets) {
		return false
	}
	for id, s := range g.sheets {
		os, ok := o.sheets[id]
		if !ok || !s.Equal(os) {
			return false
		}
	}
	return true
}

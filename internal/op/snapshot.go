package op

import (
	"sort"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// SheetSnapshot is the wire-portable capture of one sheet's complete
// contents. Entries are sorted by position (row-major) so the same sheet
// always serializes identically on every client.
type SheetSnapshot struct {
	ID          grid.SheetID      `json:"id"`
	Name        string            `json:"name"`
	Order       int               `json:"order"`
	Cells       []CellEntry       `json:"cells,omitempty"`
	Formats     []FormatEntry     `json:"formats,omitempty"`
	Borders     []BorderEntry     `json:"borders,omitempty"`
	Validations []ValidationEntry `json:"validations,omitempty"`
	ColWidths   []AxisSize        `json:"col_widths,omitempty"`
	RowHeights  []AxisSize        `json:"row_heights,omitempty"`
}

// AxisSize pairs a column or row index with its explicit size.
type AxisSize struct {
	Index int64   `json:"index"`
	Size  float64 `json:"size"`
}

// Snapshot captures a sheet into its wire-portable form. Every sparse
// map is walked independently: a format, border, validation, or axis
// size on an otherwise empty position is still part of the sheet and
// must survive a delete/undo round trip.
func Snapshot(s *grid.Sheet) SheetSnapshot {
	snap := SheetSnapshot{ID: s.ID, Name: s.Name, Order: s.Order}

	s.EachCell(func(p grid.Pos, v grid.CellValue) {
		snap.Cells = append(snap.Cells, CellEntry{Pos: p, Value: v})
	})
	s.EachFormat(func(p grid.Pos, f *grid.Format) {
		snap.Formats = append(snap.Formats, FormatEntry{Pos: p, Format: f.Clone()})
	})
	s.EachBorders(func(p grid.Pos, b grid.Borders) {
		snap.Borders = append(snap.Borders, BorderEntry{Pos: p, Borders: b.Clone()})
	})
	s.EachValidation(func(p grid.Pos, v *grid.Validation) {
		snap.Validations = append(snap.Validations, ValidationEntry{Pos: p, Validation: v.Clone()})
	})
	s.EachColumnWidth(func(x int64, w float64) {
		snap.ColWidths = append(snap.ColWidths, AxisSize{Index: x, Size: w})
	})
	s.EachRowHeight(func(y int64, h float64) {
		snap.RowHeights = append(snap.RowHeights, AxisSize{Index: y, Size: h})
	})

	sortCellEntries(snap.Cells)
	sortFormatEntries(snap.Formats)
	sortBorderEntries(snap.Borders)
	sortValidationEntries(snap.Validations)
	sortAxisSizes(snap.ColWidths)
	sortAxisSizes(snap.RowHeights)
	return snap
}

func sortAxisSizes(as []AxisSize) {
	sort.Slice(as, func(i, j int) bool { return as[i].Index < as[j].Index })
}

// Materialize builds a sheet from a snapshot.
func (snap SheetSnapshot) Materialize() *grid.Sheet {
	s := grid.NewSheet(snap.ID, snap.Name, snap.Order)
	for _, e := range snap.Cells {
		s.SetCell(e.Pos, e.Value)
	}
	for _, e := range snap.Formats {
		s.SetFormat(e.Pos, e.Format.Clone())
	}
	for _, e := range snap.Borders {
		s.SetBorders(e.Pos, e.Borders.Clone())
	}
	for _, e := range snap.Validations {
		s.SetValidation(e.Pos, e.Validation.Clone())
	}
	for _, a := range snap.ColWidths {
		s.SetColumnWidth(a.Index, a.Size)
	}
	for _, a := range snap.RowHeights {
		s.SetRowHeight(a.Index, a.Size)
	}
	return s
}

func posLess(a, b grid.Pos) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}

func sortCellEntries(es []CellEntry) {
	sort.Slice(es, func(i, j int) bool { return posLess(es[i].Pos, es[j].Pos) })
}

func sortFormatEntries(es []FormatEntry) {
	sort.Slice(es, func(i, j int) bool { return posLess(es[i].Pos, es[j].Pos) })
}

func sortBorderEntries(es []BorderEntry) {
	sort.Slice(es, func(i, j int) bool { return posLess(es[i].Pos, es[j].Pos) })
}

func sortValidationEntries(es []ValidationEntry) {
	sort.Slice(es, func(i, j int) bool { return posLess(es[i].Pos, es[j].Pos) })
}

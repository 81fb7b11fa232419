package op

import (
	"fmt"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// Apply performs one operation against the grid and returns the inverse
// operation plus the sheet regions whose cells changed.
//
// Apply is all-or-nothing: every referenced identifier is validated
// before the first mutation, so a returned error guarantees the grid is
// untouched. The reverse operation restores prior state in the exact
// opposite order of application.
func Apply(o Op, g *grid.Grid) (Op, []grid.SheetRect, error) {
	switch v := o.(type) {
	case SetCellValues:
		return applySetCellValues(v, g)
	case SetCodeOutput:
		return applySetCodeOutput(v, g)
	case SetFormats:
		return applySetFormats(v, g)
	case SetBorders:
		return applySetBorders(v, g)
	case SetValidation:
		return applySetValidation(v, g)
	case ResizeColumn:
		return applyResizeColumn(v, g)
	case ResizeRow:
		return applyResizeRow(v, g)
	case AddSheet:
		return applyAddSheet(v, g)
	case DeleteSheet:
		return applyDeleteSheet(v, g)
	case RenameSheet:
		return applyRenameSheet(v, g)
	case ReorderSheet:
		return applyReorderSheet(v, g)
	default:
		return nil, nil, fmt.Errorf("unknown operation kind %q", o.OpKind())
	}
}

func applySetCellValues(o SetCellValues, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}

	reverse := SetCellValues{SheetID: o.SheetID, Cells: make([]CellEntry, len(o.Cells))}
	changed := make([]grid.SheetRect, 0, len(o.Cells))
	for i, e := range o.Cells {
		prior := s.Cell(e.Pos)
		s.SetCell(e.Pos, e.Value)
		// Prepend: reverse restores in the opposite order of application,
		// so writing A then B to the same cell undoes to the pre-A value.
		reverse.Cells[len(o.Cells)-1-i] = CellEntry{Pos: e.Pos, Value: prior}
		changed = append(changed, grid.SheetRect{SheetID: o.SheetID, Rect: grid.RectAt(e.Pos)})
	}
	return reverse, changed, nil
}

func applySetCodeOutput(o SetCodeOutput, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}
	code, ok := s.Cell(o.Pos).(grid.Code)
	if !ok {
		return nil, nil, fmt.Errorf("cell %s:%s is not a code cell", o.SheetID, o.Pos)
	}

	reverse := SetCodeOutput{SheetID: o.SheetID, Pos: o.Pos, Out: code.Out}
	s.SetCell(o.Pos, code.WithOut(o.Out))
	changed := []grid.SheetRect{{SheetID: o.SheetID, Rect: grid.RectAt(o.Pos)}}
	return reverse, changed, nil
}

func applySetFormats(o SetFormats, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}

	reverse := SetFormats{SheetID: o.SheetID, Formats: make([]FormatEntry, len(o.Formats))}
	changed := make([]grid.SheetRect, 0, len(o.Formats))
	for i, e := range o.Formats {
		prior := s.Format(e.Pos).Clone()
		s.SetFormat(e.Pos, e.Format.Clone())
		reverse.Formats[len(o.Formats)-1-i] = FormatEntry{Pos: e.Pos, Format: prior}
		changed = append(changed, grid.SheetRect{SheetID: o.SheetID, Rect: grid.RectAt(e.Pos)})
	}
	return reverse, changed, nil
}

func applySetBorders(o SetBorders, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}

	reverse := SetBorders{SheetID: o.SheetID, Borders: make([]BorderEntry, len(o.Borders))}
	changed := make([]grid.SheetRect, 0, len(o.Borders))
	for i, e := range o.Borders {
		prior := s.Borders(e.Pos).Clone()
		s.SetBorders(e.Pos, e.Borders.Clone())
		reverse.Borders[len(o.Borders)-1-i] = BorderEntry{Pos: e.Pos, Borders: prior}
		changed = append(changed, grid.SheetRect{SheetID: o.SheetID, Rect: grid.RectAt(e.Pos)})
	}
	return reverse, changed, nil
}

func applySetValidation(o SetValidation, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}

	reverse := SetValidation{SheetID: o.SheetID, Entries: make([]ValidationEntry, len(o.Entries))}
	changed := make([]grid.SheetRect, 0, len(o.Entries))
	for i, e := range o.Entries {
		prior := s.Validation(e.Pos).Clone()
		s.SetValidation(e.Pos, e.Validation.Clone())
		reverse.Entries[len(o.Entries)-1-i] = ValidationEntry{Pos: e.Pos, Validation: prior}
		changed = append(changed, grid.SheetRect{SheetID: o.SheetID, Rect: grid.RectAt(e.Pos)})
	}
	return reverse, changed, nil
}

func applyResizeColumn(o ResizeColumn, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}
	reverse := ResizeColumn{SheetID: o.SheetID, Column: o.Column, Width: s.ColumnWidth(o.Column)}
	s.SetColumnWidth(o.Column, o.Width)
	return reverse, nil, nil
}

func applyResizeRow(o ResizeRow, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}
	reverse := ResizeRow{SheetID: o.SheetID, Row: o.Row, Height: s.RowHeight(o.Row)}
	s.SetRowHeight(o.Row, o.Height)
	return reverse, nil, nil
}

func applyAddSheet(o AddSheet, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s := o.Sheet.Materialize()
	if err := g.AddSheet(s); err != nil {
		return nil, nil, err
	}
	return DeleteSheet{SheetID: s.ID}, snapshotExtent(o.Sheet), nil
}

func applyDeleteSheet(o DeleteSheet, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}
	snap := Snapshot(s)
	if _, err := g.DeleteSheet(o.SheetID); err != nil {
		return nil, nil, err
	}
	return AddSheet{Sheet: snap}, snapshotExtent(snap), nil
}

func applyRenameSheet(o RenameSheet, g *grid.Grid) (Op, []grid.SheetRect, error) {
	prev, err := g.RenameSheet(o.SheetID, o.Name)
	if err != nil {
		return nil, nil, err
	}
	return RenameSheet{SheetID: o.SheetID, Name: prev}, nil, nil
}

func applyReorderSheet(o ReorderSheet, g *grid.Grid) (Op, []grid.SheetRect, error) {
	s, err := g.Sheet(o.SheetID)
	if err != nil {
		return nil, nil, err
	}
	reverse := ReorderSheet{SheetID: o.SheetID, Order: s.Order}
	s.Order = o.Order
	return reverse, nil, nil
}

// snapshotExtent returns the rectangle covering every populated cell of
// a snapshot, so dependents reading a created or deleted sheet recompute.
func snapshotExtent(snap SheetSnapshot) []grid.SheetRect {
	if len(snap.Cells) == 0 {
		return nil
	}
	r := grid.RectAt(snap.Cells[0].Pos)
	for _, e := range snap.Cells[1:] {
		r = r.Union(grid.RectAt(e.Pos))
	}
	return []grid.SheetRect{{SheetID: snap.ID, Rect: r}}
}

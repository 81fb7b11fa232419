// Package op defines the closed set of atomic grid mutations and the
// pure apply/invert logic over them.
//
// Every operation is invertible by capturing the prior state at apply
// time - never by a precomputed inverse. Apply performs no recomputation
// and no I/O; the executor owns sequencing, cascades, and undo stacks.
package op

import (
	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// Kind tags operation variants on the wire and in logs.
type Kind string

const (
	KindSetCellValues Kind = "set_cell_values"
	KindSetCodeOutput Kind = "set_code_output"
	KindSetFormats    Kind = "set_formats"
	KindSetBorders    Kind = "set_borders"
	KindSetValidation Kind = "set_validation"
	KindResizeColumn  Kind = "resize_column"
	KindResizeRow     Kind = "resize_row"
	KindAddSheet      Kind = "add_sheet"
	KindDeleteSheet   Kind = "delete_sheet"
	KindRenameSheet   Kind = "rename_sheet"
	KindReorderSheet  Kind = "reorder_sheet"
)

// Op is a sealed interface over the closed operation set. Only the
// variants in this package implement it.
type Op interface {
	op() // Sealed

	// OpKind returns the wire tag for this variant.
	OpKind() Kind
}

// CellEntry pairs a position with a value. Entries are ordered: apply
// order is entry order, and the reverse operation restores prior values
// in the exact opposite order.
type CellEntry struct {
	Pos   grid.Pos       `json:"pos"`
	Value grid.CellValue `json:"value"`
}

// SetCellValues writes values (including Blank to clear, and Code to
// install code cells) at the listed positions of one sheet.
type SetCellValues struct {
	SheetID grid.SheetID `json:"sheet_id"`
	Cells   []CellEntry  `json:"cells"`
}

func (SetCellValues) op()          {}
func (SetCellValues) OpKind() Kind { return KindSetCellValues }

// SetCodeOutput installs the result of evaluating one code cell. The
// target must currently hold a Code value; only its output changes.
// Emitted by the executor's recompute cascade and by async resumption,
// so recomputation itself is logged, broadcast, and undoable.
type SetCodeOutput struct {
	SheetID grid.SheetID   `json:"sheet_id"`
	Pos     grid.Pos       `json:"pos"`
	Out     grid.CellValue `json:"out"`
}

func (SetCodeOutput) op()          {}
func (SetCodeOutput) OpKind() Kind { return KindSetCodeOutput }

// FormatEntry pairs a position with a full replacement format.
// A nil Format clears the cell's formatting.
type FormatEntry struct {
	Pos    grid.Pos     `json:"pos"`
	Format *grid.Format `json:"format"`
}

// SetFormats replaces the formats at the listed positions of one sheet.
// Callers wanting merge semantics compute the merged format first; the
// operation always carries the complete result so the reverse is exact.
type SetFormats struct {
	SheetID grid.SheetID  `json:"sheet_id"`
	Formats []FormatEntry `json:"formats"`
}

func (SetFormats) op()          {}
func (SetFormats) OpKind() Kind { return KindSetFormats }

// BorderEntry pairs a position with a full replacement border set.
type BorderEntry struct {
	Pos     grid.Pos     `json:"pos"`
	Borders grid.Borders `json:"borders"`
}

// SetBorders replaces border styles at the listed positions of one sheet.
type SetBorders struct {
	SheetID grid.SheetID  `json:"sheet_id"`
	Borders []BorderEntry `json:"borders"`
}

func (SetBorders) op()          {}
func (SetBorders) OpKind() Kind { return KindSetBorders }

// ValidationEntry pairs a position with a replacement validation rule.
// A nil Validation clears the rule.
type ValidationEntry struct {
	Pos        grid.Pos         `json:"pos"`
	Validation *grid.Validation `json:"validation"`
}

// SetValidation replaces data-validation rules at the listed positions.
type SetValidation struct {
	SheetID grid.SheetID      `json:"sheet_id"`
	Entries []ValidationEntry `json:"entries"`
}

func (SetValidation) op()          {}
func (SetValidation) OpKind() Kind { return KindSetValidation }

// ResizeColumn sets one column's width.
type ResizeColumn struct {
	SheetID grid.SheetID `json:"sheet_id"`
	Column  int64        `json:"column"`
	Width   float64      `json:"width"`
}

func (ResizeColumn) op()          {}
func (ResizeColumn) OpKind() Kind { return KindResizeColumn }

// ResizeRow sets one row's height.
type ResizeRow struct {
	SheetID grid.SheetID `json:"sheet_id"`
	Row     int64        `json:"row"`
	Height  float64      `json:"height"`
}

func (ResizeRow) op()          {}
func (ResizeRow) OpKind() Kind { return KindResizeRow }

// AddSheet inserts a sheet from a full snapshot. A snapshot (rather than
// just id+name) lets DeleteSheet invert losslessly and lets a remote
// client materialize the identical sheet.
type AddSheet struct {
	Sheet SheetSnapshot `json:"sheet"`
}

func (AddSheet) op()          {}
func (AddSheet) OpKind() Kind { return KindAddSheet }

// DeleteSheet removes a sheet. The reverse is an AddSheet carrying the
// sheet's full captured contents.
type DeleteSheet struct {
	SheetID grid.SheetID `json:"sheet_id"`
}

func (DeleteSheet) op()          {}
func (DeleteSheet) OpKind() Kind { return KindDeleteSheet }

// RenameSheet changes a sheet's user-visible name.
type RenameSheet struct {
	SheetID grid.SheetID `json:"sheet_id"`
	Name    string       `json:"name"`
}

func (RenameSheet) op()          {}
func (RenameSheet) OpKind() Kind { return KindRenameSheet }

// ReorderSheet moves a sheet to a new position in the sheet bar.
type ReorderSheet struct {
	SheetID grid.SheetID `json:"sheet_id"`
	Order   int          `json:"order"`
}

func (ReorderSheet) op()          {}
func (ReorderSheet) OpKind() Kind { return KindReorderSheet }

// TriggersRecompute reports whether an operation's changes can dirty
// dependent code cells. Formatting, sizing, and sheet-bar operations
// never trigger the cascade.
func TriggersRecompute(o Op) bool {
	switch o.OpKind() {
	case KindSetCellValues, KindSetCodeOutput, KindAddSheet, KindDeleteSheet:
		return true
	default:
		return false
	}
}

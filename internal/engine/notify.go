package engine

import "github.com/quadratichq/quadratic-sub015/internal/grid"

// Notifier receives UI-facing notifications from the engine. The
// rendering layer implements it; the engine never talks to the canvas
// directly.
type Notifier interface {
	// CellsChanged reports the regions mutated by a committed
	// transaction (values, formats, borders, or validations).
	CellsChanged(rects []grid.SheetRect)

	// CodeRunning reports that a code cell is awaiting an external
	// evaluator.
	CodeRunning(cell grid.SheetPos, lang grid.Language)

	// UndoRedoChanged reports undo/redo availability transitions.
	UndoRedoChanged(canUndo, canRedo bool)

	// ReloadRequired reports an unrecoverable multiplayer condition;
	// the client must reload the document.
	ReloadRequired(err error)
}

// NopNotifier discards all notifications. Used as the default and in
// tests that don't assert on notifications.
type NopNotifier struct{}

func (NopNotifier) CellsChanged([]grid.SheetRect)            {}
func (NopNotifier) CodeRunning(grid.SheetPos, grid.Language) {}
func (NopNotifier) UndoRedoChanged(bool, bool)               {}
func (NopNotifier) ReloadRequired(error)                     {}

// mergeRects coalesces changed regions per sheet into their bounding
// rectangles so the notification stays small for large edits.
func mergeRects(rects []grid.SheetRect) []grid.SheetRect {
	if len(rects) == 0 {
		return nil
	}
	bySheet := make(map[grid.SheetID]grid.Rect)
	order := make([]grid.SheetID, 0, 4)
	for _, sr := range rects {
		if r, ok := bySheet[sr.SheetID]; ok {
			bySheet[sr.SheetID] = r.Union(sr.Rect)
		} else {
			bySheet[sr.SheetID] = sr.Rect
			order = append(order, sr.SheetID)
		}
	}
	out := make([]grid.SheetRect, 0, len(order))
	for _, id := range order {
		out = append(out, grid.SheetRect{SheetID: id, Rect: bySheet[id]})
	}
	return out
}

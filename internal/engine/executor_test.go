package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadratichq/quadratic-sub015/internal/engine"
	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
	"github.com/quadratichq/quadratic-sub015/internal/testutil"
)

const sheetID grid.SheetID = "s1"

func newTestGrid(t *testing.T) *grid.Grid {
	t.Helper()
	g := grid.New()
	require.NoError(t, g.AddSheet(grid.NewSheet(sheetID, "Sheet1", 0)))
	return g
}

func newTestExecutor(t *testing.T, opts ...engine.ExecutorOption) (*engine.Executor, *testutil.AsyncStubRuntime) {
	t.Helper()
	async := &testutil.AsyncStubRuntime{}
	runtimes := engine.NewRuntimeRegistry()
	runtimes.Register(grid.LangFormula, testutil.RefSumRuntime{})
	runtimes.Register(grid.LangPython, async)
	return engine.NewExecutor(newTestGrid(t), runtimes, opts...), async
}

func sp(x, y int64) grid.SheetPos {
	return grid.SheetPos{SheetID: sheetID, Pos: grid.Pos{X: x, Y: y}}
}

func entry(x, y int64, v grid.CellValue) op.CellEntry {
	return op.CellEntry{Pos: grid.Pos{X: x, Y: y}, Value: v}
}

func setCells(entries ...op.CellEntry) []op.Op {
	return []op.Op{op.SetCellValues{SheetID: sheetID, Cells: entries}}
}

func cellAt(t *testing.T, e *engine.Executor, x, y int64) grid.CellValue {
	t.Helper()
	v, err := e.Grid().Cell(sp(x, y))
	require.NoError(t, err)
	return v
}

func codeOut(t *testing.T, e *engine.Executor, x, y int64) grid.CellValue {
	t.Helper()
	code, ok := cellAt(t, e, x, y).(grid.Code)
	require.True(t, ok, "cell (%d,%d) is not a code cell", x, y)
	return code.Out
}

func mustExecute(t *testing.T, e *engine.Executor, id string, ops []op.Op) *engine.Transaction {
	t.Helper()
	tx, err := e.Execute(context.Background(), id, engine.SourceUser, engine.Cursor{}, ops)
	require.NoError(t, err)
	require.NotNil(t, tx)
	return tx
}

func TestExecuteSimpleEdit(t *testing.T) {
	e, _ := newTestExecutor(t)

	tx := mustExecute(t, e, "tx-1", setCells(entry(1, 1, grid.Number(5))))

	assert.Equal(t, grid.Number(5), cellAt(t, e, 1, 1))
	assert.Equal(t, "tx-1", tx.ID)
	require.Len(t, tx.Forward, 1)
	require.Len(t, tx.Reverse, 1)
	assert.True(t, e.CanUndo())
	assert.False(t, e.CanRedo())
}

func TestUndoRoundTripRestoresStateAndEdges(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.Number(5)),
		entry(3, 3, grid.NewCode(grid.LangFormula, "(1,1)")),
	))

	snapshot := e.Grid().Clone()
	edges := append([]grid.SheetRect(nil), e.Deps().ReadsOf(sp(3, 3))...)
	require.NotEmpty(t, edges)

	mustExecute(t, e, "tx-2", setCells(entry(1, 1, grid.Number(9))))
	assert.Equal(t, grid.Number(9), codeOut(t, e, 3, 3))

	tx, err := e.Undo(ctx, "undo-1")
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.True(t, e.Grid().Equal(snapshot), "undo must restore the exact prior grid")
	assert.Equal(t, edges, e.Deps().ReadsOf(sp(3, 3)), "undo must restore dependency edges")
}

func TestUndoDuplicateCellWritesRestoresOriginal(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	mustExecute(t, e, "tx-1", setCells(entry(1, 1, grid.NewText("x"))))

	// One transaction writes the same cell twice; undo must restore the
	// pre-transaction value, not the intermediate one.
	mustExecute(t, e, "tx-2", setCells(
		entry(1, 1, grid.NewText("y")),
		entry(1, 1, grid.NewText("z")),
	))
	assert.Equal(t, grid.NewText("z"), cellAt(t, e, 1, 1))

	_, err := e.Undo(ctx, "undo-1")
	require.NoError(t, err)
	assert.Equal(t, grid.NewText("x"), cellAt(t, e, 1, 1))
}

func TestUndoRedoStackDiscipline(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	mustExecute(t, e, "tx-1", setCells(entry(1, 1, grid.Number(1))))

	_, err := e.Undo(ctx, "undo-1")
	require.NoError(t, err)
	assert.False(t, e.CanUndo())
	assert.True(t, e.CanRedo())
	assert.Equal(t, grid.Blank{}, cellAt(t, e, 1, 1))

	_, err = e.Redo(ctx, "redo-1")
	require.NoError(t, err)
	assert.True(t, e.CanUndo())
	assert.False(t, e.CanRedo())
	assert.Equal(t, grid.Number(1), cellAt(t, e, 1, 1))

	// A fresh edit clears the redo stack.
	_, err = e.Undo(ctx, "undo-2")
	require.NoError(t, err)
	require.True(t, e.CanRedo())
	mustExecute(t, e, "tx-2", setCells(entry(2, 2, grid.Number(2))))
	assert.False(t, e.CanRedo())
}

func TestUndoEmptyStackIsNoop(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	tx, err := e.Undo(ctx, "undo-1")
	require.NoError(t, err)
	assert.Nil(t, tx)

	tx, err = e.Redo(ctx, "redo-1")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestCascadeChainWithinOneTransaction(t *testing.T) {
	e, _ := newTestExecutor(t)

	tx := mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.Number(5)),
		entry(3, 3, grid.NewCode(grid.LangFormula, "(1,1)")),
		entry(4, 4, grid.NewCode(grid.LangFormula, "(3,3)")),
	))

	assert.Equal(t, grid.Number(5), codeOut(t, e, 3, 3))
	assert.Equal(t, grid.Number(5), codeOut(t, e, 4, 4))

	// The recomputations travel inside the same transaction.
	kinds := make([]op.Kind, len(tx.Forward))
	for i, o := range tx.Forward {
		kinds[i] = o.OpKind()
	}
	assert.Equal(t, []op.Kind{op.KindSetCellValues, op.KindSetCodeOutput, op.KindSetCodeOutput}, kinds)
}

func TestCascadePropagatesOnEdit(t *testing.T) {
	e, _ := newTestExecutor(t)

	mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.Number(5)),
		entry(3, 3, grid.NewCode(grid.LangFormula, "(1,1)")),
		entry(4, 4, grid.NewCode(grid.LangFormula, "(3,3)")),
	))

	mustExecute(t, e, "tx-2", setCells(entry(1, 1, grid.Number(7))))

	assert.Equal(t, grid.Number(7), codeOut(t, e, 3, 3))
	assert.Equal(t, grid.Number(7), codeOut(t, e, 4, 4))
}

func TestDirectCircularReferenceRejected(t *testing.T) {
	e, _ := newTestExecutor(t)

	tx := mustExecute(t, e, "tx-1", setCells(
		entry(2, 2, grid.NewCode(grid.LangFormula, "(2,2)")),
	))

	out, ok := codeOut(t, e, 2, 2).(grid.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, grid.ErrCodeCircular, out.Code)

	// The transaction still commits and is undoable.
	assert.NotNil(t, tx)
	assert.True(t, e.CanUndo())
}

func TestIndirectCycleTerminates(t *testing.T) {
	e, _ := newTestExecutor(t)

	tx := mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.NewCode(grid.LangFormula, "(2,1)")),
		entry(2, 1, grid.NewCode(grid.LangFormula, "(1,1)")),
	))
	require.NotNil(t, tx)

	// Each cell computed exactly once; the visited guard stops the loop.
	assert.Equal(t, grid.Number(0), codeOut(t, e, 1, 1))
	assert.Equal(t, grid.Number(0), codeOut(t, e, 2, 1))
}

func TestCascadeBoundPoisonsRemainingCells(t *testing.T) {
	e, _ := newTestExecutor(t, engine.WithMaxCascadeSteps(2))

	tx := mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.Number(1)),
		entry(1, 2, grid.NewCode(grid.LangFormula, "(1,1)")),
		entry(1, 3, grid.NewCode(grid.LangFormula, "(1,2)")),
		entry(1, 4, grid.NewCode(grid.LangFormula, "(1,3)")),
	))
	require.NotNil(t, tx, "the transaction commits even when the bound trips")

	assert.Equal(t, grid.Number(1), codeOut(t, e, 1, 2))
	assert.Equal(t, grid.Number(1), codeOut(t, e, 1, 3))

	out, ok := codeOut(t, e, 1, 4).(grid.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, grid.ErrCodeCircular, out.Code)
	assert.Contains(t, out.Msg, "exceeded")
}

func TestValidationFailureRollsBackWholeTransaction(t *testing.T) {
	e, _ := newTestExecutor(t)
	before := e.Grid().Clone()

	_, err := e.Execute(context.Background(), "tx-1", engine.SourceUser, engine.Cursor{}, []op.Op{
		op.SetCellValues{SheetID: sheetID, Cells: []op.CellEntry{entry(1, 1, grid.Number(5))}},
		op.SetCellValues{SheetID: "missing", Cells: []op.CellEntry{entry(1, 1, grid.Number(6))}},
	})
	require.Error(t, err)
	assert.True(t, engine.IsValidationError(err))

	assert.True(t, e.Grid().Equal(before), "rejected transaction must leave the grid untouched")
	assert.False(t, e.CanUndo())
}

func TestMissingRuntimeBecomesCellError(t *testing.T) {
	e, _ := newTestExecutor(t)

	tx := mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.NewCode(grid.LangJavascript, "1 + 1")),
	))
	require.NotNil(t, tx)

	out, ok := codeOut(t, e, 1, 1).(grid.ErrorValue)
	require.True(t, ok)
	assert.Equal(t, grid.ErrCodeRun, out.Code)
	assert.Contains(t, out.Msg, "no runtime registered")
}

func TestMultiplayerSourceSkipsUndoStack(t *testing.T) {
	e, _ := newTestExecutor(t)

	tx, err := e.Execute(context.Background(), "remote-1", engine.SourceMultiplayer, engine.Cursor{},
		setCells(entry(1, 1, grid.Number(5))))
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, grid.Number(5), cellAt(t, e, 1, 1))
	assert.False(t, e.CanUndo())
	assert.False(t, e.CanRedo())
}

func TestOverwritingCodeCellClearsEdges(t *testing.T) {
	e, _ := newTestExecutor(t)

	mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.Number(5)),
		entry(3, 3, grid.NewCode(grid.LangFormula, "(1,1)")),
	))
	require.NotEmpty(t, e.Deps().ReadsOf(sp(3, 3)))

	mustExecute(t, e, "tx-2", setCells(entry(3, 3, grid.NewText("plain"))))
	assert.Empty(t, e.Deps().ReadsOf(sp(3, 3)))

	// Changing the old input no longer cascades anywhere.
	mustExecute(t, e, "tx-3", setCells(entry(1, 1, grid.Number(9))))
	assert.Equal(t, grid.NewText("plain"), cellAt(t, e, 3, 3))
}

func TestDeleteSheetUndoRestoresContents(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.Number(5)),
		entry(3, 3, grid.NewCode(grid.LangFormula, "(1,1)")),
	))
	snapshot := e.Grid().Clone()

	mustExecute(t, e, "tx-2", []op.Op{op.DeleteSheet{SheetID: sheetID}})
	assert.False(t, e.Grid().HasSheet(sheetID))
	assert.Empty(t, e.Deps().ReadsOf(sp(3, 3)), "deleting a sheet drops its dependency edges")

	_, err := e.Undo(ctx, "undo-1")
	require.NoError(t, err)
	assert.True(t, e.Grid().Equal(snapshot))
}

func TestDeleteSheetUndoRestoresDependencyEdges(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	mustExecute(t, e, "tx-1", setCells(
		entry(1, 1, grid.Number(5)),
		entry(3, 3, grid.NewCode(grid.LangFormula, "(1,1)")),
	))

	mustExecute(t, e, "tx-2", []op.Op{op.DeleteSheet{SheetID: sheetID}})
	require.Empty(t, e.Deps().ReadsOf(sp(3, 3)))

	_, err := e.Undo(ctx, "undo-1")
	require.NoError(t, err)
	assert.Equal(t, []grid.SheetRect{grid.SheetRectAt(sp(1, 1))}, e.Deps().ReadsOf(sp(3, 3)),
		"restoring the sheet must bring its dependency edges back")

	// The cascade must be alive again: editing the input recomputes.
	mustExecute(t, e, "tx-3", setCells(entry(1, 1, grid.Number(9))))
	assert.Equal(t, grid.Number(9), codeOut(t, e, 3, 3))
}

func TestNotifierReceivesCommitSignals(t *testing.T) {
	notifier := &testutil.RecordingNotifier{}
	async := &testutil.AsyncStubRuntime{}
	runtimes := engine.NewRuntimeRegistry()
	runtimes.Register(grid.LangFormula, testutil.RefSumRuntime{})
	runtimes.Register(grid.LangPython, async)
	e := engine.NewExecutor(newTestGrid(t), runtimes, engine.WithNotifier(notifier))

	mustExecute(t, e, "tx-1", setCells(entry(1, 1, grid.Number(5))))

	require.Len(t, notifier.UndoRedo, 1)
	assert.True(t, notifier.UndoRedo[0].CanUndo)
	require.Len(t, notifier.Changed, 1)
	require.Len(t, notifier.Changed[0], 1)
	assert.Equal(t, sheetID, notifier.Changed[0][0].SheetID)
}

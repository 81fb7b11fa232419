package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

// DefaultMaxCascadeSteps bounds recomputations per transaction. This
// guards against cycles that evade the direct self-reference check,
// e.g. multi-cell spill cycles.
const DefaultMaxCascadeSteps = 1000

// Executor applies transactions against the grid and drives the
// undo/redo stacks and the recompute cascade.
//
// The executor exclusively owns the grid and the dependency tracker.
// Execution is single-threaded cooperative: no two transactions ever
// run concurrently, and the only suspension point is an async code
// cell awaiting its external evaluator.
type Executor struct {
	grid     *grid.Grid
	deps     *DependencyTracker
	runtimes *RuntimeRegistry
	notifier Notifier

	undo []*Transaction
	redo []*Transaction

	// waiting holds suspended transactions keyed by transaction id.
	waiting map[string]*pendingTransaction

	maxCascadeSteps int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxCascadeSteps sets the per-transaction recompute bound.
// Use a small value to test bound enforcement.
func WithMaxCascadeSteps(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxCascadeSteps = n
	}
}

// WithNotifier installs the UI notification sink.
func WithNotifier(n Notifier) ExecutorOption {
	return func(e *Executor) {
		e.notifier = n
	}
}

// NewExecutor creates an executor owning the given grid.
func NewExecutor(g *grid.Grid, runtimes *RuntimeRegistry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		grid:            g,
		deps:            NewDependencyTracker(),
		runtimes:        runtimes,
		notifier:        NopNotifier{},
		waiting:         make(map[string]*pendingTransaction),
		maxCascadeSteps: DefaultMaxCascadeSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Grid returns the grid the executor owns. Read-only access for the
// controller, harness, and tests; mutations go through operations.
func (e *Executor) Grid() *grid.Grid {
	return e.grid
}

// Deps returns the dependency tracker. Read-only access for tests.
func (e *Executor) Deps() *DependencyTracker {
	return e.deps
}

// CanUndo reports whether the undo stack is non-empty.
func (e *Executor) CanUndo() bool { return len(e.undo) > 0 }

// CanRedo reports whether the redo stack is non-empty.
func (e *Executor) CanRedo() bool { return len(e.redo) > 0 }

// Execute opens a transaction, applies the operations in order, runs
// the recompute cascade, and commits.
//
// The returned transaction is nil when the cascade suspended on an
// async code cell; the transaction completes later through Resume.
//
// A validation failure rejects the whole transaction: operations
// already applied are rolled back, and the grid is observably
// untouched.
func (e *Executor) Execute(ctx context.Context, id string, source Source, cursor Cursor, ops []op.Op) (*Transaction, error) {
	p := newPendingTransaction(id, source, cursor, ops)
	return e.run(ctx, p)
}

// run applies remaining operations, drives the cascade, and commits.
// Re-entered by Resume after an async result lands.
func (e *Executor) run(ctx context.Context, p *pendingTransaction) (*Transaction, error) {
	for len(p.remaining) > 0 {
		o := p.remaining[0]
		p.remaining = p.remaining[1:]

		if err := e.applyOne(p, o); err != nil {
			e.rollback(p)
			return nil, NewValidationError(p.id, err)
		}
	}

	suspended, err := e.cascade(ctx, p)
	if err != nil {
		return nil, err
	}
	if suspended {
		return nil, nil
	}

	return e.commit(p), nil
}

// applyOne applies a single operation and maintains dependency-edge
// hygiene for cells that stop or start being code cells.
func (e *Executor) applyOne(p *pendingTransaction, o op.Op) error {
	reverse, changed, err := op.Apply(o, e.grid)
	if err != nil {
		return err
	}
	p.record(o, reverse, changed)

	switch v := o.(type) {
	case op.SetCellValues:
		for _, entry := range v.Cells {
			cell := grid.SheetPos{SheetID: v.SheetID, Pos: entry.Pos}
			if _, isCode := entry.Value.(grid.Code); isCode {
				// A freshly installed code cell must be computed.
				e.markDirty(p, cell)
			} else {
				e.deps.Clear(cell)
			}
		}
	case op.AddSheet:
		// Restoring a sheet (undo of DeleteSheet, remote add) brings its
		// code cells back without their dependency edges; recompute them
		// so the edges return.
		for _, entry := range v.Sheet.Cells {
			if _, isCode := entry.Value.(grid.Code); isCode {
				e.markDirty(p, grid.SheetPos{SheetID: v.Sheet.ID, Pos: entry.Pos})
			}
		}
	case op.DeleteSheet:
		e.clearSheetDeps(v.SheetID)
	}

	if op.TriggersRecompute(o) {
		e.dirtyDependents(p, changed)
	}
	return nil
}

// cascade recomputes dirty code cells in deterministic order until the
// queue drains, the step bound trips, or an async evaluation suspends
// the transaction.
func (e *Executor) cascade(ctx context.Context, p *pendingTransaction) (suspended bool, err error) {
	for len(p.dirty) > 0 {
		sortCells(p.dirty)
		cell := p.dirty[0]
		p.dirty = p.dirty[1:]

		p.steps++
		if p.steps > e.maxCascadeSteps {
			e.poisonRemaining(p, cell)
			break
		}

		done, err := e.recomputeCell(ctx, p, cell)
		if err != nil {
			return false, err
		}
		if !done {
			return true, nil
		}
	}
	return false, nil
}

// recomputeCell evaluates one code cell and applies its new output.
// Returns done=false when the evaluation suspended.
func (e *Executor) recomputeCell(ctx context.Context, p *pendingTransaction, cell grid.SheetPos) (done bool, err error) {
	v, cellErr := e.grid.Cell(cell)
	if cellErr != nil {
		// Sheet deleted earlier in this transaction; nothing to compute.
		e.deps.Clear(cell)
		return true, nil
	}
	code, ok := v.(grid.Code)
	if !ok {
		e.deps.Clear(cell)
		return true, nil
	}

	req := EvalRequest{
		TransactionID: p.id,
		Cell:          cell,
		Lang:          code.Lang,
		Source:        code.Source,
	}

	rt, lookupErr := e.runtimes.Lookup(code.Lang)
	if lookupErr != nil {
		return true, e.setCodeOutput(p, cell, grid.ErrorValue{Code: grid.ErrCodeRun, Msg: lookupErr.Error()})
	}

	if rt.IsAsync() && !p.source.dispatchesAsync() {
		// Replayed and remote transactions already carry this cell's
		// SetCodeOutput; dispatching here would strand the transaction
		// waiting on a result that only ever reaches the origin client.
		if d, ok := rt.(ReadDeclarer); ok {
			e.deps.RecordAccess(cell, d.DeclareReads(req))
		}
		return true, nil
	}

	res, evalErr := rt.Evaluate(ctx, req, e.grid)

	// Edges are recorded at issue time so a mid-flight change to a read
	// cell is seen even while the evaluator is still running.
	e.deps.RecordAccess(cell, res.Reads)

	if SelfReads(cell, res.Reads) {
		slog.Debug("circular reference rejected",
			"transaction", p.id,
			"cell", cell.String(),
		)
		return true, e.setCodeOutput(p, cell, grid.ErrorValue{
			Code: grid.ErrCodeCircular,
			Msg:  fmt.Sprintf("cell %s reads its own output", cell.Pos),
		})
	}

	if evalErr != nil {
		// Evaluator failure is ordinary cell state; the transaction
		// still commits.
		return true, e.setCodeOutput(p, cell, grid.ErrorValue{Code: grid.ErrCodeRun, Msg: evalErr.Error()})
	}

	if res.Pending {
		// Suspend: control returns to the caller. At most one
		// outstanding request per transaction by construction.
		p.awaiting = &cell
		e.waiting[p.id] = p
		e.notifier.CodeRunning(cell, code.Lang)
		slog.Debug("transaction awaiting external result",
			"transaction", p.id,
			"cell", cell.String(),
			"lang", string(code.Lang),
		)
		return false, nil
	}

	out := res.Value
	if out == nil {
		out = grid.Blank{}
	}
	return true, e.setCodeOutput(p, cell, out)
}

// setCodeOutput applies a code cell's new output as a logged operation
// so recomputation is broadcast and undoable, then dirties dependents.
func (e *Executor) setCodeOutput(p *pendingTransaction, cell grid.SheetPos, out grid.CellValue) error {
	o := op.SetCodeOutput{SheetID: cell.SheetID, Pos: cell.Pos, Out: out}
	reverse, changed, err := op.Apply(o, e.grid)
	if err != nil {
		// The cell was read as code moments ago; failure here means the
		// grid changed underneath the executor.
		return fmt.Errorf("apply code output for %s: %w", cell, err)
	}
	p.record(o, reverse, changed)
	e.dirtyDependents(p, changed)
	return nil
}

// markDirty queues a cell for recomputation unless it was already
// visited in this transaction's cascade (cycle guard).
func (e *Executor) markDirty(p *pendingTransaction, cell grid.SheetPos) {
	if p.visited.Contains(cell) {
		return
	}
	p.visited.Add(cell)
	p.dirty = append(p.dirty, cell)
}

// dirtyDependents queues every code cell whose recorded reads intersect
// the changed regions.
func (e *Executor) dirtyDependents(p *pendingTransaction, changed []grid.SheetRect) {
	deps := e.deps.DependentsOf(changed)
	for cell := range deps.Iter() {
		e.markDirty(p, cell)
	}
}

// poisonRemaining marks the current and all still-dirty cells with
// circular-reference errors when the cascade bound trips. The
// transaction commits; the errors are ordinary cell state.
func (e *Executor) poisonRemaining(p *pendingTransaction, current grid.SheetPos) {
	slog.Warn("cascade bound exceeded",
		"transaction", p.id,
		"steps", p.steps,
		"limit", e.maxCascadeSteps,
	)
	cells := append([]grid.SheetPos{current}, p.dirty...)
	p.dirty = nil
	for _, cell := range cells {
		errVal := grid.ErrorValue{
			Code: grid.ErrCodeCircular,
			Msg:  fmt.Sprintf("recompute cascade exceeded %d steps", e.maxCascadeSteps),
		}
		if err := e.setCodeOutput(p, cell, errVal); err != nil {
			slog.Error("poison cell failed", "cell", cell.String(), "error", err)
		}
		// setCodeOutput re-dirties dependents; drop them, the cascade
		// is terminating.
		p.dirty = nil
	}
}

// rollback undoes operations already applied in a rejected transaction
// by applying the accumulated reverses in order. A failure here is an
// internal-consistency error and fatal.
func (e *Executor) rollback(p *pendingTransaction) {
	for _, reverse := range p.reverse {
		if _, _, err := op.Apply(reverse, e.grid); err != nil {
			internalConsistencyPanic(p.id, err)
		}
	}
	p.forward = nil
	p.reverse = nil
	p.changed = nil
	p.dirty = nil
}

// commit finalizes a completed transaction: undo/redo bookkeeping by
// source, then UI notifications.
func (e *Executor) commit(p *pendingTransaction) *Transaction {
	tx := p.finish()

	prevUndo, prevRedo := e.CanUndo(), e.CanRedo()
	switch tx.Source {
	case SourceUser, SourceUnattended:
		e.undo = append(e.undo, tx)
		e.redo = nil
	case SourceUndo:
		e.redo = append(e.redo, tx)
	case SourceRedo:
		e.undo = append(e.undo, tx)
	case SourceMultiplayer, SourceServer:
		// Remote edits never touch the local undo stacks.
	}
	if e.CanUndo() != prevUndo || e.CanRedo() != prevRedo {
		e.notifier.UndoRedoChanged(e.CanUndo(), e.CanRedo())
	}

	if rects := mergeRects(p.changed); len(rects) > 0 {
		e.notifier.CellsChanged(rects)
	}

	slog.Debug("transaction committed",
		"transaction", tx.ID,
		"source", string(tx.Source),
		"forward_ops", len(tx.Forward),
	)
	return tx
}

// Undo pops the top transaction and executes its reverse operations as
// a new transaction whose own computed reverse lands on the redo stack.
// The dependency cascade re-triggers exactly as a normal edit would.
//
// Returns nil when the undo stack is empty or the undo transaction
// suspended on an async recompute.
func (e *Executor) Undo(ctx context.Context, id string) (*Transaction, error) {
	if len(e.undo) == 0 {
		return nil, nil
	}
	orig := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]

	p := newPendingTransaction(id, SourceUndo, orig.Cursor, orig.Reverse)
	tx, err := e.run(ctx, p)
	if err != nil {
		// A reverse operation failing to apply breaks the undo
		// invariant; never swallow it.
		internalConsistencyPanic(orig.ID, err)
	}
	return tx, nil
}

// Redo is symmetric to Undo: it replays the most recently undone
// transaction and pushes the result back onto the undo stack.
func (e *Executor) Redo(ctx context.Context, id string) (*Transaction, error) {
	if len(e.redo) == 0 {
		return nil, nil
	}
	orig := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]

	p := newPendingTransaction(id, SourceRedo, orig.Cursor, orig.Reverse)
	tx, err := e.run(ctx, p)
	if err != nil {
		internalConsistencyPanic(orig.ID, err)
	}
	return tx, nil
}

// clearSheetDeps removes dependency edges for every code cell on a
// deleted sheet.
func (e *Executor) clearSheetDeps(id grid.SheetID) {
	for cell := range e.deps.reads {
		if cell.SheetID == id {
			delete(e.deps.reads, cell)
		}
	}
}

package engine

import (
	"context"
	"log/slog"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
)

// Async compute coordination: suspended transactions wait in
// Executor.waiting keyed by transaction id until their external result
// arrives. The state machine per transaction is
//
//	Idle -> Running -> {AwaitingExternal -> Running}* -> Completed | RolledBack
//
// AwaitingExternal is re-entrant (a transaction may suspend again for
// its next async cell) but never concurrent: at most one outstanding
// request per transaction.

// Awaiting reports whether a transaction is suspended on an external
// result, and for which cell.
func (e *Executor) Awaiting(txID string) (grid.SheetPos, bool) {
	p, ok := e.waiting[txID]
	if !ok || p.awaiting == nil {
		return grid.SheetPos{}, false
	}
	return *p.awaiting, true
}

// AwaitingCount returns the number of suspended transactions.
func (e *Executor) AwaitingCount() int {
	return len(e.waiting)
}

// Resume delivers an external evaluation result to its suspended
// transaction, applies it as a code-output operation, and re-enters the
// normal cascade - possibly suspending again for the next async cell.
//
// A resume for an unknown transaction id is a no-op, not an error:
// duplicate delivery from an evaluator must not corrupt state.
//
// The returned transaction is nil when the transaction suspended again.
func (e *Executor) Resume(ctx context.Context, res AsyncResult) (*Transaction, error) {
	p, ok := e.waiting[res.TransactionID]
	if !ok {
		slog.Debug("resume for unknown transaction ignored",
			"transaction", res.TransactionID,
		)
		return nil, nil
	}
	delete(e.waiting, res.TransactionID)

	cell := *p.awaiting
	p.awaiting = nil

	if res.ErrMsg != "" {
		// Recovered locally as an error value in the cell; log the
		// delivery failure with its captured streams for diagnosis.
		slog.Warn("async evaluation failed",
			"transaction", res.TransactionID,
			"cell", cell.String(),
			"error", res.ErrMsg,
			"stderr", res.Stderr,
		)
	}

	if err := e.setCodeOutput(p, cell, res.outputValue()); err != nil {
		// The awaited cell stopped being a code cell while suspended
		// (e.g. a remote transaction overwrote it). Drop the result but
		// still complete the transaction.
		slog.Warn("async result target no longer a code cell",
			"transaction", res.TransactionID,
			"cell", cell.String(),
			"error", err,
		)
	}

	return e.run(ctx, p)
}

// Cancel resolves a suspended transaction whose in-flight request the
// user cancelled. The awaited cell receives a cancellation error value
// and the transaction commits; a pending transaction is never left
// permanently unresolved.
func (e *Executor) Cancel(ctx context.Context, txID string) (*Transaction, error) {
	p, ok := e.waiting[txID]
	if !ok {
		return nil, nil
	}
	cell := *p.awaiting
	return e.Resume(ctx, AsyncResult{
		TransactionID: txID,
		Cell:          cell,
		Cancelled:     true,
	})
}

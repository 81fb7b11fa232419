package engine

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

// Source identifies where a transaction came from. It determines undo
// stack handling and whether the transaction is broadcast.
type Source string

const (
	// SourceUser is a local edit from the editing surface.
	SourceUser Source = "user"
	// SourceUndo replays a transaction's reverse operations.
	SourceUndo Source = "undo"
	// SourceRedo replays a previously undone transaction.
	SourceRedo Source = "redo"
	// SourceMultiplayer is a remote client's transaction delivered in
	// sequence order.
	SourceMultiplayer Source = "multiplayer"
	// SourceServer is a transaction fetched from the ordering authority
	// (gap fill, catch-up).
	SourceServer Source = "server"
	// SourceUnattended is a background recomputation (e.g. a scheduled
	// connection refresh) with no user cursor.
	SourceUnattended Source = "unattended"
)

// isLocal reports whether the transaction originated on this client and
// therefore must be broadcast and is undoable.
func (s Source) isLocal() bool {
	switch s {
	case SourceUser, SourceUndo, SourceRedo, SourceUnattended:
		return true
	}
	return false
}

// dispatchesAsync reports whether the cascade may issue external
// evaluations for this source. Only fresh local work does: undo and
// redo replay their logged code outputs, and remote transactions carry
// the origin client's.
func (s Source) dispatchesAsync() bool {
	return s == SourceUser || s == SourceUnattended
}

// Cursor is the UI cursor snapshot restored when a transaction is
// undone. Opaque to the engine.
type Cursor struct {
	SheetID grid.SheetID `json:"sheet_id"`
	Pos     grid.Pos     `json:"pos"`
}

// Transaction is an ordered batch of operations applied or undone as a
// unit.
//
// INVARIANT: applying Reverse in order exactly undoes Forward applied
// in order. Both lists include cascade recomputations, so undo restores
// code outputs without re-running evaluators.
type Transaction struct {
	ID     string
	Source Source
	Cursor Cursor

	// Forward holds the operations as actually applied - broadcast to
	// other clients for local transactions.
	Forward []op.Op

	// Reverse holds the computed inverses, prepended in reverse
	// application order - pushed to the undo stack as a unit.
	Reverse []op.Op

	// SequenceNum is the authority-assigned order, 0 until acknowledged.
	SequenceNum uint64
}

// RemoteTransaction is a transaction received from the multiplayer
// transport: forward operations plus the authority's ordering.
type RemoteTransaction struct {
	ID          string  `json:"id"`
	SequenceNum uint64  `json:"sequence_num"`
	Operations  []op.Op `json:"-"`
}

// pendingTransaction is a transaction under construction. It exists
// only while mid-flight: promoted to a Transaction on completion or
// rolled back on cancellation.
type pendingTransaction struct {
	id     string
	source Source
	cursor Cursor

	// ops not yet applied.
	remaining []op.Op

	forward []op.Op
	reverse []op.Op

	// dirty is the recompute queue for the current cascade.
	dirty []grid.SheetPos

	// visited guards the cascade against revisiting a code cell within
	// this transaction.
	visited mapset.Set[grid.SheetPos]

	// changed accumulates mutated regions for the CellsChanged
	// notification.
	changed []grid.SheetRect

	// steps counts cascade recomputations against the executor bound.
	steps int

	// awaiting marks the single outstanding async computation, nil when
	// running. At most one per transaction.
	awaiting *grid.SheetPos
}

func newPendingTransaction(id string, source Source, cursor Cursor, ops []op.Op) *pendingTransaction {
	return &pendingTransaction{
		id:        id,
		source:    source,
		cursor:    cursor,
		remaining: ops,
		visited:   mapset.NewThreadUnsafeSet[grid.SheetPos](),
	}
}

// record accumulates one applied operation: forward appended, reverse
// prepended so undo restores in the exact opposite order.
func (p *pendingTransaction) record(forward, reverse op.Op, changed []grid.SheetRect) {
	p.forward = append(p.forward, forward)
	p.reverse = append([]op.Op{reverse}, p.reverse...)
	p.changed = append(p.changed, changed...)
}

// finish promotes the pending transaction to a completed Transaction.
func (p *pendingTransaction) finish() *Transaction {
	return &Transaction{
		ID:      p.id,
		Source:  p.source,
		Cursor:  p.cursor,
		Forward: p.forward,
		Reverse: p.reverse,
	}
}

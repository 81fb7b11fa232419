package testutil

import (
	"context"
	"fmt"

	"github.com/quadratichq/quadratic-sub015/internal/engine"
	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

// Broadcast is one captured transaction dispatch.
type Broadcast struct {
	ID  string
	Ops []op.Op
}

// RecordingSender captures broadcast transactions. FailNext makes the
// next broadcast fail, simulating a dropped connection.
type RecordingSender struct {
	Sent     []Broadcast
	FailNext bool
}

var _ engine.Sender = (*RecordingSender)(nil)

func (s *RecordingSender) BroadcastTransaction(_ context.Context, id string, ops []op.Op) error {
	if s.FailNext {
		s.FailNext = false
		return fmt.Errorf("broadcast %s: connection lost", id)
	}
	s.Sent = append(s.Sent, Broadcast{ID: id, Ops: ops})
	return nil
}

// SentIDs returns the ids of every broadcast transaction in order.
func (s *RecordingSender) SentIDs() []string {
	ids := make([]string, len(s.Sent))
	for i, b := range s.Sent {
		ids[i] = b.ID
	}
	return ids
}

// GapRequest is one recorded call to RequestTransactions.
type GapRequest struct {
	From, To uint64
}

// RecordingRequester captures gap-fill requests.
type RecordingRequester struct {
	Requests []GapRequest
}

var _ engine.Requester = (*RecordingRequester)(nil)

func (r *RecordingRequester) RequestTransactions(_ context.Context, from, to uint64) error {
	r.Requests = append(r.Requests, GapRequest{From: from, To: to})
	return nil
}

// MemoryLedger is an in-memory engine.Ledger for tests that do not
// need sqlite durability.
type MemoryLedger struct {
	entries []engine.UnsavedTransaction
}

var _ engine.Ledger = (*MemoryLedger)(nil)

func (l *MemoryLedger) Append(_ context.Context, id string, ops []op.Op) error {
	for _, e := range l.entries {
		if e.ID == id {
			return nil
		}
	}
	l.entries = append(l.entries, engine.UnsavedTransaction{ID: id, Operations: ops})
	return nil
}

func (l *MemoryLedger) MarkSent(_ context.Context, id string) error {
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].SendCount++
		}
	}
	return nil
}

func (l *MemoryLedger) Delete(_ context.Context, id string) error {
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (l *MemoryLedger) Unacked(_ context.Context) ([]engine.UnsavedTransaction, error) {
	out := make([]engine.UnsavedTransaction, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// RecordingNotifier captures UI notifications for assertion.
type RecordingNotifier struct {
	Changed      [][]grid.SheetRect
	Running      []grid.SheetPos
	UndoRedo     []UndoRedoState
	ReloadErrors []error
}

// UndoRedoState is one recorded UndoRedoChanged notification.
type UndoRedoState struct {
	CanUndo, CanRedo bool
}

var _ engine.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) CellsChanged(rects []grid.SheetRect) {
	n.Changed = append(n.Changed, rects)
}

func (n *RecordingNotifier) CodeRunning(cell grid.SheetPos, _ grid.Language) {
	n.Running = append(n.Running, cell)
}

func (n *RecordingNotifier) UndoRedoChanged(canUndo, canRedo bool) {
	n.UndoRedo = append(n.UndoRedo, UndoRedoState{CanUndo: canUndo, CanRedo: canRedo})
}

func (n *RecordingNotifier) ReloadRequired(err error) {
	n.ReloadErrors = append(n.ReloadErrors, err)
}

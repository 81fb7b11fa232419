package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/quadratichq/quadratic-sub015/internal/op"
)

// DefaultGapFillLimit bounds how many gap-fill attempts are made for
// one sequence gap before the queue gives up and requires a reload.
const DefaultGapFillLimit = 3

// Sender broadcasts local transactions to the ordering authority.
// Implemented by the multiplayer transport.
type Sender interface {
	BroadcastTransaction(ctx context.Context, id string, ops []op.Op) error
}

// Requester fetches missing transactions from the ordering authority.
// The range is half-open: [from, to).
type Requester interface {
	RequestTransactions(ctx context.Context, from, to uint64) error
}

// Applier applies a sequenced remote transaction against the grid.
// Implemented by the controller over the executor.
type Applier interface {
	ApplyRemote(ctx context.Context, tx RemoteTransaction) error
}

// UnsavedTransaction is a ledger row: a local transaction retained
// until the ordering authority's acknowledgement is observed.
type UnsavedTransaction struct {
	ID         string
	Operations []op.Op
	SendCount  int
}

// Ledger persists unsaved transactions across reloads so they can be
// resent after reconnect. Implemented by the sqlite ledger.
type Ledger interface {
	Append(ctx context.Context, id string, ops []op.Op) error
	MarkSent(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Unacked(ctx context.Context) ([]UnsavedTransaction, error)
}

// bufferedTx is an out-of-order arrival. A nil tx marks a sequence
// number already applied locally (our own acknowledged transaction).
type bufferedTx struct {
	seq uint64
	tx  *RemoteTransaction
}

// Queue reconciles transactions across clients using the authority's
// sequence numbers: in-order remote transactions apply immediately,
// out-of-order ones buffer until the gap fills, and local transactions
// are retained in the ledger until acknowledged.
//
// The queue is exclusively owned by the controller and shares its
// single-threaded discipline.
type Queue struct {
	lastSeq  uint64
	buffered []bufferedTx // sorted by seq
	ownIDs   mapset.Set[string]

	gapAttempts      int
	gapFillLimit     int
	requestedThrough uint64
	reloadRequired   bool

	sender    Sender
	requester Requester
	applier   Applier
	ledger    Ledger
	notifier  Notifier
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithGapFillLimit sets the attempt bound per sequence gap.
func WithGapFillLimit(n int) QueueOption {
	return func(q *Queue) {
		q.gapFillLimit = n
	}
}

// WithLastSequenceNum starts the queue at a known sequence position,
// e.g. when a document loads from a checkpoint.
func WithLastSequenceNum(n uint64) QueueOption {
	return func(q *Queue) {
		q.lastSeq = n
	}
}

// NewQueue creates a transaction queue.
func NewQueue(sender Sender, requester Requester, applier Applier, ledger Ledger, notifier Notifier, opts ...QueueOption) *Queue {
	q := &Queue{
		ownIDs:       mapset.NewThreadUnsafeSet[string](),
		gapFillLimit: DefaultGapFillLimit,
		sender:       sender,
		requester:    requester,
		applier:      applier,
		ledger:       ledger,
		notifier:     notifier,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// LastSequenceNum returns the last applied sequence number.
func (q *Queue) LastSequenceNum() uint64 { return q.lastSeq }

// BufferedCount returns the number of out-of-order transactions held.
func (q *Queue) BufferedCount() int { return len(q.buffered) }

// Send records a completed local transaction in the unsaved ledger and
// dispatches it. The ledger write happens before dispatch so a crash
// between the two resends rather than loses the edit.
func (q *Queue) Send(ctx context.Context, tx *Transaction) error {
	if err := q.ledger.Append(ctx, tx.ID, tx.Forward); err != nil {
		return fmt.Errorf("ledger append %s: %w", tx.ID, err)
	}
	q.ownIDs.Add(tx.ID)

	if err := q.sender.BroadcastTransaction(ctx, tx.ID, tx.Forward); err != nil {
		// Offline or transport failure: the edit stays in the ledger and
		// resends on reconnect.
		slog.Warn("broadcast failed; transaction retained for resend",
			"transaction", tx.ID,
			"error", err,
		)
		return nil
	}
	if err := q.ledger.MarkSent(ctx, tx.ID); err != nil {
		return fmt.Errorf("ledger mark sent %s: %w", tx.ID, err)
	}
	return nil
}

// ReceiveRemote handles a transaction delivered by the multiplayer
// transport.
//
//   - seq == last+1: apply immediately and drain any contiguous run
//   - seq > last+1: buffer sorted and request the missing range
//   - seq <= last: discard as stale or duplicate
//
// Our own transaction echoed back by the authority is treated as its
// acknowledgement, never re-applied.
func (q *Queue) ReceiveRemote(ctx context.Context, tx RemoteTransaction) error {
	if tx.SequenceNum == 0 {
		return fmt.Errorf("remote transaction %s has no sequence number", tx.ID)
	}
	if q.ownIDs.Contains(tx.ID) {
		return q.ReceiveSequenceNum(ctx, tx.ID, tx.SequenceNum)
	}

	s := tx.SequenceNum
	switch {
	case s <= q.lastSeq:
		slog.Debug("stale or duplicate remote transaction discarded",
			"transaction", tx.ID,
			"seq", s,
			"last_seq", q.lastSeq,
		)
		return nil

	case s == q.lastSeq+1:
		q.applyRemote(ctx, &tx)
		q.lastSeq = s
		return q.drain(ctx)

	default:
		q.buffer(bufferedTx{seq: s, tx: &tx})
		return q.requestGapFill(ctx)
	}
}

// ReceiveSequenceNum observes the authority's acknowledgement of a
// local transaction: the ledger entry is removed and the sequence
// number is accounted for without re-applying the operations.
func (q *Queue) ReceiveSequenceNum(ctx context.Context, txID string, seq uint64) error {
	if !q.ownIDs.Contains(txID) {
		// A misdelivered acknowledgement must not advance the sequence
		// accounting: the real transaction holding this number may still
		// arrive through ReceiveRemote.
		slog.Debug("acknowledgement for unknown transaction ignored",
			"transaction", txID,
			"seq", seq,
		)
		return nil
	}
	q.ownIDs.Remove(txID)
	if err := q.ledger.Delete(ctx, txID); err != nil {
		return fmt.Errorf("ledger delete %s: %w", txID, err)
	}
	slog.Debug("transaction acknowledged",
		"transaction", txID,
		"seq", seq,
	)

	switch {
	case seq <= q.lastSeq:
		return nil
	case seq == q.lastSeq+1:
		q.lastSeq = seq
		return q.drain(ctx)
	default:
		// Already applied locally; buffer a placeholder so draining can
		// step over this sequence number once the gap before it fills.
		q.buffer(bufferedTx{seq: seq, tx: nil})
		return q.requestGapFill(ctx)
	}
}

// ResendUnsent replays the unsaved ledger after a reconnect, in
// original creation order. The authority idempotently discards
// already-processed ids and assigns sequence numbers to the rest.
func (q *Queue) ResendUnsent(ctx context.Context) error {
	rows, err := q.ledger.Unacked(ctx)
	if err != nil {
		return fmt.Errorf("ledger unacked: %w", err)
	}
	for _, row := range rows {
		q.ownIDs.Add(row.ID)
		if err := q.sender.BroadcastTransaction(ctx, row.ID, row.Operations); err != nil {
			slog.Warn("resend failed; transaction retained",
				"transaction", row.ID,
				"error", err,
			)
			return nil
		}
		if err := q.ledger.MarkSent(ctx, row.ID); err != nil {
			return fmt.Errorf("ledger mark sent %s: %w", row.ID, err)
		}
	}
	return nil
}

// RetryGapFill re-requests an open sequence gap. Called by the
// transport layer on its retry cadence; each call counts against the
// gap-fill limit, past which the reload-required condition surfaces.
func (q *Queue) RetryGapFill(ctx context.Context) error {
	if len(q.buffered) == 0 || q.reloadRequired {
		return nil
	}
	q.requestedThrough = q.lastSeq // force a fresh request
	return q.requestGapFill(ctx)
}

// applyRemote applies a sequenced transaction. A validation failure
// (stale structural target under last-writer-wins) skips the
// transaction and is logged, never fatal: the sequence number still
// advances so the document keeps converging.
func (q *Queue) applyRemote(ctx context.Context, tx *RemoteTransaction) {
	if err := q.applier.ApplyRemote(ctx, *tx); err != nil {
		if IsValidationError(err) {
			slog.Warn("remote transaction skipped: stale target",
				"transaction", tx.ID,
				"seq", tx.SequenceNum,
				"error", err,
			)
			return
		}
		slog.Error("remote transaction failed",
			"transaction", tx.ID,
			"seq", tx.SequenceNum,
			"error", err,
		)
	}
}

// drain applies buffered transactions while they continue the
// contiguous run at lastSeq+1, then re-requests if a gap remains.
func (q *Queue) drain(ctx context.Context) error {
	for len(q.buffered) > 0 && q.buffered[0].seq <= q.lastSeq+1 {
		b := q.buffered[0]
		q.buffered = q.buffered[1:]
		if b.seq <= q.lastSeq {
			continue // duplicate of an already-applied sequence number
		}
		if b.tx != nil {
			q.applyRemote(ctx, b.tx)
		}
		q.lastSeq = b.seq
	}

	if len(q.buffered) == 0 {
		// Gap closed; reset the attempt budget for the next gap.
		q.gapAttempts = 0
		q.requestedThrough = q.lastSeq
		return nil
	}
	return q.requestGapFill(ctx)
}

// requestGapFill asks the authority for the missing range
// [lastSeq+1, lowest buffered). Debounced: a range already requested is
// not re-requested until RetryGapFill. Past the attempt limit the
// reload-required condition surfaces instead of buffering forever.
func (q *Queue) requestGapFill(ctx context.Context) error {
	if len(q.buffered) == 0 || q.reloadRequired {
		return nil
	}
	lowest := q.buffered[0].seq
	if lowest <= q.requestedThrough {
		return nil // recent request already covers this gap
	}

	if q.gapAttempts >= q.gapFillLimit {
		err := NewProtocolError(q.lastSeq, lowest)
		q.reloadRequired = true
		slog.Error("sequence gap could not be closed",
			"last_seq", q.lastSeq,
			"lowest_buffered", lowest,
			"attempts", q.gapAttempts,
		)
		q.notifier.ReloadRequired(err)
		return err
	}

	q.gapAttempts++
	q.requestedThrough = lowest
	slog.Debug("requesting missing transactions",
		"from", q.lastSeq+1,
		"to", lowest,
		"attempt", q.gapAttempts,
	)
	if err := q.requester.RequestTransactions(ctx, q.lastSeq+1, lowest); err != nil {
		return fmt.Errorf("request transactions [%d,%d): %w", q.lastSeq+1, lowest, err)
	}
	return nil
}

// buffer inserts sorted by sequence number, dropping duplicates by
// sequence number or transaction id (idempotent delivery).
func (q *Queue) buffer(b bufferedTx) {
	for _, existing := range q.buffered {
		if existing.seq == b.seq {
			return
		}
		if b.tx != nil && existing.tx != nil && existing.tx.ID == b.tx.ID {
			return
		}
	}
	q.buffered = append(q.buffered, b)
	sort.Slice(q.buffered, func(i, j int) bool {
		return q.buffered[i].seq < q.buffered[j].seq
	})
}

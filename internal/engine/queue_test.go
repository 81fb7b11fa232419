package engine_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadratichq/quadratic-sub015/internal/engine"
	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
	"github.com/quadratichq/quadratic-sub015/internal/testutil"
)

// recordingApplier applies remote transactions through a real executor
// and records the ids it saw, so tests can assert what actually ran.
type recordingApplier struct {
	exec    *engine.Executor
	applied []string
}

func (a *recordingApplier) ApplyRemote(ctx context.Context, tx engine.RemoteTransaction) error {
	a.applied = append(a.applied, tx.ID)
	_, err := a.exec.Execute(ctx, tx.ID, engine.SourceMultiplayer, engine.Cursor{}, tx.Operations)
	return err
}

type queueEnv struct {
	exec      *engine.Executor
	applier   *recordingApplier
	queue     *engine.Queue
	sender    *testutil.RecordingSender
	requester *testutil.RecordingRequester
	ledger    *testutil.MemoryLedger
	notifier  *testutil.RecordingNotifier
}

func newQueueEnv(t *testing.T, opts ...engine.QueueOption) *queueEnv {
	t.Helper()
	exec, _ := newTestExecutor(t)
	env := &queueEnv{
		exec:      exec,
		applier:   &recordingApplier{exec: exec},
		sender:    &testutil.RecordingSender{},
		requester: &testutil.RecordingRequester{},
		ledger:    &testutil.MemoryLedger{},
		notifier:  &testutil.RecordingNotifier{},
	}
	env.queue = engine.NewQueue(env.sender, env.requester, env.applier, env.ledger, env.notifier, opts...)
	return env
}

func remoteEdit(id string, seq uint64, x, y int64, n float64) engine.RemoteTransaction {
	return engine.RemoteTransaction{
		ID:          id,
		SequenceNum: seq,
		Operations:  setCells(entry(x, y, grid.Number(n))),
	}
}

// localEdit runs a local transaction through the executor and hands it
// to the queue, the way the controller dispatches user edits.
func (env *queueEnv) localEdit(t *testing.T, id string, x, y int64, n float64) *engine.Transaction {
	t.Helper()
	tx, err := env.exec.Execute(context.Background(), id, engine.SourceUser, engine.Cursor{},
		setCells(entry(x, y, grid.Number(n))))
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.NoError(t, env.queue.Send(context.Background(), tx))
	return tx
}

func (env *queueEnv) unackedIDs(t *testing.T) []string {
	t.Helper()
	rows, err := env.ledger.Unacked(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids
}

func TestQueueAppliesInOrder(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		tx := remoteEdit(fmt.Sprintf("r-%d", i), i, int64(i), 1, float64(i))
		require.NoError(t, env.queue.ReceiveRemote(ctx, tx))
	}

	assert.Equal(t, uint64(3), env.queue.LastSequenceNum())
	assert.Equal(t, []string{"r-1", "r-2", "r-3"}, env.applier.applied)
	assert.Empty(t, env.requester.Requests)
}

func TestQueueOrderConvergence(t *testing.T) {
	ctx := context.Background()
	txs := []engine.RemoteTransaction{
		remoteEdit("r-1", 1, 1, 1, 10),
		remoteEdit("r-2", 2, 1, 1, 20),
		remoteEdit("r-3", 3, 2, 2, 30),
	}

	inOrder := newQueueEnv(t)
	for _, tx := range txs {
		require.NoError(t, inOrder.queue.ReceiveRemote(ctx, tx))
	}

	// Delivery order [3,1,2] must converge to the same state.
	scrambled := newQueueEnv(t)
	require.NoError(t, scrambled.queue.ReceiveRemote(ctx, txs[2]))
	require.NoError(t, scrambled.queue.ReceiveRemote(ctx, txs[0]))
	require.NoError(t, scrambled.queue.ReceiveRemote(ctx, txs[1]))

	assert.True(t, inOrder.exec.Grid().Equal(scrambled.exec.Grid()))
	assert.Equal(t, uint64(3), scrambled.queue.LastSequenceNum())
	assert.Equal(t, []string{"r-1", "r-2", "r-3"}, scrambled.applier.applied,
		"application order follows sequence numbers, not arrival order")
	assert.Equal(t, []testutil.GapRequest{{From: 1, To: 3}}, scrambled.requester.Requests)
}

func TestQueueDiscardsDuplicates(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	tx := remoteEdit("r-1", 1, 1, 1, 10)
	require.NoError(t, env.queue.ReceiveRemote(ctx, tx))
	require.NoError(t, env.queue.ReceiveRemote(ctx, tx))

	// A different transaction claiming an already-applied sequence
	// number is equally stale.
	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-other", 1, 5, 5, 99)))

	assert.Equal(t, []string{"r-1"}, env.applier.applied)
	assert.Equal(t, uint64(1), env.queue.LastSequenceNum())
}

func TestQueueRejectsUnsequencedRemote(t *testing.T) {
	env := newQueueEnv(t)
	err := env.queue.ReceiveRemote(context.Background(), remoteEdit("r-1", 0, 1, 1, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sequence number")
}

func TestQueueBuffersGapAndRequestsRange(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-1", 1, 1, 1, 1)))
	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-2", 2, 2, 1, 2)))

	// Sequence 5 arrives with 3 and 4 missing.
	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-5", 5, 5, 1, 5)))
	assert.Equal(t, 1, env.queue.BufferedCount())
	assert.Equal(t, uint64(2), env.queue.LastSequenceNum())
	assert.Equal(t, []testutil.GapRequest{{From: 3, To: 5}}, env.requester.Requests)

	// A second out-of-order arrival inside the requested range does not
	// re-request.
	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-4", 4, 4, 1, 4)))
	assert.Equal(t, 2, env.queue.BufferedCount())
	assert.Len(t, env.requester.Requests, 1)

	// The gap closes; everything buffered drains in sequence order.
	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-3", 3, 3, 1, 3)))
	assert.Equal(t, 0, env.queue.BufferedCount())
	assert.Equal(t, uint64(5), env.queue.LastSequenceNum())
	assert.Equal(t, []string{"r-1", "r-2", "r-3", "r-4", "r-5"}, env.applier.applied)
}

func TestQueueGapFillLimitRequiresReload(t *testing.T) {
	env := newQueueEnv(t, engine.WithGapFillLimit(2))
	ctx := context.Background()

	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-3", 3, 1, 1, 3)))
	require.Len(t, env.requester.Requests, 1)

	// First retry consumes the remaining attempt.
	require.NoError(t, env.queue.RetryGapFill(ctx))
	require.Len(t, env.requester.Requests, 2)

	// The next retry exceeds the limit and surfaces the reload condition.
	err := env.queue.RetryGapFill(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsProtocolError(err))
	require.Len(t, env.notifier.ReloadErrors, 1)

	// Once reload is required the queue goes quiet.
	assert.NoError(t, env.queue.RetryGapFill(ctx))
	assert.Len(t, env.requester.Requests, 2)
}

func TestQueueOwnEchoActsAsAck(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	tx := env.localEdit(t, "local-1", 1, 1, 5)
	assert.Equal(t, []string{"local-1"}, env.sender.SentIDs())
	assert.Equal(t, []string{"local-1"}, env.unackedIDs(t))

	// The authority broadcasts our transaction back with its sequence
	// number; it must count as the ack, never re-apply.
	require.NoError(t, env.queue.ReceiveRemote(ctx, engine.RemoteTransaction{
		ID:          tx.ID,
		SequenceNum: 1,
		Operations:  tx.Forward,
	}))

	assert.Empty(t, env.applier.applied)
	assert.Empty(t, env.unackedIDs(t))
	assert.Equal(t, uint64(1), env.queue.LastSequenceNum())
}

func TestQueueAckAheadBuffersPlaceholder(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	env.localEdit(t, "local-1", 1, 1, 5)

	// Our ack arrives carrying sequence 2 before the remote transaction
	// holding sequence 1.
	require.NoError(t, env.queue.ReceiveSequenceNum(ctx, "local-1", 2))
	assert.Empty(t, env.unackedIDs(t))
	assert.Equal(t, uint64(0), env.queue.LastSequenceNum())
	assert.Equal(t, []testutil.GapRequest{{From: 1, To: 2}}, env.requester.Requests)

	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-1", 1, 2, 2, 9)))
	assert.Equal(t, uint64(2), env.queue.LastSequenceNum())
	assert.Equal(t, []string{"r-1"}, env.applier.applied,
		"the placeholder steps over our own already-applied edit")
	assert.Equal(t, 0, env.queue.BufferedCount())
}

func TestQueueIgnoresUnknownAck(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	// An acknowledgement for an id this client never sent must not touch
	// the sequence accounting: the real transaction holding that number
	// still has to arrive and apply.
	require.NoError(t, env.queue.ReceiveSequenceNum(ctx, "phantom", 5))
	assert.Equal(t, uint64(0), env.queue.LastSequenceNum())
	assert.Equal(t, 0, env.queue.BufferedCount())
	assert.Empty(t, env.requester.Requests)

	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-1", 1, 1, 1, 1)))
	assert.Equal(t, []string{"r-1"}, env.applier.applied)
	assert.Equal(t, uint64(1), env.queue.LastSequenceNum())
}

func TestQueueOfflineRetainsAndResendsOnce(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	// Both broadcasts fail: the client is offline. Send still succeeds
	// and the edits stay in the ledger.
	env.sender.FailNext = true
	env.localEdit(t, "local-a", 1, 1, 1)
	env.sender.FailNext = true
	env.localEdit(t, "local-b", 2, 1, 2)

	assert.Empty(t, env.sender.Sent)
	assert.Equal(t, []string{"local-a", "local-b"}, env.unackedIDs(t))

	// Reconnect: each unsent transaction goes out exactly once, in
	// creation order.
	require.NoError(t, env.queue.ResendUnsent(ctx))
	assert.Equal(t, []string{"local-a", "local-b"}, env.sender.SentIDs())

	require.NoError(t, env.queue.ReceiveSequenceNum(ctx, "local-a", 1))
	require.NoError(t, env.queue.ReceiveSequenceNum(ctx, "local-b", 2))
	assert.Empty(t, env.unackedIDs(t))
	assert.Equal(t, uint64(2), env.queue.LastSequenceNum())
}

func TestQueueResendStopsOnTransportFailure(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	env.sender.FailNext = true
	env.localEdit(t, "local-a", 1, 1, 1)

	// Still offline: the resend fails quietly and the ledger keeps the
	// transaction for the next attempt.
	env.sender.FailNext = true
	require.NoError(t, env.queue.ResendUnsent(ctx))
	assert.Empty(t, env.sender.Sent)
	assert.Equal(t, []string{"local-a"}, env.unackedIDs(t))
}

func TestQueueSkipsStaleStructuralTarget(t *testing.T) {
	env := newQueueEnv(t)
	ctx := context.Background()

	// A remote edit against a sheet this client no longer has: skipped
	// under last-writer-wins, but the sequence number still advances.
	require.NoError(t, env.queue.ReceiveRemote(ctx, engine.RemoteTransaction{
		ID:          "r-1",
		SequenceNum: 1,
		Operations: []op.Op{op.SetCellValues{SheetID: "missing", Cells: []op.CellEntry{
			entry(1, 1, grid.Number(1)),
		}}},
	}))
	assert.Equal(t, uint64(1), env.queue.LastSequenceNum())

	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-2", 2, 1, 1, 2)))
	assert.Equal(t, grid.Number(2), cellAt(t, env.exec, 1, 1))
}

func TestQueueStartsFromCheckpointSequence(t *testing.T) {
	env := newQueueEnv(t, engine.WithLastSequenceNum(10))
	ctx := context.Background()

	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-old", 9, 1, 1, 1)))
	assert.Empty(t, env.applier.applied)

	require.NoError(t, env.queue.ReceiveRemote(ctx, remoteEdit("r-11", 11, 1, 1, 1)))
	assert.Equal(t, []string{"r-11"}, env.applier.applied)
	assert.Equal(t, uint64(11), env.queue.LastSequenceNum())
}

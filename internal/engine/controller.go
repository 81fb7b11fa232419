package engine

import (
	"context"
	"sync"

	"github.com/quadratichq/quadratic-sub015/internal/grid"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

// Controller is the façade composing the executor and the transaction
// queue: entry points for local edits, undo/redo, remote transactions,
// and async compute results.
//
// Each controller owns exactly one grid, one executor, one dependency
// tracker, and one queue. Multiple open documents get independent
// controllers; there is no package-level state.
//
// All entry points serialize on one mutex: no two transactions ever run
// concurrently against the same grid.
type Controller struct {
	mu    sync.Mutex
	exec  *Executor
	queue *Queue
	idGen IDGenerator
}

// ControllerOption configures a Controller.
type ControllerOption func(*controllerConfig)

type controllerConfig struct {
	idGen     IDGenerator
	notifier  Notifier
	execOpts  []ExecutorOption
	queueOpts []QueueOption
}

// WithIDGenerator substitutes the transaction id generator.
// Tests use a FixedGenerator for deterministic ids.
func WithIDGenerator(g IDGenerator) ControllerOption {
	return func(c *controllerConfig) {
		c.idGen = g
	}
}

// WithControllerNotifier installs the UI notification sink on both the
// executor and the queue.
func WithControllerNotifier(n Notifier) ControllerOption {
	return func(c *controllerConfig) {
		c.notifier = n
	}
}

// WithExecutorOptions forwards options to the executor.
func WithExecutorOptions(opts ...ExecutorOption) ControllerOption {
	return func(c *controllerConfig) {
		c.execOpts = append(c.execOpts, opts...)
	}
}

// WithQueueOptions forwards options to the queue.
func WithQueueOptions(opts ...QueueOption) ControllerOption {
	return func(c *controllerConfig) {
		c.queueOpts = append(c.queueOpts, opts...)
	}
}

// NewController wires a controller over a grid.
func NewController(
	g *grid.Grid,
	runtimes *RuntimeRegistry,
	sender Sender,
	requester Requester,
	ledger Ledger,
	opts ...ControllerOption,
) *Controller {
	cfg := &controllerConfig{
		idGen:    UUIDv7Generator{},
		notifier: NopNotifier{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	execOpts := append([]ExecutorOption{WithNotifier(cfg.notifier)}, cfg.execOpts...)
	exec := NewExecutor(g, runtimes, execOpts...)

	c := &Controller{exec: exec, idGen: cfg.idGen}
	c.queue = NewQueue(sender, requester, remoteApplier{exec}, ledger, cfg.notifier, cfg.queueOpts...)
	return c
}

// remoteApplier adapts the executor to the queue's Applier without
// re-entering the controller mutex: the queue only runs while the
// controller already holds it.
type remoteApplier struct {
	exec *Executor
}

func (a remoteApplier) ApplyRemote(ctx context.Context, tx RemoteTransaction) error {
	_, err := a.exec.Execute(ctx, tx.ID, SourceMultiplayer, Cursor{}, tx.Operations)
	return err
}

// ApplyUserEdit executes a local edit and, once complete, hands the
// forward operations to the queue for broadcast. A transaction that
// suspended on an async code cell broadcasts when it completes through
// ResumeCompute.
func (c *Controller) ApplyUserEdit(ctx context.Context, ops []op.Op, cursor Cursor) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.exec.Execute(ctx, c.idGen.Generate(), SourceUser, cursor, ops)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil // suspended
	}
	return tx, c.queue.Send(ctx, tx)
}

// Undo reverses the most recent undoable transaction. The undo itself
// is a new transaction and is broadcast like any other local edit.
// Returns nil when there is nothing to undo.
func (c *Controller) Undo(ctx context.Context) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.exec.Undo(ctx, c.idGen.Generate())
	if err != nil || tx == nil {
		return tx, err
	}
	return tx, c.queue.Send(ctx, tx)
}

// Redo replays the most recently undone transaction.
func (c *Controller) Redo(ctx context.Context) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.exec.Redo(ctx, c.idGen.Generate())
	if err != nil || tx == nil {
		return tx, err
	}
	return tx, c.queue.Send(ctx, tx)
}

// ReceiveRemote delivers a multiplayer transaction to the queue.
func (c *Controller) ReceiveRemote(ctx context.Context, tx RemoteTransaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.ReceiveRemote(ctx, tx)
}

// ReceiveSequenceNum delivers the authority's acknowledgement of a
// local transaction.
func (c *Controller) ReceiveSequenceNum(ctx context.Context, txID string, seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.ReceiveSequenceNum(ctx, txID, seq)
}

// ResumeCompute delivers an external evaluation result. If the owning
// transaction completes (rather than suspending again) and is local, it
// is broadcast.
func (c *Controller) ResumeCompute(ctx context.Context, res AsyncResult) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.exec.Resume(ctx, res)
	if err != nil || tx == nil {
		return tx, err
	}
	if tx.Source.isLocal() {
		return tx, c.queue.Send(ctx, tx)
	}
	return tx, nil
}

// CancelCompute cancels an in-flight async request, resolving the
// suspended transaction with a cancellation error value.
func (c *Controller) CancelCompute(ctx context.Context, txID string) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.exec.Cancel(ctx, txID)
	if err != nil || tx == nil {
		return tx, err
	}
	if tx.Source.isLocal() {
		return tx, c.queue.Send(ctx, tx)
	}
	return tx, nil
}

// Reconnect resends every unacknowledged local transaction in original
// creation order.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.ResendUnsent(ctx)
}

// RetryGapFill re-requests an open sequence gap on the transport's
// retry cadence.
func (c *Controller) RetryGapFill(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.RetryGapFill(ctx)
}

// Grid returns the controller's grid for reads (rendering, tests).
func (c *Controller) Grid() *grid.Grid {
	return c.exec.Grid()
}

// CanUndo reports undo availability.
func (c *Controller) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec.CanUndo()
}

// CanRedo reports redo availability.
func (c *Controller) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec.CanRedo()
}

// LastSequenceNum returns the last applied authority sequence number.
func (c *Controller) LastSequenceNum() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.LastSequenceNum()
}

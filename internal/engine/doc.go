// Package engine implements the transaction and collaboration core of
// the spreadsheet runtime.
//
// ARCHITECTURE:
//
// Single-Threaded Cooperative Execution:
// All mutations of one document's grid happen under one controller
// mutex. This ensures:
// - No two transactions ever run concurrently against the same grid
// - Deterministic cascade order (dirty cells recompute in sorted order)
// - Simple reasoning about the undo invariant
//
// Transaction Flow:
// 1. User action builds operations; Controller.ApplyUserEdit opens a
//    pending transaction
// 2. Executor applies operations one at a time, accumulating forward
//    and reverse lists (reverse prepended, so undo restores in exact
//    opposite order)
// 3. After each operation the dependency tracker answers which code
//    cells must recompute; recomputations append to the same
//    transaction so they are logged, broadcast, and undoable
// 4. A code cell needing an external evaluator suspends the
//    transaction (AwaitingExternal); Resume re-enters the cascade
// 5. On completion the reverse operations push onto the undo stack as
//    a unit and the forward operations go to the queue for broadcast
//
// Multiplayer Reconciliation:
// Concurrency exists only across clients and is reconciled solely
// through the ordering authority's sequence numbers. Local edits apply
// optimistically before their sequence number is known; conflicting
// edits resolve as last-write-wins per the authority's order at cell
// granularity. The queue buffers out-of-order arrivals, requests gap
// fills with a bounded attempt budget, and retains unacknowledged
// local transactions in a durable ledger for resend after reconnect.
//
// INVARIANTS:
//   - Applying a transaction's reverse operations in order exactly
//     undoes its forward operations applied in order
//   - Dependency edges for a code cell are replaced wholesale on every
//     re-evaluation, recorded at request-issue time for async cells
//   - At most one outstanding async request per transaction
//   - A failing reverse operation is fatal, never swallowed
package engine

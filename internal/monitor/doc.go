// Package monitor is the core of the node monitor: it executes verified
// subscription actions and reconciles observed node status with what each
// subscriber was last told.
//
// ARCHITECTURE:
//
// The core talks to the outside world only through the interfaces in
// store.go: a transactional Store, a mail Sender, a message Renderer and a
// snapshot Source. Everything else (HTTP, SQL dialects, SMTP, templates) lives
// in other packages and is injected.
//
// Action execution:
//  1. The web layer verifies a token (package action) and gets an Action.
//  2. Executor.Execute applies it in one transaction and reports whether
//     anything changed. Re-running a verified action is a no-op, never an
//     error.
//
// Reconciliation tick:
//  1. Fetch the node snapshot. Failure aborts the tick before any write.
//  2. Refresh the node cache and list monitors in one transaction.
//  3. For every monitor whose last notified status differs from the observed
//     one, send the notification and record the new status in the same
//     transaction. A failed send rolls the transaction back, so the same
//     transition is detected again on the next tick.
//
// Ticks never overlap: Scheduler serializes them with a mutex. Cancellation
// is honoured between monitors only; a started transition always runs to
// commit or rollback.
package monitor

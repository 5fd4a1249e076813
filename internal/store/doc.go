// Package store provides the SQLite-backed subscription store.
//
// Tables:
//   - nodes: cached node snapshot (id, name, status)
//   - monitors: subscriptions, UNIQUE(email, node_id), with the status the
//     subscriber was last notified about
//   - confirmed_emails: addresses that followed a confirmation link
//
// All writes go through InTx, which implements monitor.Store. Read-only
// views for the web pages (MonitorsForEmail, ListNodes, LookupNode) query
// the database directly.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//   - a single open connection, so transactions are serialized
//
// Result ordering is always explicit (ORDER BY id or email, node_id) so
// reconciliation visits monitors in a stable order.
package store

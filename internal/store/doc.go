// Package store provides the SQLite-backed document store that kinship
// merges pending changes into.
//
// Each entity is persisted as one document keyed by its local identifier.
// The body is canonical JSON holding attributes and, per relationship field,
// either one identifier or an ordered identifier list.
//
// # Revisions
//
// Every document carries a revision. BulkPut rejects a document whose
// revision does not match the stored one with ErrConflict; other documents
// in the same batch are still written.
//
// # Write notifications
//
// Observers registered with Observe are called synchronously, after the
// transaction commits, once per written document. The change ledger uses
// this to drop merged changes no matter which writer touched the document.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - one open connection, so ":memory:" databases survive across queries
package store

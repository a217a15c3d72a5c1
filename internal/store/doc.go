// Package store provides SQLite-backed durable storage for msgweave
// discussions and their reconciliation state.
//
// Tables:
//   - discussions: owned identity, title and per-discussion overrides
//   - messages: the arena; one row per Received, Sent or System message
//   - sequence_cursors: latest sequence number per sender lane
//   - pending_replies: replies whose target has not arrived yet
//   - pending_mutations: edits, deletes and reactions awaiting their target
//   - delete_tombstones: references already removed by a remote delete
//   - reactions: one live reaction (or removal marker) per requester
//   - expirations: ephemeral deadlines, at most one per kind and message
//   - recipient_infos: per-recipient delivery progress of sent messages
//
// # Idempotency
//
// Redelivered input must never create a second row. The messages table is
// UNIQUE on permanent_id, on (discussion, sender, thread, seq) and on the
// engine message id; pending mutations are UNIQUE on a canonical
// fingerprint of the payload. Inserts use ON CONFLICT DO NOTHING and report
// whether a row was written.
//
// # Ordering
//
// Timeline queries order by sort_index, then id, so ties resolve the same
// way on every read.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Discussion deletion cascades to owned rows
//
// Every engine step runs inside one transaction (Store.WithTx).
package store

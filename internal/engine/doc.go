// Package engine implements the msgweave reconciliation engine.
//
// The engine receives decrypted messages, remote mutations, and delivery
// acknowledgements in whatever order the transport hands them over, and
// maintains one consistent timeline per discussion.
//
// ARCHITECTURE:
//
// Components, leaves first:
//   - SequenceTracker (sequence.go): per-lane cursors and missed counts
//   - SortIndexResolver (sortindex.go): display position of a message
//   - PendingReferenceResolver (pending.go): replies and mutations that
//     arrive before their target
//   - RemoteMutationReconciler (mutation.go): delete, edit, and reaction
//     precedence
//   - EphemeralLifecycleManager (ephemeral.go): read-once, visibility, and
//     existence timers
//   - DeliveryStatusTracker (delivery.go): aggregated status of sent
//     messages
//
// Step Model:
// Every public operation takes the discussion's mutex and runs inside one
// store transaction. Notifications collected during the step are published
// only after commit, stamped by the logical Clock.
//
// Error Policy:
// Referential errors and policy rejections are dropped and counted.
// Invariant violations roll the step back and are returned. Nothing is
// retried.
//
// Idempotence:
// Redelivering any payload leaves the arena unchanged. Duplicates are
// detected by lane position, engine message id, mutation fingerprint, and
// delete tombstones.
package engine

// Package harness replays YAML scenarios through the engine and checks
// the resulting timelines.
//
// # Scenario Format
//
//	name: reply-before-target
//	description: "A reply arriving before its target resolves later"
//	owner: owner                      # owned identity, default "owner"
//	start: 2024-05-01T12:00:00Z       # manual clock start, optional
//	settings:
//	  retain_wiped_outbound_messages: false
//	steps:
//	  - message: {sender: alice, thread: phone, seq: 2, at: 20, reply_to: {sender: alice, thread: phone, seq: 1}}
//	  - message: {sender: alice, thread: phone, seq: 1, at: 10}
//	  - mutation: {kind: reaction, requester: bob, target: {sender: alice, thread: phone, seq: 1}, at: 30, emoji: "👍"}
//	  - advance: 30s
//	  - sweep: true
//	assertions:
//	  - type: order
//	    refs: [{sender: alice, thread: phone, seq: 1}, {sender: alice, thread: phone, seq: 2}]
//	  - type: message
//	    ref: {sender: alice, thread: phone, seq: 2}
//	    expect: {reply: available, missed: 0}
//	  - type: stats
//	    expect: {pending_replies: 0}
//
// Times written as "at" are whole seconds after start. Thread names are
// mapped to stable UUIDs; a name that already is a UUID is used as is.
//
// # Step Types
//
//   - message: ingest a received payload (or a sent one when sender is the owner)
//   - mutation: ingest a remote delete, edit, or reaction
//   - outbound: record a message composed on this device
//   - assign, ack: drive delivery status
//   - seen, read, delete_locally: local user actions
//   - advance: move the manual clock
//   - sweep, purge, retention, exit: maintenance operations
//
// # Assertion Types
//
//   - order: the listed messages appear in this relative timeline order
//   - message: subset match on one message's observable fields
//   - absent: the message is not stored
//   - stats: subset match on arena row counts
//   - notifications: exact sequence of notification kinds
//
// # Golden Files
//
// RunWithGolden snapshots the final timeline and notifications as
// canonical JSON under testdata/golden. Permanent ids come from a
// sequential generator, so snapshots are byte-stable.
package harness

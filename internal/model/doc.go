// Package model defines the domain types of the message ordering and
// reconciliation engine.
//
// Messages are a tagged union over three kinds (received, sent, system)
// sharing a common struct. Cross-message edges (reply targets) are plain
// arena keys, never pointers, so the object graph has no cycles.
//
// Upstream payloads (MessagePayload, MutationPayload, AcknowledgementPayload,
// OutboundMessage) are the only way state enters the engine; Notification
// values are the only way state changes leave it.
package model

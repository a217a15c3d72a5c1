package model

import "time"

// PendingReply is a reply whose target has not arrived yet. It is owned by
// the replying message and removed once the target resolves.
type PendingReply struct {
	MessageID    int64
	DiscussionID int64
	Target       Reference
	CreatedAt    time.Time
}

// MutationKind names a remote mutation request.
type MutationKind string

const (
	MutationDelete   MutationKind = "delete"
	MutationEdit     MutationKind = "edit"
	MutationReaction MutationKind = "reaction"
)

// Valid reports whether k is a known mutation kind.
func (k MutationKind) Valid() bool {
	switch k {
	case MutationDelete, MutationEdit, MutationReaction:
		return true
	}
	return false
}

// PendingMutation is a delete, edit, or reaction that arrived before its
// target. It is owned by the discussion.
type PendingMutation struct {
	ID              int64
	DiscussionID    int64
	Fingerprint     string
	Kind            MutationKind
	Requester       Identity
	Target          Reference
	ServerTimestamp time.Time

	// Edit payload.
	Body     string
	Mentions []Identity

	// Reaction payload. Empty removes the requester's reaction.
	Emoji string

	CreatedAt time.Time
}

// Mutation converts the stored record back into an applicable request.
func (p PendingMutation) Mutation() MutationPayload {
	return MutationPayload{
		DiscussionID:    p.DiscussionID,
		Kind:            p.Kind,
		Requester:       p.Requester,
		Target:          p.Target,
		ServerTimestamp: p.ServerTimestamp,
		Body:            p.Body,
		Mentions:        p.Mentions,
		Emoji:           p.Emoji,
		Authorized:      true,
	}
}

// DeleteTombstone records a remote delete that was applied to its target.
// Later mutations addressed to the same reference are no-ops.
type DeleteTombstone struct {
	DiscussionID    int64
	Target          Reference
	Requester       Identity
	ServerTimestamp time.Time
	AppliedAt       time.Time
}

// Reaction is the live reaction of one requester on one message. An empty
// Emoji marks a removal kept only to order later requests.
type Reaction struct {
	MessageID       int64
	Requester       Identity
	Emoji           string
	ServerTimestamp time.Time
}

// ExpirationKind names one of the four expiration timers.
type ExpirationKind string

const (
	ExpirationReceivedExistence  ExpirationKind = "received_limited_existence"
	ExpirationReceivedVisibility ExpirationKind = "received_limited_visibility"
	ExpirationSentExistence      ExpirationKind = "sent_limited_existence"
	ExpirationSentVisibility     ExpirationKind = "sent_limited_visibility"
)

// ExpirationRecord is one absolute deadline attached to one message.
type ExpirationRecord struct {
	MessageID int64
	Kind      ExpirationKind
	ExpiresAt time.Time
}

// ReplyStateKind discriminates ReplyState.
type ReplyStateKind string

const (
	ReplyNone            ReplyStateKind = "none"
	ReplyNotAvailableYet ReplyStateKind = "not_available_yet"
	ReplyAvailable       ReplyStateKind = "available"
	ReplyDeleted         ReplyStateKind = "deleted"
)

// ReplyState is the display state of a message's reply link. TargetID is
// set only for ReplyAvailable.
type ReplyState struct {
	Kind     ReplyStateKind
	TargetID int64
}

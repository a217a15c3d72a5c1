package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the message variants.
type Kind string

const (
	KindReceived Kind = "received"
	KindSent     Kind = "sent"
	KindSystem   Kind = "system"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindReceived, KindSent, KindSystem:
		return true
	}
	return false
}

// Ephemerality holds the three independent self-destruction parameters.
// A zero duration means the corresponding timer is disabled.
type Ephemerality struct {
	ReadOnce   bool          `yaml:"read_once" json:"read_once,omitempty"`
	Visibility time.Duration `yaml:"visibility" json:"visibility,omitempty"`
	Existence  time.Duration `yaml:"existence" json:"existence,omitempty"`
}

// IsEphemeral reports whether any timer is set.
func (e Ephemerality) IsEphemeral() bool {
	return e.ReadOnce || e.Visibility > 0 || e.Existence > 0
}

// RequiresUserAction reports whether the message content must stay hidden
// until the user explicitly opens it.
func (e Ephemerality) RequiresUserAction() bool {
	return e.ReadOnce || e.Visibility > 0
}

// Message is the common part of every message variant. Exactly one of
// Received, Sent, or System is non-nil and matches Kind.
type Message struct {
	// ID is the arena key. Stable for the lifetime of the row.
	ID int64

	// PermanentID survives across process restarts and is what downstream
	// notifications carry.
	PermanentID uuid.UUID

	DiscussionID int64
	Kind         Kind

	// Sender and ThreadID are empty for system messages.
	Sender   Identity
	ThreadID uuid.UUID
	Sequence int64

	SortIndex float64
	Timestamp time.Time

	IsReply       bool
	ReplyTargetID *int64

	Body     *string
	Mentions []Identity

	// MentionsOwnedIdentity is derived: recomputed on edit and on reply
	// resolution.
	MentionsOwnedIdentity bool

	Forwarded    bool
	Ephemerality Ephemerality
	Lifecycle    []LifecycleEvent

	Received *ReceivedDetails
	Sent     *SentDetails
	System   *SystemDetails
}

// Reference returns the logical identity of the message.
func (m *Message) Reference() Reference {
	return Reference{Sender: m.Sender, ThreadID: m.ThreadID, Sequence: m.Sequence}
}

// Lane returns the numbering lane of the message.
func (m *Message) Lane() Lane {
	return Lane{Sender: m.Sender, ThreadID: m.ThreadID}
}

// IsWiped reports whether the message content was wiped, locally or remotely.
func (m *Message) IsWiped() bool {
	for _, ev := range m.Lifecycle {
		if ev.Kind == LifecycleWiped || ev.Kind == LifecycleRemoteWiped {
			return true
		}
	}
	return false
}

// LastEdit returns the date of the edited event, if any.
func (m *Message) LastEdit() (time.Time, bool) {
	for _, ev := range m.Lifecycle {
		if ev.Kind == LifecycleEdited {
			return ev.Date, true
		}
	}
	return time.Time{}, false
}

// BodyText returns the body or the empty string.
func (m *Message) BodyText() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// ReceivedStatus is the local reading state of a received message.
type ReceivedStatus string

const (
	ReceivedNew    ReceivedStatus = "new"
	ReceivedUnread ReceivedStatus = "unread"
	ReceivedRead   ReceivedStatus = "read"
)

// ReceivedDetails are the fields only received messages carry.
type ReceivedDetails struct {
	EngineMessageID string
	MissedCount     int64
	Status          ReceivedStatus
	ReadAt          *time.Time
	DownloadedAt    time.Time
}

// SentDetails are the fields only sent messages carry. Recipients is
// populated only by loaders that ask for it.
type SentDetails struct {
	Status     DeliveryStatus
	Recipients []RecipientInfo
}

// SystemDetails are the fields only system messages carry.
type SystemDetails struct {
	Category string
}

// LifecycleKind names a lifecycle metadata event.
type LifecycleKind string

const (
	LifecycleRead        LifecycleKind = "read"
	LifecycleWiped       LifecycleKind = "wiped"
	LifecycleRemoteWiped LifecycleKind = "remote_wiped"
	LifecycleEdited      LifecycleKind = "edited"
)

// LifecycleEvent is one entry of a message's ordered metadata. Remote is
// set for remote-wiped events only.
type LifecycleEvent struct {
	Kind   LifecycleKind `json:"kind"`
	Date   time.Time     `json:"date"`
	Remote Identity      `json:"remote,omitempty"`
}

// RecipientInfo tracks one intended recipient of a sent message.
type RecipientInfo struct {
	MessageID       int64
	Recipient       Identity
	EngineMessageID string
	SentAt          *time.Time
	DeliveredAt     *time.Time
	ReadAt          *time.Time
	Failed          bool
}

// Discussion is the owner of a message arena.
type Discussion struct {
	ID            int64
	OwnedIdentity Identity
	Title         string

	// Per-discussion overrides; nil falls back to the engine configuration.
	RetainWipedOutbound *bool
	TimeRetention       *time.Duration
	CountRetention      *int64

	CreatedAt time.Time
}

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// MessagePayload is a decrypted message handed over by the transport layer.
// A payload whose Sender is the discussion's owned identity was authored on
// another device of the same identity.
type MessagePayload struct {
	DiscussionID    int64
	Sender          Identity
	ThreadID        uuid.UUID
	Sequence        int64
	Body            string
	Mentions        []Identity
	ReplyTo         *Reference
	Ephemerality    Ephemerality
	Forwarded       bool
	EngineMessageID string
	ServerTimestamp time.Time
	DownloadedAt    time.Time
}

// Validate checks the fields every payload must carry.
func (p MessagePayload) Validate() error {
	if p.DiscussionID == 0 {
		return fmt.Errorf("message payload: missing discussion id")
	}
	if p.Sender == "" {
		return fmt.Errorf("message payload: missing sender identity")
	}
	if p.ThreadID == uuid.Nil {
		return fmt.Errorf("message payload: missing sender thread id")
	}
	if p.Sequence < 0 {
		return fmt.Errorf("message payload: negative sequence number %d", p.Sequence)
	}
	if p.ServerTimestamp.IsZero() {
		return fmt.Errorf("message payload: missing server timestamp")
	}
	return nil
}

// Reference returns the logical identity of the carried message.
func (p MessagePayload) Reference() Reference {
	return Reference{Sender: p.Sender, ThreadID: p.ThreadID, Sequence: p.Sequence}
}

// OutboundMessage is a message composed on this device.
type OutboundMessage struct {
	DiscussionID int64
	ThreadID     uuid.UUID
	Sequence     int64
	Body         string
	Mentions     []Identity
	ReplyTo      *Reference
	Ephemerality Ephemerality
	Recipients   []Identity
	Timestamp    time.Time
}

// MutationPayload is a remote delete, edit, or reaction request.
// Authorized is decided upstream by the discussion's permission model.
type MutationPayload struct {
	DiscussionID    int64
	Kind            MutationKind
	Requester       Identity
	Target          Reference
	ServerTimestamp time.Time

	Body     string
	Mentions []Identity
	Emoji    string

	Authorized bool
}

// Validate checks the fields every mutation must carry.
func (p MutationPayload) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("mutation payload: unknown kind %q", p.Kind)
	}
	if p.DiscussionID == 0 {
		return fmt.Errorf("mutation payload: missing discussion id")
	}
	if p.Requester == "" {
		return fmt.Errorf("mutation payload: missing requester identity")
	}
	if p.Target.Sender == "" || p.Target.ThreadID == uuid.Nil {
		return fmt.Errorf("mutation payload: incomplete target reference %s", p.Target)
	}
	if p.ServerTimestamp.IsZero() {
		return fmt.Errorf("mutation payload: missing server timestamp")
	}
	return nil
}

// AcknowledgementPayload reports progress of one recipient of a sent
// message, addressed by the engine message id assigned to that recipient.
type AcknowledgementPayload struct {
	EngineMessageID string
	Recipient       Identity
	SentAt          *time.Time
	DeliveredAt     *time.Time
	ReadAt          *time.Time
	Failed          bool
}

// NormalizeBody trims surrounding whitespace and applies NFC so equal
// text from different devices stores identically.
func NormalizeBody(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeEmoji applies NFC to a reaction emoji.
func NormalizeEmoji(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

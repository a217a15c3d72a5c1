package model

import "github.com/google/uuid"

// NotificationKind names a downstream event.
type NotificationKind string

const (
	NotifyMessageInserted       NotificationKind = "message_inserted"
	NotifyMessageUpdated        NotificationKind = "message_updated"
	NotifyMessageDeleted        NotificationKind = "message_deleted"
	NotifyDeliveryStatusChanged NotificationKind = "delivery_status_changed"
)

// DeletionKind tells consumers whether the row survived.
type DeletionKind string

const (
	DeletionWiped   DeletionKind = "wiped"
	DeletionDeleted DeletionKind = "deleted"
)

// Notification is a fire-and-forget event for the UI and notification
// layers. Seq comes from the engine's logical clock and is strictly
// increasing per engine.
type Notification struct {
	Seq          int64            `json:"seq"`
	Kind         NotificationKind `json:"kind"`
	DiscussionID int64            `json:"discussion_id"`
	PermanentID  uuid.UUID        `json:"permanent_id"`
	Deletion     DeletionKind     `json:"deletion,omitempty"`
	Status       DeliveryStatus   `json:"status,omitempty"`
}

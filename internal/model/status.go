package model

// DeliveryStatus is the aggregated status of a sent message.
type DeliveryStatus string

const (
	StatusUnprocessed     DeliveryStatus = "unprocessed"
	StatusProcessing      DeliveryStatus = "processing"
	StatusSent            DeliveryStatus = "sent"
	StatusDelivered       DeliveryStatus = "delivered"
	StatusRead            DeliveryStatus = "read"
	StatusCouldNotBeSent  DeliveryStatus = "couldNotBeSentToOneOrMoreRecipients"
	StatusNoRecipient     DeliveryStatus = "hasNoRecipient"
	StatusFromOtherDevice DeliveryStatus = "sentFromAnotherOwnedDevice"
)

// IsAbsorbing reports whether the status can never change again.
func (s DeliveryStatus) IsAbsorbing() bool {
	switch s {
	case StatusCouldNotBeSent, StatusNoRecipient, StatusFromOtherDevice:
		return true
	}
	return false
}

// progress orders the linear part of the state machine. Absorbing states
// have no rank.
func (s DeliveryStatus) progress() int {
	switch s {
	case StatusUnprocessed:
		return 0
	case StatusProcessing:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return -1
}

// HasReachedSent reports whether the message left the device for every
// recipient.
func (s DeliveryStatus) HasReachedSent() bool {
	return s.progress() >= StatusSent.progress()
}

// Precedes reports whether s comes strictly before other on the linear
// path unprocessed → processing → sent → delivered → read.
func (s DeliveryStatus) Precedes(other DeliveryStatus) bool {
	a, b := s.progress(), other.progress()
	return a >= 0 && b >= 0 && a < b
}

// ComputeDeliveryStatus aggregates recipient infos into one status.
// current is returned unchanged when it is absorbing.
func ComputeDeliveryStatus(current DeliveryStatus, infos []RecipientInfo) DeliveryStatus {
	if current.IsAbsorbing() {
		return current
	}
	if len(infos) == 0 {
		return StatusNoRecipient
	}

	var assigned, sent, delivered, read int
	failed := false
	for _, info := range infos {
		if info.EngineMessageID != "" {
			assigned++
		}
		if info.SentAt != nil {
			sent++
		}
		if info.DeliveredAt != nil {
			delivered++
		}
		if info.ReadAt != nil {
			read++
		}
		if info.Failed {
			failed = true
		}
	}

	total := len(infos)
	switch {
	case assigned == 0:
		return StatusUnprocessed
	case read == total:
		return StatusRead
	case delivered == total:
		return StatusDelivered
	case sent == total:
		return StatusSent
	case failed:
		return StatusCouldNotBeSent
	default:
		return StatusProcessing
	}
}

package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
)

// recomputeStatus aggregates the recipient infos of a sent message and
// publishes the change. The sent timers start the first time the message
// leaves the device.
func (o *op) recomputeStatus(m *model.Message) error {
	infos, err := o.tx.ListRecipients(o.ctx, m.ID)
	if err != nil {
		return err
	}
	prev := m.Sent.Status
	next := model.ComputeDeliveryStatus(prev, infos)
	if next == prev {
		return nil
	}

	m.Sent.Status = next
	if err := o.tx.UpdateMessage(o.ctx, m); err != nil {
		return err
	}
	o.notify(model.NotifyDeliveryStatusChanged, m)
	o.logger().Debug("delivery status changed", "discussion", o.disc.ID, "message", m.PermanentID, "from", prev, "to", next)

	if !prev.HasReachedSent() && (next.HasReachedSent() || next == model.StatusNoRecipient) {
		return o.scheduleSentExpirations(m)
	}
	return nil
}

// AssignEngineMessageID records the id the transport assigned to one
// recipient's copy of a sent message.
func (e *Engine) AssignEngineMessageID(ctx context.Context, permanentID uuid.UUID, recipient model.Identity, engineMessageID string) error {
	if engineMessageID == "" {
		return fmt.Errorf("assign engine message id: empty id")
	}
	return e.withMessage(ctx, permanentID, "assign engine message id", func(o *op, m *model.Message) error {
		if m.Sent == nil {
			return NewInvariantError(o.disc.ID, "message %s is not a sent message", m.PermanentID)
		}
		infos, err := o.tx.ListRecipients(o.ctx, m.ID)
		if err != nil {
			return err
		}
		for _, info := range infos {
			if info.Recipient != recipient {
				continue
			}
			if info.EngineMessageID == engineMessageID {
				return nil
			}
			info.EngineMessageID = engineMessageID
			if err := o.tx.UpsertRecipient(o.ctx, info); err != nil {
				return err
			}
			return o.recomputeStatus(m)
		}
		return NewReferentialError(o.disc.ID, "%s is not a recipient of %s", recipient, m.PermanentID)
	})
}

// IngestAcknowledgement records delivery progress reported for one
// recipient. Timestamps already known are kept.
func (e *Engine) IngestAcknowledgement(ctx context.Context, ack model.AcknowledgementPayload) error {
	if ack.EngineMessageID == "" {
		return fmt.Errorf("ingest acknowledgement: missing engine message id")
	}

	var permanentID uuid.UUID
	err := e.store.View(ctx, func(tx *store.Tx) error {
		info, err := tx.FindRecipientByEngineID(ctx, ack.EngineMessageID)
		if err != nil {
			return err
		}
		if info == nil {
			return NewReferentialError(0, "no recipient for engine message id %s", ack.EngineMessageID)
		}
		m, err := tx.GetMessage(ctx, info.MessageID)
		if err != nil {
			return err
		}
		permanentID = m.PermanentID
		return nil
	})
	if err != nil {
		return e.handle("ingest acknowledgement", err)
	}

	return e.withMessage(ctx, permanentID, "ingest acknowledgement", func(o *op, m *model.Message) error {
		info, err := o.tx.FindRecipientByEngineID(o.ctx, ack.EngineMessageID)
		if err != nil {
			return err
		}
		if info == nil {
			return NewReferentialError(o.disc.ID, "recipient for %s vanished", ack.EngineMessageID)
		}
		if ack.Recipient != "" && ack.Recipient != info.Recipient {
			return NewReferentialError(o.disc.ID, "acknowledgement from %s for %s's copy", ack.Recipient, info.Recipient)
		}

		changed := false
		if info.SentAt == nil && ack.SentAt != nil {
			info.SentAt, changed = ack.SentAt, true
		}
		if info.DeliveredAt == nil && ack.DeliveredAt != nil {
			info.DeliveredAt, changed = ack.DeliveredAt, true
		}
		if info.ReadAt == nil && ack.ReadAt != nil {
			info.ReadAt, changed = ack.ReadAt, true
		}
		if !info.Failed && ack.Failed {
			info.Failed, changed = true, true
		}
		if !changed {
			return nil
		}
		if err := o.tx.UpsertRecipient(o.ctx, *info); err != nil {
			return err
		}
		return o.recomputeStatus(m)
	})
}

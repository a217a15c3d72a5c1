package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/msgweave/internal/model"
)

// IngestMessage places a decrypted message into its discussion's timeline.
// Redeliveries are no-ops.
func (e *Engine) IngestMessage(ctx context.Context, p model.MessagePayload) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("ingest message: %w", err)
	}
	return e.withDiscussion(ctx, p.DiscussionID, "ingest message", func(o *op) error {
		return o.ingestMessage(p)
	})
}

func (o *op) ingestMessage(p model.MessagePayload) error {
	ref := p.Reference()

	if p.EngineMessageID != "" {
		dup, err := o.tx.FindMessageByEngineID(o.ctx, p.EngineMessageID)
		if err != nil {
			return err
		}
		if dup != nil {
			o.logger().Debug("duplicate engine message id", "discussion", o.disc.ID, "engine_message_id", p.EngineMessageID)
			return nil
		}
	}
	dup, err := o.tx.FindMessageByReference(o.ctx, o.disc.ID, ref)
	if err != nil {
		return err
	}
	if dup != nil {
		o.logger().Debug("duplicate message", "discussion", o.disc.ID, "ref", ref.String())
		return nil
	}
	tomb, err := o.tx.FindDeleteTombstone(o.ctx, o.disc.ID, ref)
	if err != nil {
		return err
	}
	if tomb != nil {
		o.logger().Debug("message already deleted remotely", "discussion", o.disc.ID, "ref", ref.String())
		return nil
	}

	fromOwnedDevice := p.Sender == o.disc.OwnedIdentity

	var missed int64
	if !fromOwnedDevice {
		if missed, err = o.observeSequence(ref.Lane(), ref.Sequence); err != nil {
			return err
		}
	}
	sortIndex, ts, err := o.place(ref.Lane(), ref.Sequence, p.ServerTimestamp)
	if err != nil {
		return err
	}

	m := &model.Message{
		PermanentID:  o.e.ids.NewID(),
		DiscussionID: o.disc.ID,
		Sender:       p.Sender,
		ThreadID:     p.ThreadID,
		Sequence:     p.Sequence,
		SortIndex:    sortIndex,
		Timestamp:    ts,
		Mentions:     slices.Clone(p.Mentions),
		Forwarded:    p.Forwarded,
		Ephemerality: p.Ephemerality,
	}
	if body := model.NormalizeBody(p.Body); body != "" {
		m.Body = &body
	}
	if fromOwnedDevice {
		m.Kind = model.KindSent
		m.Sent = &model.SentDetails{Status: model.StatusFromOtherDevice}
	} else {
		downloadedAt := p.DownloadedAt
		if downloadedAt.IsZero() {
			downloadedAt = o.now
		}
		m.Kind = model.KindReceived
		m.Received = &model.ReceivedDetails{
			EngineMessageID: p.EngineMessageID,
			MissedCount:     missed,
			Status:          model.ReceivedNew,
			DownloadedAt:    downloadedAt,
		}
	}

	return o.insertMessage(m, p.ReplyTo)
}

// insertMessage stores a freshly built message and runs everything that
// follows its arrival.
func (o *op) insertMessage(m *model.Message, replyTo *model.Reference) error {
	pendingReply := false
	if replyTo != nil {
		var err error
		if pendingReply, err = o.linkReply(m, *replyTo); err != nil {
			return err
		}
	} else {
		m.MentionsOwnedIdentity = mentionsOwned(m, nil, o.disc.OwnedIdentity)
	}

	inserted, err := o.tx.InsertMessage(o.ctx, m)
	if err != nil {
		return err
	}
	if !inserted {
		return NewInvariantError(o.disc.ID, "message %s collided with a stored message", m.Reference())
	}
	if pendingReply {
		if err := o.recordPendingReply(m, *replyTo); err != nil {
			return err
		}
	}
	if err := o.scheduleCreationExpirations(m); err != nil {
		return err
	}

	o.e.metrics.Placed.Inc()
	o.notify(model.NotifyMessageInserted, m)
	o.logger().Debug("message placed",
		"discussion", o.disc.ID, "kind", m.Kind, "ref", m.Reference().String(), "sort_index", m.SortIndex)

	return o.onMessageArrived(m)
}

// RecordOutbound stores a message composed on this device and returns it.
// Recording the same lane position twice returns the stored message.
func (e *Engine) RecordOutbound(ctx context.Context, out model.OutboundMessage) (*model.Message, error) {
	if out.DiscussionID == 0 {
		return nil, fmt.Errorf("record outbound: missing discussion id")
	}
	var m *model.Message
	err := e.withDiscussion(ctx, out.DiscussionID, "record outbound", func(o *op) error {
		var err error
		m, err = o.recordOutbound(out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (o *op) recordOutbound(out model.OutboundMessage) (*model.Message, error) {
	lane := model.Lane{Sender: o.disc.OwnedIdentity, ThreadID: out.ThreadID}
	ref := model.Reference{Sender: lane.Sender, ThreadID: lane.ThreadID, Sequence: out.Sequence}

	existing, err := o.tx.FindMessageByReference(o.ctx, o.disc.ID, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	claimed := out.Timestamp
	if claimed.IsZero() {
		claimed = o.now
	}
	sortIndex, ts, err := o.place(lane, out.Sequence, claimed)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		PermanentID:  o.e.ids.NewID(),
		DiscussionID: o.disc.ID,
		Kind:         model.KindSent,
		Sender:       lane.Sender,
		ThreadID:     lane.ThreadID,
		Sequence:     out.Sequence,
		SortIndex:    sortIndex,
		Timestamp:    ts,
		Mentions:     slices.Clone(out.Mentions),
		Ephemerality: out.Ephemerality,
		Sent:         &model.SentDetails{Status: model.StatusUnprocessed},
	}
	if body := model.NormalizeBody(out.Body); body != "" {
		m.Body = &body
	}
	if err := o.insertMessage(m, out.ReplyTo); err != nil {
		return nil, err
	}

	seen := make(map[model.Identity]bool, len(out.Recipients))
	for _, r := range out.Recipients {
		if seen[r] || r == o.disc.OwnedIdentity {
			continue
		}
		seen[r] = true
		if err := o.tx.UpsertRecipient(o.ctx, model.RecipientInfo{MessageID: m.ID, Recipient: r}); err != nil {
			return nil, err
		}
	}
	if err := o.recomputeStatus(m); err != nil {
		return nil, err
	}
	return m, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
)

// visibilityDeadline returns when a message read at readAt stops being
// visible, given that the step runs at now. Time already elapsed since the
// read (on another device, say) is charged against the visibility window.
func visibilityDeadline(now, readAt time.Time, visibility time.Duration) time.Time {
	elapsed := max(0, now.Sub(readAt))
	return now.Add(max(0, visibility-elapsed))
}

func (o *op) addExpiration(m *model.Message, kind model.ExpirationKind, at time.Time) error {
	err := o.tx.InsertExpiration(o.ctx, model.ExpirationRecord{MessageID: m.ID, Kind: kind, ExpiresAt: at})
	if errors.Is(err, store.ErrDuplicateExpiration) {
		return NewInvariantError(o.disc.ID, "message %s already has a %s expiration", m.PermanentID, kind)
	}
	if err != nil {
		return err
	}
	o.logger().Debug("expiration scheduled", "discussion", o.disc.ID, "message", m.PermanentID, "kind", kind, "at", at)
	return nil
}

// scheduleCreationExpirations attaches the timers that start when a
// message is stored. Received messages start their existence timer at
// download time; messages sent from another owned device start both sent
// timers right away.
func (o *op) scheduleCreationExpirations(m *model.Message) error {
	eph := m.Ephemerality
	switch m.Kind {
	case model.KindReceived:
		if eph.Existence > 0 {
			return o.addExpiration(m, model.ExpirationReceivedExistence, m.Received.DownloadedAt.Add(eph.Existence))
		}
	case model.KindSent:
		if m.Sent.Status == model.StatusFromOtherDevice {
			return o.scheduleSentExpirations(m)
		}
	}
	return nil
}

// scheduleSentExpirations attaches the sent timers, counted from now.
func (o *op) scheduleSentExpirations(m *model.Message) error {
	eph := m.Ephemerality
	if eph.Existence > 0 {
		if err := o.addExpiration(m, model.ExpirationSentExistence, o.now.Add(eph.Existence)); err != nil {
			return err
		}
	}
	if eph.Visibility > 0 {
		if err := o.addExpiration(m, model.ExpirationSentVisibility, o.now.Add(eph.Visibility)); err != nil {
			return err
		}
	}
	return nil
}

// wipe removes the content of m but keeps the row with a lifecycle event.
func (o *op) wipe(m *model.Message, ev model.LifecycleEvent) error {
	if m.IsWiped() {
		return nil
	}
	m.Body = nil
	m.Mentions = nil
	m.MentionsOwnedIdentity = false
	m.Lifecycle = append(m.Lifecycle, ev)
	if err := o.tx.UpdateMessage(o.ctx, m); err != nil {
		return err
	}
	if err := o.tx.DeleteReactions(o.ctx, m.ID); err != nil {
		return err
	}
	if err := o.tx.DeleteExpirations(o.ctx, m.ID); err != nil {
		return err
	}
	o.notifyDeleted(m, model.DeletionWiped)
	return nil
}

// hardDelete removes m. Replies pointing at it switch to the deleted
// reply state.
func (o *op) hardDelete(m *model.Message) error {
	replies, err := o.tx.ListRepliesTo(o.ctx, m.ID)
	if err != nil {
		return err
	}
	if err := o.tx.DeleteMessage(o.ctx, m.ID); err != nil {
		return err
	}
	o.notifyDeleted(m, model.DeletionDeleted)
	for _, r := range replies {
		r.ReplyTargetID = nil
		o.notify(model.NotifyMessageUpdated, r)
	}
	return nil
}

// destroy ends the life of an expired or consumed message: sent messages
// are wiped when the wipe policy retains them, everything else is deleted.
func (o *op) destroy(m *model.Message) error {
	if m.Kind == model.KindSent && o.e.settings.retainWiped(o.disc) {
		return o.wipe(m, model.LifecycleEvent{Kind: model.LifecycleWiped, Date: o.now})
	}
	return o.hardDelete(m)
}

func (o *op) markRead(m *model.Message, readAt time.Time, remote bool) error {
	if m.Received == nil {
		return NewInvariantError(o.disc.ID, "message %s is not a received message", m.PermanentID)
	}
	if m.Received.Status == model.ReceivedRead {
		return nil
	}
	if m.Ephemerality.ReadOnce && remote {
		o.logger().Info("read-once message read on another device, deleting", "discussion", o.disc.ID, "message", m.PermanentID)
		return o.hardDelete(m)
	}

	m.Received.Status = model.ReceivedRead
	m.Received.ReadAt = &readAt
	m.Lifecycle = append(m.Lifecycle, model.LifecycleEvent{Kind: model.LifecycleRead, Date: readAt})
	if err := o.tx.UpdateMessage(o.ctx, m); err != nil {
		return err
	}
	if v := m.Ephemerality.Visibility; v > 0 {
		if err := o.addExpiration(m, model.ExpirationReceivedVisibility, visibilityDeadline(o.now, readAt, v)); err != nil {
			return err
		}
	}
	o.notify(model.NotifyMessageUpdated, m)
	return nil
}

// MarkSeen records that the user saw a new message in the list. Messages
// whose content stays hidden until opened become unread; others are read.
func (e *Engine) MarkSeen(ctx context.Context, permanentID uuid.UUID) error {
	return e.withMessage(ctx, permanentID, "mark seen", func(o *op, m *model.Message) error {
		if m.Received == nil || m.Received.Status != model.ReceivedNew {
			return nil
		}
		if m.Ephemerality.RequiresUserAction() {
			m.Received.Status = model.ReceivedUnread
			if err := o.tx.UpdateMessage(o.ctx, m); err != nil {
				return err
			}
			o.notify(model.NotifyMessageUpdated, m)
			return nil
		}
		return o.markRead(m, o.now, false)
	})
}

// MarkRead records that a received message was read at readAt, locally or
// on another owned device (remote).
func (e *Engine) MarkRead(ctx context.Context, permanentID uuid.UUID, readAt time.Time, remote bool) error {
	return e.withMessage(ctx, permanentID, "mark read", func(o *op, m *model.Message) error {
		return o.markRead(m, readAt, remote)
	})
}

// ExitDiscussion destroys the read-once messages the user already
// consumed in the discussion (received and read, or sent) and returns how
// many there were.
func (e *Engine) ExitDiscussion(ctx context.Context, discussionID int64) (int, error) {
	var n int
	err := e.withDiscussion(ctx, discussionID, "exit discussion", func(o *op) error {
		msgs, err := o.tx.ListReadOnceConsumed(o.ctx, discussionID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.IsWiped() {
				continue
			}
			if err := o.destroy(m); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// SweepExpired destroys every message with an expiration at or before now
// and returns how many were destroyed. Safe to call repeatedly.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var due []store.DueMessage
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		due, err = tx.ListDueMessages(ctx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}

	byDiscussion := make(map[int64][]int64)
	var order []int64
	for _, d := range due {
		if _, ok := byDiscussion[d.DiscussionID]; !ok {
			order = append(order, d.DiscussionID)
		}
		byDiscussion[d.DiscussionID] = append(byDiscussion[d.DiscussionID], d.MessageID)
	}

	total := 0
	for _, discussionID := range order {
		n := 0
		err := e.withDiscussion(ctx, discussionID, "sweep expired", func(o *op) error {
			n = 0
			for _, id := range byDiscussion[discussionID] {
				m, err := o.tx.GetMessage(o.ctx, id)
				if store.IsNotFound(err) {
					continue
				}
				if err != nil {
					return err
				}
				exps, err := o.tx.ListExpirations(o.ctx, id)
				if err != nil {
					return err
				}
				if len(exps) == 0 || exps[0].ExpiresAt.After(now) {
					continue
				}
				if err := o.destroy(m); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		e.metrics.Expired.Add(float64(n))
	}
	if total > 0 {
		e.logger.Info("expired messages swept", "count", total, "now", now)
	}
	return total, nil
}

// ApplyRetention deletes the discussion's messages that fall outside its
// time-based or count-based retention. Received messages still marked new
// and outbound messages that have not left the device are kept.
func (e *Engine) ApplyRetention(ctx context.Context, discussionID int64, now time.Time) (int, error) {
	var n int
	err := e.withDiscussion(ctx, discussionID, "apply retention", func(o *op) error {
		maxAge := e.settings.timeRetention(o.disc)
		keep := e.settings.countRetention(o.disc)
		if maxAge == 0 && keep == 0 {
			return nil
		}
		candidates, err := o.tx.ListRetentionCandidates(o.ctx, discussionID)
		if err != nil {
			return err
		}
		cutoff := now.Add(-maxAge)
		for i, m := range candidates {
			tooMany := keep > 0 && int64(i) >= keep
			tooOld := maxAge > 0 && m.Timestamp.Before(cutoff)
			if !tooMany && !tooOld {
				continue
			}
			if err := o.hardDelete(m); err != nil {
				return err
			}
			n++
		}
		if n > 0 {
			o.logger().Info("retention applied", "discussion", discussionID, "deleted", n)
		}
		return nil
	})
	return n, err
}

// DeleteLocally removes a message from this device only.
func (e *Engine) DeleteLocally(ctx context.Context, permanentID uuid.UUID) error {
	return e.withMessage(ctx, permanentID, "delete locally", func(o *op, m *model.Message) error {
		return o.hardDelete(m)
	})
}

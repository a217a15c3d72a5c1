package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
)

// mentionsOwned derives the owned-identity mention flag of m. target is
// the resolved reply target, if any.
func mentionsOwned(m, target *model.Message, owned model.Identity) bool {
	if slices.Contains(m.Mentions, owned) {
		return true
	}
	if target == nil {
		return false
	}
	return target.Kind == model.KindSent || slices.Contains(target.Mentions, owned)
}

// linkReply resolves the reply target of a message that is about to be
// stored. It reports whether a pending reply reference must be recorded
// once the message has its arena key.
func (o *op) linkReply(m *model.Message, target model.Reference) (bool, error) {
	m.IsReply = true
	t, err := o.tx.FindMessageByReference(o.ctx, o.disc.ID, target)
	if err != nil {
		return false, err
	}
	if t != nil {
		m.ReplyTargetID = &t.ID
		m.MentionsOwnedIdentity = mentionsOwned(m, t, o.disc.OwnedIdentity)
		return false, nil
	}

	m.MentionsOwnedIdentity = mentionsOwned(m, nil, o.disc.OwnedIdentity)
	tomb, err := o.tx.FindDeleteTombstone(o.ctx, o.disc.ID, target)
	if err != nil {
		return false, err
	}
	// A target that was deleted before the reply arrived never resolves.
	return tomb == nil, nil
}

func (o *op) recordPendingReply(m *model.Message, target model.Reference) error {
	err := o.tx.InsertPendingReply(o.ctx, model.PendingReply{
		MessageID:    m.ID,
		DiscussionID: o.disc.ID,
		Target:       target,
		CreatedAt:    o.now,
	})
	if err != nil {
		return err
	}
	o.e.metrics.Pending.WithLabelValues("reply").Inc()
	o.logger().Debug("reply target not available yet", "discussion", o.disc.ID, "target", target.String())
	return nil
}

// onMessageArrived resolves every forward reference waiting for m: pending
// replies first, then queued remote mutations.
func (o *op) onMessageArrived(m *model.Message) error {
	if o.inProgress[m.PermanentID] {
		o.logger().Warn("re-entrant reconciliation refused", "discussion", o.disc.ID, "message", m.PermanentID)
		return nil
	}
	o.inProgress[m.PermanentID] = true
	defer delete(o.inProgress, m.PermanentID)

	if m.Kind == model.KindSystem {
		return nil
	}

	waiting, err := o.tx.ListPendingRepliesFor(o.ctx, o.disc.ID, m.Reference())
	if err != nil {
		return err
	}
	for _, p := range waiting {
		reply, err := o.tx.GetMessage(o.ctx, p.MessageID)
		if err != nil {
			return err
		}
		reply.ReplyTargetID = &m.ID
		reply.MentionsOwnedIdentity = mentionsOwned(reply, m, o.disc.OwnedIdentity)
		if err := o.tx.UpdateMessage(o.ctx, reply); err != nil {
			return err
		}
		if err := o.tx.DeletePendingReply(o.ctx, reply.ID); err != nil {
			return err
		}
		o.notify(model.NotifyMessageUpdated, reply)
	}

	return o.applyQueuedMutations(m)
}

// replyState computes the display state of m's reply link.
func replyState(ctx context.Context, tx *store.Tx, m *model.Message) (model.ReplyState, error) {
	if !m.IsReply {
		return model.ReplyState{Kind: model.ReplyNone}, nil
	}
	if m.ReplyTargetID != nil {
		return model.ReplyState{Kind: model.ReplyAvailable, TargetID: *m.ReplyTargetID}, nil
	}
	waiting, err := tx.HasPendingReply(ctx, m.ID)
	if err != nil {
		return model.ReplyState{}, err
	}
	if waiting {
		return model.ReplyState{Kind: model.ReplyNotAvailableYet}, nil
	}
	return model.ReplyState{Kind: model.ReplyDeleted}, nil
}

// PurgeResult counts the forward references dropped by PurgeStalePending.
type PurgeResult struct {
	Replies   int64
	Mutations int64
}

// PurgeStalePending drops pending replies and mutations older than the
// pending TTL. Purged replies display as deleted and are reported updated.
func (e *Engine) PurgeStalePending(ctx context.Context, now time.Time) (PurgeResult, error) {
	var res PurgeResult
	if e.settings.PendingTTL == 0 {
		return res, nil
	}
	cutoff := now.Add(-e.settings.PendingTTL)

	var stale []model.PendingReply
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		stale, err = tx.ListPendingRepliesBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge stale pending: %w", err)
	}

	byDiscussion := make(map[int64][]int64)
	var order []int64
	for _, p := range stale {
		if _, ok := byDiscussion[p.DiscussionID]; !ok {
			order = append(order, p.DiscussionID)
		}
		byDiscussion[p.DiscussionID] = append(byDiscussion[p.DiscussionID], p.MessageID)
	}
	for _, discussionID := range order {
		var n int64
		err := e.withDiscussion(ctx, discussionID, "purge stale pending", func(o *op) error {
			n = 0
			for _, id := range byDiscussion[discussionID] {
				// Resolved or deleted since the listing.
				waiting, err := o.tx.HasPendingReply(o.ctx, id)
				if err != nil {
					return err
				}
				if !waiting {
					continue
				}
				if err := o.tx.DeletePendingReply(o.ctx, id); err != nil {
					return err
				}
				m, err := o.tx.GetMessage(o.ctx, id)
				if err != nil {
					return err
				}
				o.notify(model.NotifyMessageUpdated, m)
				n++
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		res.Replies += n
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		res.Mutations, err = tx.DeletePendingMutationsBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("purge stale pending: %w", err)
	}
	if res.Replies > 0 || res.Mutations > 0 {
		e.logger.Info("stale pending references purged", "replies", res.Replies, "mutations", res.Mutations, "cutoff", cutoff)
	}
	return res, nil
}

package engine

import (
	"context"
	"fmt"

	"github.com/roach88/msgweave/internal/model"
)

// IngestMutation applies a remote delete, edit, or reaction, or queues it
// until its target arrives.
func (e *Engine) IngestMutation(ctx context.Context, p model.MutationPayload) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("ingest mutation: %w", err)
	}
	if !p.Authorized {
		return e.handle("ingest mutation", NewPolicyError(p.DiscussionID, string(p.Requester), "%s of %s not authorized", p.Kind, p.Target))
	}
	p.Body = model.NormalizeBody(p.Body)
	p.Emoji = model.NormalizeEmoji(p.Emoji)

	return e.withDiscussion(ctx, p.DiscussionID, "ingest mutation", func(o *op) error {
		return o.ingestMutation(p)
	})
}

func (o *op) ingestMutation(p model.MutationPayload) error {
	tomb, err := o.tx.FindDeleteTombstone(o.ctx, o.disc.ID, p.Target)
	if err != nil {
		return err
	}
	if tomb != nil {
		o.logger().Debug("mutation ignored, target deleted",
			"discussion", o.disc.ID, "kind", p.Kind, "target", p.Target.String(), "deleted_at", tomb.ServerTimestamp)
		return nil
	}

	target, err := o.tx.FindMessageByReference(o.ctx, o.disc.ID, p.Target)
	if err != nil {
		return err
	}
	if target == nil {
		return o.storePending(p)
	}
	return o.applyMutation(p, target)
}

// storePending queues a mutation whose target has not arrived, keeping at
// most one delete, one edit, and one reaction per requester per target.
func (o *op) storePending(p model.MutationPayload) error {
	queued, err := o.tx.ListPendingMutationsFor(o.ctx, o.disc.ID, p.Target)
	if err != nil {
		return err
	}
	var pendingDelete *model.PendingMutation
	for i := range queued {
		if queued[i].Kind == model.MutationDelete {
			pendingDelete = &queued[i]
		}
	}

	ignore := func(reason string) error {
		o.logger().Debug("mutation ignored", "discussion", o.disc.ID, "kind", p.Kind, "target", p.Target.String(), "reason", reason)
		return nil
	}

	switch p.Kind {
	case model.MutationDelete:
		// The oldest delete wins.
		if pendingDelete != nil {
			if !p.ServerTimestamp.Before(pendingDelete.ServerTimestamp) {
				return ignore("older delete pending")
			}
			if err := o.tx.DeletePendingMutation(o.ctx, pendingDelete.ID); err != nil {
				return err
			}
		}
		if _, err := o.tx.DeletePendingMutationsFor(o.ctx, o.disc.ID, p.Target, model.MutationEdit, model.MutationReaction); err != nil {
			return err
		}

	case model.MutationEdit:
		// Only the sender may edit, whether or not the target arrived.
		if p.Requester != p.Target.Sender {
			return NewPolicyError(o.disc.ID, string(p.Requester), "edit of %s by someone other than its sender", p.Target)
		}
		if pendingDelete != nil {
			return ignore("delete pending")
		}
		for _, q := range queued {
			if q.Kind == model.MutationEdit && !q.ServerTimestamp.Before(p.ServerTimestamp) {
				return ignore("newer edit pending")
			}
		}
		if _, err := o.tx.DeletePendingMutationsFor(o.ctx, o.disc.ID, p.Target, model.MutationEdit); err != nil {
			return err
		}

	case model.MutationReaction:
		if pendingDelete != nil {
			return ignore("delete pending")
		}
		for _, q := range queued {
			if q.Kind != model.MutationReaction || q.Requester != p.Requester {
				continue
			}
			if !q.ServerTimestamp.Before(p.ServerTimestamp) {
				return ignore("newer reaction pending")
			}
			if err := o.tx.DeletePendingMutation(o.ctx, q.ID); err != nil {
				return err
			}
		}
	}

	fp, err := model.MutationFingerprint(p)
	if err != nil {
		return err
	}
	inserted, err := o.tx.InsertPendingMutation(o.ctx, model.PendingMutation{
		DiscussionID:    o.disc.ID,
		Fingerprint:     fp,
		Kind:            p.Kind,
		Requester:       p.Requester,
		Target:          p.Target,
		ServerTimestamp: p.ServerTimestamp,
		Body:            p.Body,
		Mentions:        p.Mentions,
		Emoji:           p.Emoji,
		CreatedAt:       o.now,
	})
	if err != nil {
		return err
	}
	if inserted {
		o.e.metrics.Pending.WithLabelValues(string(p.Kind)).Inc()
		o.logger().Debug("mutation queued until target arrives", "discussion", o.disc.ID, "kind", p.Kind, "target", p.Target.String())
	}
	return nil
}

// applyQueuedMutations replays the mutations queued for a message that
// just arrived: a delete first, which ends everything, then edits, then
// reactions, each by ascending server timestamp.
func (o *op) applyQueuedMutations(m *model.Message) error {
	queued, err := o.tx.ListPendingMutationsFor(o.ctx, o.disc.ID, m.Reference())
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		return nil
	}
	if _, err := o.tx.DeletePendingMutationsFor(o.ctx, o.disc.ID, m.Reference()); err != nil {
		return err
	}

	for _, q := range queued {
		if q.Kind == model.MutationDelete {
			return o.applyQueued(q, m)
		}
	}
	for _, kind := range []model.MutationKind{model.MutationEdit, model.MutationReaction} {
		for _, q := range queued {
			if q.Kind != kind {
				continue
			}
			if err := o.applyQueued(q, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *op) applyQueued(q model.PendingMutation, m *model.Message) error {
	err := o.applyMutation(q.Mutation(), m)
	if isDropped(err) {
		o.e.handle("apply queued mutation", err)
		return nil
	}
	return err
}

func (o *op) applyMutation(p model.MutationPayload, target *model.Message) error {
	var err error
	switch p.Kind {
	case model.MutationDelete:
		err = o.applyDelete(p, target)
	case model.MutationEdit:
		err = o.applyEdit(p, target)
	case model.MutationReaction:
		err = o.applyReaction(p, target)
	default:
		return NewInvariantError(o.disc.ID, "unknown mutation kind %q", p.Kind)
	}
	if err != nil {
		return err
	}
	o.e.metrics.Applied.WithLabelValues(string(p.Kind)).Inc()
	return nil
}

// applyDelete destroys the target and leaves a tombstone so later
// mutations and redeliveries of the same reference are ignored.
func (o *op) applyDelete(p model.MutationPayload, target *model.Message) error {
	switch {
	case target.Kind == model.KindSent && o.e.settings.retainWiped(o.disc):
		if err := o.wipe(target, model.LifecycleEvent{Kind: model.LifecycleWiped, Date: p.ServerTimestamp}); err != nil {
			return err
		}
	case p.Requester != o.disc.OwnedIdentity && p.Requester != target.Sender:
		ev := model.LifecycleEvent{Kind: model.LifecycleRemoteWiped, Date: p.ServerTimestamp, Remote: p.Requester}
		if err := o.wipe(target, ev); err != nil {
			return err
		}
	default:
		if err := o.hardDelete(target); err != nil {
			return err
		}
	}

	if _, err := o.tx.DeletePendingMutationsFor(o.ctx, o.disc.ID, target.Reference()); err != nil {
		return err
	}
	o.logger().Info("remote delete applied", "discussion", o.disc.ID, "target", target.Reference().String(), "requester", p.Requester)
	return o.tx.InsertDeleteTombstone(o.ctx, model.DeleteTombstone{
		DiscussionID:    o.disc.ID,
		Target:          target.Reference(),
		Requester:       p.Requester,
		ServerTimestamp: p.ServerTimestamp,
		AppliedAt:       o.now,
	})
}

func (o *op) applyEdit(p model.MutationPayload, target *model.Message) error {
	if p.Requester != target.Sender {
		return NewPolicyError(o.disc.ID, string(p.Requester), "edit of %s by someone other than its sender", target.Reference())
	}
	if target.IsWiped() {
		return nil
	}
	if last, ok := target.LastEdit(); ok && !p.ServerTimestamp.After(last) {
		o.logger().Debug("edit ignored, newer edit applied", "discussion", o.disc.ID, "target", target.Reference().String())
		return nil
	}

	body := p.Body
	target.Body = &body
	target.Mentions = p.Mentions
	events := target.Lifecycle[:0:0]
	for _, ev := range target.Lifecycle {
		if ev.Kind != model.LifecycleEdited {
			events = append(events, ev)
		}
	}
	target.Lifecycle = append(events, model.LifecycleEvent{Kind: model.LifecycleEdited, Date: p.ServerTimestamp})

	var replyTarget *model.Message
	if target.ReplyTargetID != nil {
		var err error
		if replyTarget, err = o.tx.GetMessage(o.ctx, *target.ReplyTargetID); err != nil {
			return err
		}
	}
	target.MentionsOwnedIdentity = mentionsOwned(target, replyTarget, o.disc.OwnedIdentity)

	if err := o.tx.UpdateMessage(o.ctx, target); err != nil {
		return err
	}
	o.notify(model.NotifyMessageUpdated, target)
	return nil
}

func (o *op) applyReaction(p model.MutationPayload, target *model.Message) error {
	if target.IsWiped() {
		return nil
	}
	existing, err := o.tx.FindReaction(o.ctx, target.ID, p.Requester)
	if err != nil {
		return err
	}
	if existing != nil && !p.ServerTimestamp.After(existing.ServerTimestamp) {
		o.logger().Debug("reaction ignored, newer reaction applied", "discussion", o.disc.ID, "target", target.Reference().String(), "requester", p.Requester)
		return nil
	}
	err = o.tx.UpsertReaction(o.ctx, model.Reaction{
		MessageID:       target.ID,
		Requester:       p.Requester,
		Emoji:           p.Emoji,
		ServerTimestamp: p.ServerTimestamp,
	})
	if err != nil {
		return err
	}
	o.notify(model.NotifyMessageUpdated, target)
	return nil
}

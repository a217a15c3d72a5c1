package engine

import (
	"context"
	"fmt"

	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
)

// TimelineEntry is one displayable row of a discussion.
type TimelineEntry struct {
	Message   *model.Message
	Reply     model.ReplyState
	Reactions []model.Reaction
}

// Timeline returns the discussion's messages in display order with their
// reply states and live reactions. Sent messages carry their recipients.
func (e *Engine) Timeline(ctx context.Context, discussionID int64) ([]TimelineEntry, error) {
	var entries []TimelineEntry
	err := e.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetDiscussion(ctx, discussionID); err != nil {
			if store.IsNotFound(err) {
				return fmt.Errorf("unknown discussion %d", discussionID)
			}
			return err
		}
		msgs, err := tx.ListMessages(ctx, discussionID)
		if err != nil {
			return err
		}
		entries = make([]TimelineEntry, 0, len(msgs))
		for _, m := range msgs {
			reply, err := replyState(ctx, tx, m)
			if err != nil {
				return err
			}
			reactions, err := tx.ListReactions(ctx, m.ID)
			if err != nil {
				return err
			}
			if m.Sent != nil {
				if m.Sent.Recipients, err = tx.ListRecipients(ctx, m.ID); err != nil {
					return err
				}
			}
			entries = append(entries, TimelineEntry{Message: m, Reply: reply, Reactions: reactions})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	return entries, nil
}

// Expirations returns the expiration records of a message.
func (e *Engine) Expirations(ctx context.Context, messageID int64) ([]model.ExpirationRecord, error) {
	var out []model.ExpirationRecord
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListExpirations(ctx, messageID)
		return err
	})
	return out, err
}

package engine

import "github.com/roach88/msgweave/internal/model"

// observeSequence advances the lane cursor for an arriving received message
// and returns how many messages are still missing right before it.
//
// When the message fills a gap behind the cursor, the gap previously
// charged to its stored successor is split: the successor keeps only the
// messages between the two, and the arriving message takes the rest.
func (o *op) observeSequence(lane model.Lane, seq int64) (int64, error) {
	latest, found, err := o.tx.FindCursor(o.ctx, o.disc.ID, lane)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, o.tx.UpsertCursor(o.ctx, o.disc.ID, lane, seq)
	}

	switch {
	case seq > latest:
		if err := o.tx.UpsertCursor(o.ctx, o.disc.ID, lane, seq); err != nil {
			return 0, err
		}
		return seq - latest - 1, nil
	case seq == latest:
		o.logger().Warn("sequence collision", "discussion", o.disc.ID, "lane", lane.String(), "seq", seq)
		return 0, nil
	}

	succ, err := o.tx.FindNextInLane(o.ctx, o.disc.ID, lane, seq)
	if err != nil {
		return 0, err
	}
	if succ == nil || succ.Received == nil {
		return 0, nil
	}

	distance := succ.Sequence - seq
	if succ.Received.MissedCount < distance {
		return 0, nil
	}
	remaining := succ.Received.MissedCount - distance
	succ.Received.MissedCount = distance - 1
	if err := o.tx.SetMissedCount(o.ctx, succ.ID, succ.Received.MissedCount); err != nil {
		return 0, err
	}
	o.notify(model.NotifyMessageUpdated, succ)
	return remaining, nil
}

package engine

import (
	"time"

	"github.com/roach88/msgweave/internal/model"
)

// epochSeconds is the unclamped sort index of a claimed timestamp.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// place computes the sort index and effective timestamp of a message at
// position seq of lane.
//
// The claimed timestamp is trusted unless it would put the message on the
// wrong side of a lane neighbour. A message claiming to be at or after its
// lane successor is clamped just below the successor; one claiming to be
// at or before its lane predecessor is clamped just above it. The
// effective timestamp then borrows the neighbour's.
//
// Neighbours are compared by sort index, not timestamp, so a neighbour that
// was itself clamped still bounds the message.
func (o *op) place(lane model.Lane, seq int64, claimed time.Time) (float64, time.Time, error) {
	idx := epochSeconds(claimed)
	eps := o.e.settings.SortEpsilon

	next, err := o.tx.FindNextInLane(o.ctx, o.disc.ID, lane, seq)
	if err != nil {
		return 0, time.Time{}, err
	}
	if next != nil && idx >= next.SortIndex {
		before, ok, err := o.tx.SortIndexBefore(o.ctx, o.disc.ID, next.SortIndex)
		if err != nil {
			return 0, time.Time{}, err
		}
		if ok {
			idx = (before + next.SortIndex) / 2
		} else {
			idx = next.SortIndex - eps
		}
		o.e.metrics.Clamped.WithLabelValues("down").Inc()
		o.logger().Debug("sort index clamped below successor",
			"discussion", o.disc.ID, "lane", lane.String(), "seq", seq, "successor", next.Sequence, "sort_index", idx)
		return idx, next.Timestamp, nil
	}

	prev, err := o.tx.FindPrevInLane(o.ctx, o.disc.ID, lane, seq)
	if err != nil {
		return 0, time.Time{}, err
	}
	if prev != nil && idx <= prev.SortIndex {
		after, ok, err := o.tx.SortIndexAfter(o.ctx, o.disc.ID, prev.SortIndex)
		if err != nil {
			return 0, time.Time{}, err
		}
		if ok {
			idx = (prev.SortIndex + after) / 2
		} else {
			idx = prev.SortIndex + eps
		}
		o.e.metrics.Clamped.WithLabelValues("up").Inc()
		o.logger().Debug("sort index clamped above predecessor",
			"discussion", o.disc.ID, "lane", lane.String(), "seq", seq, "predecessor", prev.Sequence, "sort_index", idx)
		return idx, prev.Timestamp, nil
	}

	return idx, claimed, nil
}

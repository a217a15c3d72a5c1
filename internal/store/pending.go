package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/msgweave/internal/model"
)

// FindCursor returns the latest sequence number seen on a lane.
func (t *Tx) FindCursor(ctx context.Context, discussionID int64, lane model.Lane) (latest int64, found bool, err error) {
	err = t.tx.GetContext(ctx, &latest, `
		SELECT latest_sequence_number FROM sequence_cursors
		WHERE discussion_id = ? AND sender_identity = ? AND sender_thread_id = ?
	`, discussionID, string(lane.Sender), threadString(lane.ThreadID))
	if IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find cursor: %w", err)
	}
	return latest, true, nil
}

// UpsertCursor sets the latest sequence number of a lane.
func (t *Tx) UpsertCursor(ctx context.Context, discussionID int64, lane model.Lane, latest int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sequence_cursors (discussion_id, sender_identity, sender_thread_id, latest_sequence_number)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(discussion_id, sender_identity, sender_thread_id)
		DO UPDATE SET latest_sequence_number = excluded.latest_sequence_number
	`, discussionID, string(lane.Sender), threadString(lane.ThreadID), latest)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

type pendingReplyRow struct {
	MessageID            int64  `db:"message_id"`
	DiscussionID         int64  `db:"discussion_id"`
	TargetSenderIdentity string `db:"target_sender_identity"`
	TargetThreadID       string `db:"target_thread_id"`
	TargetSequenceNumber int64  `db:"target_sequence_number"`
	CreatedAtMS          int64  `db:"created_at_ms"`
}

func (r pendingReplyRow) toModel() (model.PendingReply, error) {
	thread, err := parseThread(r.TargetThreadID)
	if err != nil {
		return model.PendingReply{}, err
	}
	return model.PendingReply{
		MessageID:    r.MessageID,
		DiscussionID: r.DiscussionID,
		Target:       model.Reference{Sender: model.Identity(r.TargetSenderIdentity), ThreadID: thread, Sequence: r.TargetSequenceNumber},
		CreatedAt:    fromMillis(r.CreatedAtMS),
	}, nil
}

// InsertPendingReply records an unresolved reply. Idempotent per replying
// message.
func (t *Tx) InsertPendingReply(ctx context.Context, p model.PendingReply) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pending_replies
		(message_id, discussion_id, target_sender_identity, target_thread_id, target_sequence_number, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, p.MessageID, p.DiscussionID, string(p.Target.Sender), threadString(p.Target.ThreadID), p.Target.Sequence, toMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert pending reply: %w", err)
	}
	return nil
}

// ListPendingRepliesFor returns the pending replies addressed to ref.
func (t *Tx) ListPendingRepliesFor(ctx context.Context, discussionID int64, ref model.Reference) ([]model.PendingReply, error) {
	var rows []pendingReplyRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT message_id, discussion_id, target_sender_identity, target_thread_id, target_sequence_number, created_at_ms
		FROM pending_replies
		WHERE discussion_id = ? AND target_sender_identity = ? AND target_thread_id = ? AND target_sequence_number = ?
		ORDER BY message_id ASC
	`, discussionID, string(ref.Sender), threadString(ref.ThreadID), ref.Sequence)
	if err != nil {
		return nil, fmt.Errorf("list pending replies: %w", err)
	}
	out := make([]model.PendingReply, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("list pending replies: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// HasPendingReply reports whether the message still waits for its target.
func (t *Tx) HasPendingReply(ctx context.Context, messageID int64) (bool, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_replies WHERE message_id = ?`, messageID); err != nil {
		return false, fmt.Errorf("has pending reply: %w", err)
	}
	return n > 0, nil
}

// DeletePendingReply removes the pending record owned by messageID.
func (t *Tx) DeletePendingReply(ctx context.Context, messageID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM pending_replies WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete pending reply: %w", err)
	}
	return nil
}

// ListPendingRepliesBefore returns the pending replies created before
// cutoff, grouped by discussion.
func (t *Tx) ListPendingRepliesBefore(ctx context.Context, cutoff time.Time) ([]model.PendingReply, error) {
	var rows []pendingReplyRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT message_id, discussion_id, target_sender_identity, target_thread_id, target_sequence_number, created_at_ms
		FROM pending_replies
		WHERE created_at_ms < ?
		ORDER BY discussion_id ASC, message_id ASC
	`, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale pending replies: %w", err)
	}
	out := make([]model.PendingReply, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("list stale pending replies: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

type pendingMutationRow struct {
	ID                   int64  `db:"id"`
	DiscussionID         int64  `db:"discussion_id"`
	Fingerprint          string `db:"fingerprint"`
	Kind                 string `db:"kind"`
	RequesterIdentity    string `db:"requester_identity"`
	TargetSenderIdentity string `db:"target_sender_identity"`
	TargetThreadID       string `db:"target_thread_id"`
	TargetSequenceNumber int64  `db:"target_sequence_number"`
	ServerTimestampMS    int64  `db:"server_timestamp_ms"`
	Body                 string `db:"body"`
	Mentions             string `db:"mentions"`
	Emoji                string `db:"emoji"`
	CreatedAtMS          int64  `db:"created_at_ms"`
}

const pendingMutationColumns = `id, discussion_id, fingerprint, kind, requester_identity,
	target_sender_identity, target_thread_id, target_sequence_number,
	server_timestamp_ms, body, mentions, emoji, created_at_ms`

func (r pendingMutationRow) toModel() (model.PendingMutation, error) {
	thread, err := parseThread(r.TargetThreadID)
	if err != nil {
		return model.PendingMutation{}, err
	}
	mentions, err := unmarshalMentions(r.Mentions)
	if err != nil {
		return model.PendingMutation{}, err
	}
	return model.PendingMutation{
		ID:              r.ID,
		DiscussionID:    r.DiscussionID,
		Fingerprint:     r.Fingerprint,
		Kind:            model.MutationKind(r.Kind),
		Requester:       model.Identity(r.RequesterIdentity),
		Target:          model.Reference{Sender: model.Identity(r.TargetSenderIdentity), ThreadID: thread, Sequence: r.TargetSequenceNumber},
		ServerTimestamp: fromMillis(r.ServerTimestampMS),
		Body:            r.Body,
		Mentions:        mentions,
		Emoji:           r.Emoji,
		CreatedAt:       fromMillis(r.CreatedAtMS),
	}, nil
}

// InsertPendingMutation queues a mutation for a target that has not
// arrived. Uses ON CONFLICT(fingerprint) DO NOTHING: the same request
// delivered twice is stored once and inserted=false is returned.
func (t *Tx) InsertPendingMutation(ctx context.Context, p model.PendingMutation) (inserted bool, err error) {
	mentions, err := marshalMentions(p.Mentions)
	if err != nil {
		return false, fmt.Errorf("insert pending mutation: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO pending_mutations
		(discussion_id, fingerprint, kind, requester_identity, target_sender_identity,
		 target_thread_id, target_sequence_number, server_timestamp_ms, body, mentions,
		 emoji, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`,
		p.DiscussionID,
		p.Fingerprint,
		string(p.Kind),
		string(p.Requester),
		string(p.Target.Sender),
		threadString(p.Target.ThreadID),
		p.Target.Sequence,
		toMillis(p.ServerTimestamp),
		p.Body,
		mentions,
		p.Emoji,
		toMillis(p.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert pending mutation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pending mutation: %w", err)
	}
	return n > 0, nil
}

// ListPendingMutationsFor returns the queued mutations addressed to ref,
// ordered by server timestamp then insertion.
func (t *Tx) ListPendingMutationsFor(ctx context.Context, discussionID int64, ref model.Reference) ([]model.PendingMutation, error) {
	var rows []pendingMutationRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+pendingMutationColumns+` FROM pending_mutations
		WHERE discussion_id = ? AND target_sender_identity = ? AND target_thread_id = ? AND target_sequence_number = ?
		ORDER BY server_timestamp_ms ASC, id ASC
	`, discussionID, string(ref.Sender), threadString(ref.ThreadID), ref.Sequence)
	if err != nil {
		return nil, fmt.Errorf("list pending mutations: %w", err)
	}
	out := make([]model.PendingMutation, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("list pending mutations: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// DeletePendingMutation removes one queued mutation.
func (t *Tx) DeletePendingMutation(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending mutation: %w", err)
	}
	return nil
}

// DeletePendingMutationsFor removes the queued mutations addressed to ref.
// With no kinds given, every kind is removed.
func (t *Tx) DeletePendingMutationsFor(ctx context.Context, discussionID int64, ref model.Reference, kinds ...model.MutationKind) (int64, error) {
	query := `DELETE FROM pending_mutations
		WHERE discussion_id = ? AND target_sender_identity = ? AND target_thread_id = ? AND target_sequence_number = ?`
	args := []any{discussionID, string(ref.Sender), threadString(ref.ThreadID), ref.Sequence}

	var res sql.Result
	var err error
	if len(kinds) == 0 {
		res, err = t.tx.ExecContext(ctx, query, args...)
	} else {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		q, inArgs, inErr := sqlx.In(query+` AND kind IN (?)`, append(args, names)...)
		if inErr != nil {
			return 0, fmt.Errorf("delete pending mutations: %w", inErr)
		}
		res, err = t.tx.ExecContext(ctx, q, inArgs...)
	}
	if err != nil {
		return 0, fmt.Errorf("delete pending mutations: %w", err)
	}
	return res.RowsAffected()
}

// DeletePendingMutationsBefore drops queued mutations created before cutoff.
func (t *Tx) DeletePendingMutationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM pending_mutations WHERE created_at_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge pending mutations: %w", err)
	}
	return res.RowsAffected()
}

type tombstoneRow struct {
	DiscussionID         int64  `db:"discussion_id"`
	TargetSenderIdentity string `db:"target_sender_identity"`
	TargetThreadID       string `db:"target_thread_id"`
	TargetSequenceNumber int64  `db:"target_sequence_number"`
	RequesterIdentity    string `db:"requester_identity"`
	ServerTimestampMS    int64  `db:"server_timestamp_ms"`
	AppliedAtMS          int64  `db:"applied_at_ms"`
}

// InsertDeleteTombstone records an applied remote delete. The first
// tombstone for a reference wins.
func (t *Tx) InsertDeleteTombstone(ctx context.Context, ts model.DeleteTombstone) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO delete_tombstones
		(discussion_id, target_sender_identity, target_thread_id, target_sequence_number,
		 requester_identity, server_timestamp_ms, applied_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, ts.DiscussionID, string(ts.Target.Sender), threadString(ts.Target.ThreadID), ts.Target.Sequence,
		string(ts.Requester), toMillis(ts.ServerTimestamp), toMillis(ts.AppliedAt))
	if err != nil {
		return fmt.Errorf("insert delete tombstone: %w", err)
	}
	return nil
}

// FindDeleteTombstone returns the applied delete for ref, or nil.
func (t *Tx) FindDeleteTombstone(ctx context.Context, discussionID int64, ref model.Reference) (*model.DeleteTombstone, error) {
	var row tombstoneRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT discussion_id, target_sender_identity, target_thread_id, target_sequence_number,
		       requester_identity, server_timestamp_ms, applied_at_ms
		FROM delete_tombstones
		WHERE discussion_id = ? AND target_sender_identity = ? AND target_thread_id = ? AND target_sequence_number = ?
	`, discussionID, string(ref.Sender), threadString(ref.ThreadID), ref.Sequence)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find delete tombstone: %w", err)
	}
	return &model.DeleteTombstone{
		DiscussionID:    row.DiscussionID,
		Target:          ref,
		Requester:       model.Identity(row.RequesterIdentity),
		ServerTimestamp: fromMillis(row.ServerTimestampMS),
		AppliedAt:       fromMillis(row.AppliedAtMS),
	}, nil
}

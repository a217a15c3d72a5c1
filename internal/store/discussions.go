package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/msgweave/internal/model"
)

type discussionRow struct {
	ID                  int64         `db:"id"`
	OwnedIdentity       string        `db:"owned_identity"`
	Title               string        `db:"title"`
	RetainWipedOutbound sql.NullBool  `db:"retain_wiped_outbound"`
	TimeRetentionMS     sql.NullInt64 `db:"time_retention_ms"`
	CountRetention      sql.NullInt64 `db:"count_retention"`
	CreatedAtMS         int64         `db:"created_at_ms"`
}

const discussionColumns = `id, owned_identity, title, retain_wiped_outbound,
	time_retention_ms, count_retention, created_at_ms`

func (r discussionRow) toModel() model.Discussion {
	d := model.Discussion{
		ID:            r.ID,
		OwnedIdentity: model.Identity(r.OwnedIdentity),
		Title:         r.Title,
		CreatedAt:     fromMillis(r.CreatedAtMS),
	}
	if r.RetainWipedOutbound.Valid {
		v := r.RetainWipedOutbound.Bool
		d.RetainWipedOutbound = &v
	}
	if r.TimeRetentionMS.Valid {
		v := time.Duration(r.TimeRetentionMS.Int64) * time.Millisecond
		d.TimeRetention = &v
	}
	if r.CountRetention.Valid {
		v := r.CountRetention.Int64
		d.CountRetention = &v
	}
	return d
}

func discussionSettings(d model.Discussion) (sql.NullBool, sql.NullInt64, sql.NullInt64) {
	var retain sql.NullBool
	if d.RetainWipedOutbound != nil {
		retain = sql.NullBool{Bool: *d.RetainWipedOutbound, Valid: true}
	}
	var timeRetention sql.NullInt64
	if d.TimeRetention != nil {
		timeRetention = sql.NullInt64{Int64: d.TimeRetention.Milliseconds(), Valid: true}
	}
	var countRetention sql.NullInt64
	if d.CountRetention != nil {
		countRetention = sql.NullInt64{Int64: *d.CountRetention, Valid: true}
	}
	return retain, timeRetention, countRetention
}

// CreateDiscussion inserts a discussion and returns its id. A non-zero
// d.ID is used as is; inserting an existing id is a no-op.
func (t *Tx) CreateDiscussion(ctx context.Context, d model.Discussion) (int64, error) {
	if d.OwnedIdentity == "" {
		return 0, fmt.Errorf("create discussion: missing owned identity")
	}
	retain, timeRetention, countRetention := discussionSettings(d)

	var id sql.NullInt64
	if d.ID != 0 {
		id = sql.NullInt64{Int64: d.ID, Valid: true}
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO discussions
		(id, owned_identity, title, retain_wiped_outbound, time_retention_ms, count_retention, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(d.OwnedIdentity), d.Title, retain, timeRetention, countRetention, toMillis(d.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("create discussion: %w", err)
	}
	if d.ID != 0 {
		return d.ID, nil
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create discussion: %w", err)
	}
	return newID, nil
}

// GetDiscussion returns the discussion with the given id.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetDiscussion(ctx context.Context, id int64) (model.Discussion, error) {
	var row discussionRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+discussionColumns+` FROM discussions WHERE id = ?`, id)
	if err != nil {
		return model.Discussion{}, err
	}
	return row.toModel(), nil
}

// ListDiscussions returns all discussions ordered by id.
func (t *Tx) ListDiscussions(ctx context.Context) ([]model.Discussion, error) {
	var rows []discussionRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+discussionColumns+` FROM discussions ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list discussions: %w", err)
	}
	out := make([]model.Discussion, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpdateDiscussionSettings replaces the per-discussion overrides.
func (t *Tx) UpdateDiscussionSettings(ctx context.Context, d model.Discussion) error {
	retain, timeRetention, countRetention := discussionSettings(d)
	_, err := t.tx.ExecContext(ctx, `
		UPDATE discussions
		SET title = ?, retain_wiped_outbound = ?, time_retention_ms = ?, count_retention = ?
		WHERE id = ?
	`, d.Title, retain, timeRetention, countRetention, d.ID)
	if err != nil {
		return fmt.Errorf("update discussion settings: %w", err)
	}
	return nil
}

// DeleteDiscussion removes a discussion. Its messages, cursors, and pending
// records go with it through foreign key cascades.
func (t *Tx) DeleteDiscussion(ctx context.Context, id int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM discussions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete discussion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete discussion: %w", err)
	}
	return n > 0, nil
}

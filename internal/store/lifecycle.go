package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/msgweave/internal/model"
)

// ErrDuplicateExpiration is returned when a message already holds an
// expiration record of the requested kind.
var ErrDuplicateExpiration = errors.New("expiration record already exists")

type reactionRow struct {
	MessageID         int64  `db:"message_id"`
	RequesterIdentity string `db:"requester_identity"`
	Emoji             string `db:"emoji"`
	ServerTimestampMS int64  `db:"server_timestamp_ms"`
}

func (r reactionRow) toModel() model.Reaction {
	return model.Reaction{
		MessageID:       r.MessageID,
		Requester:       model.Identity(r.RequesterIdentity),
		Emoji:           r.Emoji,
		ServerTimestamp: fromMillis(r.ServerTimestampMS),
	}
}

// FindReaction returns the reaction row of requester on the message, or
// nil. The row may be a removal marker (empty emoji).
func (t *Tx) FindReaction(ctx context.Context, messageID int64, requester model.Identity) (*model.Reaction, error) {
	var row reactionRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT message_id, requester_identity, emoji, server_timestamp_ms
		FROM reactions WHERE message_id = ? AND requester_identity = ?
	`, messageID, string(requester))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reaction: %w", err)
	}
	r := row.toModel()
	return &r, nil
}

// UpsertReaction replaces the requester's reaction on the message.
func (t *Tx) UpsertReaction(ctx context.Context, r model.Reaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reactions (message_id, requester_identity, emoji, server_timestamp_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, requester_identity)
		DO UPDATE SET emoji = excluded.emoji, server_timestamp_ms = excluded.server_timestamp_ms
	`, r.MessageID, string(r.Requester), r.Emoji, toMillis(r.ServerTimestamp))
	if err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

// ListReactions returns the live reactions of a message ordered by
// requester. Removal markers are skipped.
func (t *Tx) ListReactions(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	var rows []reactionRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT message_id, requester_identity, emoji, server_timestamp_ms
		FROM reactions WHERE message_id = ? AND emoji != ''
		ORDER BY requester_identity ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	out := make([]model.Reaction, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// DeleteReactions removes every reaction row of the message.
func (t *Tx) DeleteReactions(ctx context.Context, messageID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}
	return nil
}

type expirationRow struct {
	MessageID        int64  `db:"message_id"`
	Kind             string `db:"kind"`
	ExpirationDateMS int64  `db:"expiration_date_ms"`
}

// InsertExpiration attaches an expiration record to a message. A second
// record of the same kind is refused with ErrDuplicateExpiration and the
// existing deadline is left untouched.
func (t *Tx) InsertExpiration(ctx context.Context, rec model.ExpirationRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO expirations (message_id, kind, expiration_date_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, kind) DO NOTHING
	`, rec.MessageID, string(rec.Kind), toMillis(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert expiration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert expiration: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("insert expiration %s for message %d: %w", rec.Kind, rec.MessageID, ErrDuplicateExpiration)
	}
	return nil
}

// DeleteExpirations removes every expiration record of a message.
func (t *Tx) DeleteExpirations(ctx context.Context, messageID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM expirations WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete expirations: %w", err)
	}
	return nil
}

// ListExpirations returns the expiration records of a message, earliest
// deadline first.
func (t *Tx) ListExpirations(ctx context.Context, messageID int64) ([]model.ExpirationRecord, error) {
	var rows []expirationRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT message_id, kind, expiration_date_ms FROM expirations
		WHERE message_id = ?
		ORDER BY expiration_date_ms ASC, kind ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list expirations: %w", err)
	}
	out := make([]model.ExpirationRecord, len(rows))
	for i, r := range rows {
		out[i] = model.ExpirationRecord{MessageID: r.MessageID, Kind: model.ExpirationKind(r.Kind), ExpiresAt: fromMillis(r.ExpirationDateMS)}
	}
	return out, nil
}

// DueMessage is a message whose earliest expiration is in the past.
type DueMessage struct {
	MessageID    int64     `db:"message_id"`
	DiscussionID int64     `db:"discussion_id"`
	ExpiresAtMS  int64     `db:"expires_at_ms"`
	ExpiresAt    time.Time `db:"-"`
}

// ListDueMessages returns messages with at least one expiration at or
// before now, ordered by deadline.
func (t *Tx) ListDueMessages(ctx context.Context, now time.Time) ([]DueMessage, error) {
	var rows []DueMessage
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT e.message_id AS message_id, m.discussion_id AS discussion_id,
		       MIN(e.expiration_date_ms) AS expires_at_ms
		FROM expirations e
		JOIN messages m ON m.id = e.message_id
		WHERE e.expiration_date_ms <= ?
		GROUP BY e.message_id, m.discussion_id
		ORDER BY expires_at_ms ASC, e.message_id ASC
	`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	for i := range rows {
		rows[i].ExpiresAt = fromMillis(rows[i].ExpiresAtMS)
	}
	return rows, nil
}

// NextExpiration returns the earliest pending deadline across all
// discussions.
func (t *Tx) NextExpiration(ctx context.Context) (time.Time, bool, error) {
	var ms *int64
	if err := t.tx.GetContext(ctx, &ms, `SELECT MIN(expiration_date_ms) FROM expirations`); err != nil {
		return time.Time{}, false, fmt.Errorf("next expiration: %w", err)
	}
	if ms == nil {
		return time.Time{}, false, nil
	}
	return fromMillis(*ms), true, nil
}

type recipientRow struct {
	MessageID         int64   `db:"message_id"`
	RecipientIdentity string  `db:"recipient_identity"`
	EngineMessageID   *string `db:"engine_message_id"`
	SentAtMS          *int64  `db:"sent_at_ms"`
	DeliveredAtMS     *int64  `db:"delivered_at_ms"`
	ReadAtMS          *int64  `db:"read_at_ms"`
	Failed            bool    `db:"failed"`
}

const recipientColumns = `message_id, recipient_identity, engine_message_id,
	sent_at_ms, delivered_at_ms, read_at_ms, failed`

func msPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

func (r recipientRow) toModel() model.RecipientInfo {
	info := model.RecipientInfo{
		MessageID:   r.MessageID,
		Recipient:   model.Identity(r.RecipientIdentity),
		SentAt:      msPtr(r.SentAtMS),
		DeliveredAt: msPtr(r.DeliveredAtMS),
		ReadAt:      msPtr(r.ReadAtMS),
		Failed:      r.Failed,
	}
	if r.EngineMessageID != nil {
		info.EngineMessageID = *r.EngineMessageID
	}
	return info
}

// UpsertRecipient writes one recipient info row.
func (t *Tx) UpsertRecipient(ctx context.Context, info model.RecipientInfo) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO recipient_infos (`+recipientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, recipient_identity) DO UPDATE SET
			engine_message_id = excluded.engine_message_id,
			sent_at_ms = excluded.sent_at_ms,
			delivered_at_ms = excluded.delivered_at_ms,
			read_at_ms = excluded.read_at_ms,
			failed = excluded.failed
	`,
		info.MessageID,
		string(info.Recipient),
		nullString(info.EngineMessageID),
		nullMillis(info.SentAt),
		nullMillis(info.DeliveredAt),
		nullMillis(info.ReadAt),
		info.Failed,
	)
	if err != nil {
		return fmt.Errorf("upsert recipient: %w", err)
	}
	return nil
}

// ListRecipients returns the recipient infos of a sent message ordered by
// recipient.
func (t *Tx) ListRecipients(ctx context.Context, messageID int64) ([]model.RecipientInfo, error) {
	var rows []recipientRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+recipientColumns+` FROM recipient_infos
		WHERE message_id = ?
		ORDER BY recipient_identity ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	out := make([]model.RecipientInfo, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// FindRecipientByEngineID returns the recipient info carrying the engine
// message id, or nil.
func (t *Tx) FindRecipientByEngineID(ctx context.Context, engineMessageID string) (*model.RecipientInfo, error) {
	var row recipientRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+recipientColumns+` FROM recipient_infos WHERE engine_message_id = ?
	`, engineMessageID)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient by engine id: %w", err)
	}
	info := row.toModel()
	return &info, nil
}

// Stats is a snapshot of row counts.
type Stats struct {
	Discussions      int64 `db:"discussions" json:"discussions"`
	Messages         int64 `db:"messages" json:"messages"`
	PendingReplies   int64 `db:"pending_replies" json:"pending_replies"`
	PendingMutations int64 `db:"pending_mutations" json:"pending_mutations"`
	Expirations      int64 `db:"expirations" json:"expirations"`
	Tombstones       int64 `db:"tombstones" json:"tombstones"`
}

// Stats counts the rows of every arena table.
func (t *Tx) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := t.tx.GetContext(ctx, &s, `
		SELECT
			(SELECT COUNT(*) FROM discussions)       AS discussions,
			(SELECT COUNT(*) FROM messages)          AS messages,
			(SELECT COUNT(*) FROM pending_replies)   AS pending_replies,
			(SELECT COUNT(*) FROM pending_mutations) AS pending_mutations,
			(SELECT COUNT(*) FROM expirations)       AS expirations,
			(SELECT COUNT(*) FROM delete_tombstones) AS tombstones
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

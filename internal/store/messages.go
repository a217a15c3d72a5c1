package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/msgweave/internal/model"
)

type messageRow struct {
	ID              int64          `db:"id"`
	PermanentID     string         `db:"permanent_id"`
	DiscussionID    int64          `db:"discussion_id"`
	Kind            string         `db:"kind"`
	SenderIdentity  string         `db:"sender_identity"`
	SenderThreadID  string         `db:"sender_thread_id"`
	SequenceNumber  int64          `db:"sequence_number"`
	SortIndex       float64        `db:"sort_index"`
	TimestampMS     int64          `db:"timestamp_ms"`
	IsReply         bool           `db:"is_reply"`
	ReplyTargetID   sql.NullInt64  `db:"reply_target_id"`
	Body            sql.NullString `db:"body"`
	Mentions        string         `db:"mentions"`
	MentionsOwned   bool           `db:"mentions_owned"`
	Forwarded       bool           `db:"forwarded"`
	ReadOnce        bool           `db:"read_once"`
	VisibilityMS    int64          `db:"visibility_ms"`
	ExistenceMS     int64          `db:"existence_ms"`
	Lifecycle       string         `db:"lifecycle"`
	EngineMessageID sql.NullString `db:"engine_message_id"`
	MissedCount     int64          `db:"missed_count"`
	ReceivedStatus  sql.NullString `db:"received_status"`
	ReadAtMS        sql.NullInt64  `db:"read_at_ms"`
	DownloadedAtMS  sql.NullInt64  `db:"downloaded_at_ms"`
	DeliveryStatus  sql.NullString `db:"delivery_status"`
	SystemCategory  sql.NullString `db:"system_category"`
	CreatedAtMS     int64          `db:"created_at_ms"`
}

const messageColumns = `id, permanent_id, discussion_id, kind, sender_identity,
	sender_thread_id, sequence_number, sort_index, timestamp_ms, is_reply,
	reply_target_id, body, mentions, mentions_owned, forwarded, read_once,
	visibility_ms, existence_ms, lifecycle, engine_message_id, missed_count,
	received_status, read_at_ms, downloaded_at_ms, delivery_status,
	system_category, created_at_ms`

func (r messageRow) toModel() (*model.Message, error) {
	permanentID, err := uuid.Parse(r.PermanentID)
	if err != nil {
		return nil, fmt.Errorf("message %d: parse permanent id: %w", r.ID, err)
	}
	thread, err := parseThread(r.SenderThreadID)
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", r.ID, err)
	}
	mentions, err := unmarshalMentions(r.Mentions)
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", r.ID, err)
	}
	lifecycle, err := unmarshalLifecycle(r.Lifecycle)
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", r.ID, err)
	}

	m := &model.Message{
		ID:                    r.ID,
		PermanentID:           permanentID,
		DiscussionID:          r.DiscussionID,
		Kind:                  model.Kind(r.Kind),
		Sender:                model.Identity(r.SenderIdentity),
		ThreadID:              thread,
		Sequence:              r.SequenceNumber,
		SortIndex:             r.SortIndex,
		Timestamp:             fromMillis(r.TimestampMS),
		IsReply:               r.IsReply,
		Mentions:              mentions,
		MentionsOwnedIdentity: r.MentionsOwned,
		Forwarded:             r.Forwarded,
		Ephemerality: model.Ephemerality{
			ReadOnce:   r.ReadOnce,
			Visibility: time.Duration(r.VisibilityMS) * time.Millisecond,
			Existence:  time.Duration(r.ExistenceMS) * time.Millisecond,
		},
		Lifecycle: lifecycle,
	}
	if r.ReplyTargetID.Valid {
		id := r.ReplyTargetID.Int64
		m.ReplyTargetID = &id
	}
	if r.Body.Valid {
		body := r.Body.String
		m.Body = &body
	}

	switch m.Kind {
	case model.KindReceived:
		m.Received = &model.ReceivedDetails{
			EngineMessageID: r.EngineMessageID.String,
			MissedCount:     r.MissedCount,
			Status:          model.ReceivedStatus(r.ReceivedStatus.String),
			ReadAt:          timePtr(r.ReadAtMS),
		}
		if r.DownloadedAtMS.Valid {
			m.Received.DownloadedAt = fromMillis(r.DownloadedAtMS.Int64)
		}
	case model.KindSent:
		m.Sent = &model.SentDetails{Status: model.DeliveryStatus(r.DeliveryStatus.String)}
	case model.KindSystem:
		m.System = &model.SystemDetails{Category: r.SystemCategory.String}
	default:
		return nil, fmt.Errorf("message %d: unknown kind %q", r.ID, r.Kind)
	}
	return m, nil
}

// variantColumns flattens the kind-specific fields for storage.
type variantColumns struct {
	engineMessageID sql.NullString
	missedCount     int64
	receivedStatus  sql.NullString
	readAt          sql.NullInt64
	downloadedAt    sql.NullInt64
	deliveryStatus  sql.NullString
	systemCategory  sql.NullString
}

func variantOf(m *model.Message) (variantColumns, error) {
	var v variantColumns
	switch m.Kind {
	case model.KindReceived:
		if m.Received == nil {
			return v, fmt.Errorf("received message without received details")
		}
		v.engineMessageID = nullString(m.Received.EngineMessageID)
		v.missedCount = m.Received.MissedCount
		v.receivedStatus = nullString(string(m.Received.Status))
		v.readAt = nullMillis(m.Received.ReadAt)
		if !m.Received.DownloadedAt.IsZero() {
			v.downloadedAt = sql.NullInt64{Int64: toMillis(m.Received.DownloadedAt), Valid: true}
		}
	case model.KindSent:
		if m.Sent == nil {
			return v, fmt.Errorf("sent message without sent details")
		}
		v.deliveryStatus = nullString(string(m.Sent.Status))
	case model.KindSystem:
		if m.System == nil {
			return v, fmt.Errorf("system message without system details")
		}
		v.systemCategory = nullString(m.System.Category)
	default:
		return v, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return v, nil
}

func nullBody(body *string) sql.NullString {
	if body == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *body, Valid: true}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// InsertMessage stores a new message and sets m.ID.
//
// Uses ON CONFLICT DO NOTHING for idempotency: a message whose lane
// position or engine message id is already stored is not inserted again
// and inserted=false is returned.
func (t *Tx) InsertMessage(ctx context.Context, m *model.Message) (inserted bool, err error) {
	v, err := variantOf(m)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	mentions, err := marshalMentions(m.Mentions)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	lifecycle, err := marshalLifecycle(m.Lifecycle)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages
		(permanent_id, discussion_id, kind, sender_identity, sender_thread_id,
		 sequence_number, sort_index, timestamp_ms, is_reply, reply_target_id,
		 body, mentions, mentions_owned, forwarded, read_once, visibility_ms,
		 existence_ms, lifecycle, engine_message_id, missed_count,
		 received_status, read_at_ms, downloaded_at_ms, delivery_status,
		 system_category, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		m.PermanentID.String(),
		m.DiscussionID,
		string(m.Kind),
		string(m.Sender),
		threadString(m.ThreadID),
		m.Sequence,
		m.SortIndex,
		toMillis(m.Timestamp),
		m.IsReply,
		nullID(m.ReplyTargetID),
		nullBody(m.Body),
		mentions,
		m.MentionsOwnedIdentity,
		m.Forwarded,
		m.Ephemerality.ReadOnce,
		m.Ephemerality.Visibility.Milliseconds(),
		m.Ephemerality.Existence.Milliseconds(),
		lifecycle,
		v.engineMessageID,
		v.missedCount,
		v.receivedStatus,
		v.readAt,
		v.downloadedAt,
		v.deliveryStatus,
		v.systemCategory,
		toMillis(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	m.ID = id
	return true, nil
}

// UpdateMessage writes back every mutable column of m: placement, reply
// link, content, lifecycle, and the kind-specific state. Identity columns
// never change.
func (t *Tx) UpdateMessage(ctx context.Context, m *model.Message) error {
	v, err := variantOf(m)
	if err != nil {
		return fmt.Errorf("update message %d: %w", m.ID, err)
	}
	mentions, err := marshalMentions(m.Mentions)
	if err != nil {
		return fmt.Errorf("update message %d: %w", m.ID, err)
	}
	lifecycle, err := marshalLifecycle(m.Lifecycle)
	if err != nil {
		return fmt.Errorf("update message %d: %w", m.ID, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE messages SET
			sort_index = ?, timestamp_ms = ?, reply_target_id = ?, body = ?,
			mentions = ?, mentions_owned = ?, lifecycle = ?, missed_count = ?,
			received_status = ?, read_at_ms = ?, delivery_status = ?
		WHERE id = ?
	`,
		m.SortIndex,
		toMillis(m.Timestamp),
		nullID(m.ReplyTargetID),
		nullBody(m.Body),
		mentions,
		m.MentionsOwnedIdentity,
		lifecycle,
		v.missedCount,
		v.receivedStatus,
		v.readAt,
		v.deliveryStatus,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("update message %d: %w", m.ID, err)
	}
	return nil
}

// SetMissedCount updates only the missed message count of a received
// message.
func (t *Tx) SetMissedCount(ctx context.Context, messageID, missed int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE messages SET missed_count = ? WHERE id = ?`, missed, messageID)
	if err != nil {
		return fmt.Errorf("set missed count: %w", err)
	}
	return nil
}

// DeleteMessage removes a message. Its pending reply, reactions,
// expirations, and recipient infos cascade; replies pointing at it lose
// their resolved target.
func (t *Tx) DeleteMessage(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

func (t *Tx) getMessage(ctx context.Context, query string, args ...any) (*model.Message, error) {
	var row messageRow
	if err := t.tx.GetContext(ctx, &row, query, args...); err != nil {
		return nil, err
	}
	return row.toModel()
}

func (t *Tx) findMessage(ctx context.Context, query string, args ...any) (*model.Message, error) {
	m, err := t.getMessage(ctx, query, args...)
	if IsNotFound(err) {
		return nil, nil
	}
	return m, err
}

func (t *Tx) selectMessages(ctx context.Context, query string, args ...any) ([]*model.Message, error) {
	var rows []messageRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*model.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetMessage returns the message with the given arena key.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	return t.getMessage(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

// FindMessageByPermanentID returns nil if no message carries the id.
func (t *Tx) FindMessageByPermanentID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	m, err := t.findMessage(ctx, `SELECT `+messageColumns+` FROM messages WHERE permanent_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("find message by permanent id: %w", err)
	}
	return m, nil
}

// FindMessageByReference returns the message at a lane position, or nil.
func (t *Tx) FindMessageByReference(ctx context.Context, discussionID int64, ref model.Reference) (*model.Message, error) {
	m, err := t.findMessage(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE discussion_id = ? AND sender_identity = ? AND sender_thread_id = ?
		  AND sequence_number = ? AND kind != 'system'
	`, discussionID, string(ref.Sender), threadString(ref.ThreadID), ref.Sequence)
	if err != nil {
		return nil, fmt.Errorf("find message by reference: %w", err)
	}
	return m, nil
}

// FindMessageByEngineID returns the received message with the given
// engine message id, or nil.
func (t *Tx) FindMessageByEngineID(ctx context.Context, engineMessageID string) (*model.Message, error) {
	m, err := t.findMessage(ctx, `SELECT `+messageColumns+` FROM messages WHERE engine_message_id = ?`, engineMessageID)
	if err != nil {
		return nil, fmt.Errorf("find message by engine id: %w", err)
	}
	return m, nil
}

// FindNextInLane returns the stored message with the smallest sequence
// number strictly greater than seq in the lane, or nil.
func (t *Tx) FindNextInLane(ctx context.Context, discussionID int64, lane model.Lane, seq int64) (*model.Message, error) {
	m, err := t.findMessage(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE discussion_id = ? AND sender_identity = ? AND sender_thread_id = ?
		  AND sequence_number > ? AND kind != 'system'
		ORDER BY sequence_number ASC
		LIMIT 1
	`, discussionID, string(lane.Sender), threadString(lane.ThreadID), seq)
	if err != nil {
		return nil, fmt.Errorf("find next in lane: %w", err)
	}
	return m, nil
}

// FindPrevInLane returns the stored message with the largest sequence
// number strictly smaller than seq in the lane, or nil.
func (t *Tx) FindPrevInLane(ctx context.Context, discussionID int64, lane model.Lane, seq int64) (*model.Message, error) {
	m, err := t.findMessage(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE discussion_id = ? AND sender_identity = ? AND sender_thread_id = ?
		  AND sequence_number < ? AND kind != 'system'
		ORDER BY sequence_number DESC
		LIMIT 1
	`, discussionID, string(lane.Sender), threadString(lane.ThreadID), seq)
	if err != nil {
		return nil, fmt.Errorf("find prev in lane: %w", err)
	}
	return m, nil
}

// SortIndexAfter returns the smallest sort index in the discussion that is
// strictly greater than sortIndex.
func (t *Tx) SortIndexAfter(ctx context.Context, discussionID int64, sortIndex float64) (float64, bool, error) {
	var v sql.NullFloat64
	err := t.tx.GetContext(ctx, &v, `
		SELECT MIN(sort_index) FROM messages WHERE discussion_id = ? AND sort_index > ?
	`, discussionID, sortIndex)
	if err != nil {
		return 0, false, fmt.Errorf("sort index after: %w", err)
	}
	return v.Float64, v.Valid, nil
}

// SortIndexBefore returns the largest sort index in the discussion that is
// strictly smaller than sortIndex.
func (t *Tx) SortIndexBefore(ctx context.Context, discussionID int64, sortIndex float64) (float64, bool, error) {
	var v sql.NullFloat64
	err := t.tx.GetContext(ctx, &v, `
		SELECT MAX(sort_index) FROM messages WHERE discussion_id = ? AND sort_index < ?
	`, discussionID, sortIndex)
	if err != nil {
		return 0, false, fmt.Errorf("sort index before: %w", err)
	}
	return v.Float64, v.Valid, nil
}

// MaxSortIndex returns the largest sort index of the discussion.
func (t *Tx) MaxSortIndex(ctx context.Context, discussionID int64) (float64, bool, error) {
	var v sql.NullFloat64
	err := t.tx.GetContext(ctx, &v, `SELECT MAX(sort_index) FROM messages WHERE discussion_id = ?`, discussionID)
	if err != nil {
		return 0, false, fmt.Errorf("max sort index: %w", err)
	}
	return v.Float64, v.Valid, nil
}

// ListMessages returns the discussion's messages in display order.
// Ties on sort index are broken by arena key.
func (t *Tx) ListMessages(ctx context.Context, discussionID int64) ([]*model.Message, error) {
	msgs, err := t.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE discussion_id = ?
		ORDER BY sort_index ASC, id ASC
	`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ListLane returns one lane's messages by ascending sequence number.
func (t *Tx) ListLane(ctx context.Context, discussionID int64, lane model.Lane) ([]*model.Message, error) {
	msgs, err := t.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE discussion_id = ? AND sender_identity = ? AND sender_thread_id = ? AND kind != 'system'
		ORDER BY sequence_number ASC
	`, discussionID, string(lane.Sender), threadString(lane.ThreadID))
	if err != nil {
		return nil, fmt.Errorf("list lane: %w", err)
	}
	return msgs, nil
}

// wasSent matches outbound rows that left the device.
const wasSent = `delivery_status NOT IN ('unprocessed', 'processing')`

// ListReadOnceConsumed returns read-once messages the user can no longer
// see again: sent ones that left the device and received ones already read.
func (t *Tx) ListReadOnceConsumed(ctx context.Context, discussionID int64) ([]*model.Message, error) {
	msgs, err := t.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE discussion_id = ? AND read_once = 1
		  AND ((kind = 'sent' AND `+wasSent+`) OR received_status = 'read')
		ORDER BY sort_index ASC, id ASC
	`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("list read-once consumed: %w", err)
	}
	return msgs, nil
}

// ListRetentionCandidates returns messages that retention may remove,
// newest first. Received messages still marked new and outbound messages
// that did not leave the device are never candidates.
func (t *Tx) ListRetentionCandidates(ctx context.Context, discussionID int64) ([]*model.Message, error) {
	msgs, err := t.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE discussion_id = ? AND kind != 'system'
		  AND (received_status IS NULL OR received_status != 'new')
		  AND (kind != 'sent' OR `+wasSent+`)
		ORDER BY sort_index DESC, id DESC
	`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("list retention candidates: %w", err)
	}
	return msgs, nil
}

// ListRepliesTo returns the messages whose resolved reply target is
// targetID.
func (t *Tx) ListRepliesTo(ctx context.Context, targetID int64) ([]*model.Message, error) {
	msgs, err := t.selectMessages(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE reply_target_id = ? ORDER BY id ASC
	`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return msgs, nil
}

// NextSystemSequence returns the next local sequence number for a system
// message of the discussion.
func (t *Tx) NextSystemSequence(ctx context.Context, discussionID int64) (int64, error) {
	var v sql.NullInt64
	err := t.tx.GetContext(ctx, &v, `
		SELECT MAX(sequence_number) FROM messages WHERE discussion_id = ? AND kind = 'system'
	`, discussionID)
	if err != nil {
		return 0, fmt.Errorf("next system sequence: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64 + 1, nil
}

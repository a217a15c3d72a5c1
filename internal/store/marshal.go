package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/msgweave/internal/model"
)

// toMillis converts a time to the unix milliseconds stored in every
// *_ms column.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseThread(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse thread id %q: %w", s, err)
	}
	return id, nil
}

func threadString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// marshalJSON encodes v without HTML escaping so stored bodies round-trip
// byte for byte.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func marshalMentions(ids []model.Identity) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	s, err := marshalJSON(ids)
	if err != nil {
		return "", fmt.Errorf("marshal mentions: %w", err)
	}
	return s, nil
}

func unmarshalMentions(data string) ([]model.Identity, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []model.Identity
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal mentions: %w", err)
	}
	return ids, nil
}

// lifecycleRecord is the stored form of one lifecycle event. Dates are
// milliseconds like every other column.
type lifecycleRecord struct {
	Kind   model.LifecycleKind `json:"kind"`
	DateMS int64               `json:"date_ms"`
	Remote model.Identity      `json:"remote,omitempty"`
}

func marshalLifecycle(events []model.LifecycleEvent) (string, error) {
	if len(events) == 0 {
		return "[]", nil
	}
	recs := make([]lifecycleRecord, len(events))
	for i, ev := range events {
		recs[i] = lifecycleRecord{Kind: ev.Kind, DateMS: toMillis(ev.Date), Remote: ev.Remote}
	}
	s, err := marshalJSON(recs)
	if err != nil {
		return "", fmt.Errorf("marshal lifecycle: %w", err)
	}
	return s, nil
}

func unmarshalLifecycle(data string) ([]model.LifecycleEvent, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var recs []lifecycleRecord
	if err := json.Unmarshal([]byte(data), &recs); err != nil {
		return nil, fmt.Errorf("unmarshal lifecycle: %w", err)
	}
	events := make([]model.LifecycleEvent, len(recs))
	for i, r := range recs {
		events[i] = model.LifecycleEvent{Kind: r.Kind, Date: fromMillis(r.DateMS), Remote: r.Remote}
	}
	return events, nil
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgweave/internal/model"
)

var (
	aliceThread = uuid.MustParse("0190f3a0-0000-7000-8000-00000000a11c")
	bobThread   = uuid.MustParse("0190f3a0-0000-7000-8000-000000000b0b")
	baseTime    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDiscussion() model.Discussion {
	return model.Discussion{OwnedIdentity: "owner", Title: "test", CreatedAt: baseTime}
}

// withTx runs fn in a committed transaction and fails the test on error.
func withTx(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

// seedDiscussion creates a discussion and returns its id.
func seedDiscussion(t *testing.T, s *Store) int64 {
	t.Helper()
	var id int64
	withTx(t, s, func(ctx context.Context, tx *Tx) {
		var err error
		id, err = tx.CreateDiscussion(ctx, testDiscussion())
		require.NoError(t, err)
	})
	return id
}

// receivedMessage builds a received message on the given lane position.
func receivedMessage(discussionID int64, sender model.Identity, thread uuid.UUID, seq int64, sortIndex float64) *model.Message {
	body := "body"
	return &model.Message{
		PermanentID:  uuid.New(),
		DiscussionID: discussionID,
		Kind:         model.KindReceived,
		Sender:       sender,
		ThreadID:     thread,
		Sequence:     seq,
		SortIndex:    sortIndex,
		Timestamp:    baseTime.Add(time.Duration(seq) * time.Second),
		Body:         &body,
		Received: &model.ReceivedDetails{
			Status:       model.ReceivedNew,
			DownloadedAt: baseTime,
		},
	}
}

func insertMessage(t *testing.T, s *Store, m *model.Message) {
	t.Helper()
	withTx(t, s, func(ctx context.Context, tx *Tx) {
		inserted, err := tx.InsertMessage(ctx, m)
		require.NoError(t, err)
		require.True(t, inserted)
	})
}

package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgweave/internal/model"
)

func (f *fixture) ephemeral(seq int64, sec int, eph model.Ephemerality) *model.Message {
	f.t.Helper()
	p := f.payload(alice, aliceThread, seq, sec)
	p.Ephemerality = eph
	f.ingest(p)
	return f.mustLookup(p.Reference())
}

func (f *fixture) expirations(m *model.Message) []model.ExpirationRecord {
	f.t.Helper()
	exps, err := f.eng.Expirations(f.ctx, m.ID)
	require.NoError(f.t, err)
	return exps
}

func (f *fixture) sweep(now time.Time) int {
	f.t.Helper()
	n, err := f.eng.SweepExpired(f.ctx, now)
	require.NoError(f.t, err)
	return n
}

func TestVisibilityDeadline(t *testing.T) {
	vis := 30 * time.Second
	cases := []struct {
		name   string
		now    time.Time
		readAt time.Time
		want   time.Time
	}{
		{"read now", at(100), at(100), at(130)},
		{"read earlier elsewhere", at(100), at(90), at(120)},
		{"window already over", at(100), at(50), at(100)},
		{"read in the future", at(100), at(110), at(130)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := visibilityDeadline(tc.now, tc.readAt, vis)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestReadOnceVisibility_Lifecycle(t *testing.T) {
	f := newFixture(t)
	m := f.ephemeral(1, 0, model.Ephemerality{ReadOnce: true, Visibility: 30 * time.Second})
	assert.Empty(t, f.expirations(m), "no timer until read")

	require.NoError(t, f.eng.MarkSeen(f.ctx, m.PermanentID))
	m = f.mustLookup(m.Reference())
	assert.Equal(t, model.ReceivedUnread, m.Received.Status)
	assert.Empty(t, f.expirations(m))

	readAt := f.clock.Advance(10 * time.Second)
	require.NoError(t, f.eng.MarkRead(f.ctx, m.PermanentID, readAt, false))
	m = f.mustLookup(m.Reference())
	assert.Equal(t, model.ReceivedRead, m.Received.Status)
	require.NotNil(t, m.Received.ReadAt)
	assert.True(t, m.Received.ReadAt.Equal(readAt))

	exps := f.expirations(m)
	require.Len(t, exps, 1)
	assert.Equal(t, model.ExpirationReceivedVisibility, exps[0].Kind)
	assert.True(t, exps[0].ExpiresAt.Equal(readAt.Add(30*time.Second)))

	assert.Equal(t, 0, f.sweep(readAt.Add(29*time.Second)))
	assert.NotNil(t, f.lookup(m.Reference()))

	assert.Equal(t, 1, f.sweep(readAt.Add(30*time.Second)))
	assert.Nil(t, f.lookup(m.Reference()))
	assert.Equal(t, 0, f.sweep(readAt.Add(31*time.Second)), "sweeping is idempotent")
	assert.Equal(t, float64(1), testCounter(f.eng.Metrics().Expired))
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newFixture(t)
	m := f.ephemeral(1, 0, model.Ephemerality{Visibility: 30 * time.Second})

	require.NoError(t, f.eng.MarkRead(f.ctx, m.PermanentID, at(10), false))
	require.NoError(t, f.eng.MarkRead(f.ctx, m.PermanentID, at(20), false))

	m = f.mustLookup(m.Reference())
	assert.True(t, m.Received.ReadAt.Equal(at(10)))
	assert.Len(t, f.expirations(m), 1)
}

func TestMarkRead_RemoteDelayedRead(t *testing.T) {
	f := newFixture(t)
	m := f.ephemeral(1, 0, model.Ephemerality{Visibility: 30 * time.Second})

	f.clock.Set(at(100))
	require.NoError(t, f.eng.MarkRead(f.ctx, m.PermanentID, at(90), true))

	exps := f.expirations(m)
	require.Len(t, exps, 1)
	assert.True(t, exps[0].ExpiresAt.Equal(at(120)), "elapsed time is charged, got %s", exps[0].ExpiresAt)
}

func TestMarkRead_ReadOnceOnOtherDeviceDeletes(t *testing.T) {
	f := newFixture(t)
	m := f.ephemeral(1, 0, model.Ephemerality{ReadOnce: true})
	f.rec.Reset()

	require.NoError(t, f.eng.MarkRead(f.ctx, m.PermanentID, at(5), true))

	assert.Nil(t, f.lookup(m.Reference()))
	assert.Equal(t, []model.NotificationKind{model.NotifyMessageDeleted}, f.rec.Kinds())
}

func TestMarkSeen_PlainMessageBecomesRead(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 0))
	m := f.mustLookup(ref(alice, aliceThread, 1))

	require.NoError(t, f.eng.MarkSeen(f.ctx, m.PermanentID))

	m = f.mustLookup(m.Reference())
	assert.Equal(t, model.ReceivedRead, m.Received.Status)
	require.NotNil(t, m.Received.ReadAt)
	assert.True(t, m.Received.ReadAt.Equal(t0))
}

func TestExistence_ReceivedCountsFromDownload(t *testing.T) {
	f := newFixture(t)
	p := f.payload(alice, aliceThread, 1, 0)
	p.Ephemerality = model.Ephemerality{Existence: time.Minute}
	p.DownloadedAt = at(5)
	f.ingest(p)
	m := f.mustLookup(p.Reference())

	exps := f.expirations(m)
	require.Len(t, exps, 1)
	assert.Equal(t, model.ExpirationReceivedExistence, exps[0].Kind)
	assert.True(t, exps[0].ExpiresAt.Equal(at(65)))

	assert.Equal(t, 0, f.sweep(at(64)))
	assert.Equal(t, 1, f.sweep(at(65)))
	assert.Nil(t, f.lookup(m.Reference()))
}

func TestExistence_EarliestTimerWins(t *testing.T) {
	f := newFixture(t)
	m := f.ephemeral(1, 0, model.Ephemerality{Existence: time.Hour, Visibility: 10 * time.Second})
	require.NoError(t, f.eng.MarkRead(f.ctx, m.PermanentID, t0, false))
	assert.Len(t, f.expirations(m), 2)

	assert.Equal(t, 1, f.sweep(at(10)))
	assert.Nil(t, f.lookup(m.Reference()))
}

func TestExitDiscussion_DestroysConsumedReadOnce(t *testing.T) {
	f := newFixture(t)
	read := f.ephemeral(1, 0, model.Ephemerality{ReadOnce: true})
	unread := f.ephemeral(2, 1, model.Ephemerality{ReadOnce: true})
	plain := f.ephemeral(3, 2, model.Ephemerality{})
	require.NoError(t, f.eng.MarkRead(f.ctx, read.PermanentID, t0, false))
	require.NoError(t, f.eng.MarkRead(f.ctx, plain.PermanentID, t0, false))

	n, err := f.eng.ExitDiscussion(f.ctx, f.disc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Nil(t, f.lookup(read.Reference()))
	assert.NotNil(t, f.lookup(unread.Reference()))
	assert.NotNil(t, f.lookup(plain.Reference()))
}

func TestSentExistence_WipedWhenRetained(t *testing.T) {
	s := DefaultSettings()
	s.RetainWipedOutboundMessages = true
	f := newFixture(t, WithSettings(s))

	m, err := f.eng.RecordOutbound(f.ctx, model.OutboundMessage{
		DiscussionID: f.disc,
		ThreadID:     ownThread,
		Sequence:     1,
		Body:         "self destructing",
		Ephemerality: model.Ephemerality{Existence: time.Minute},
		Timestamp:    t0,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoRecipient, m.Sent.Status)

	exps := f.expirations(m)
	require.Len(t, exps, 1)
	assert.Equal(t, model.ExpirationSentExistence, exps[0].Kind)

	assert.Equal(t, 1, f.sweep(at(60)))
	got := f.mustLookup(m.Reference())
	assert.True(t, got.IsWiped())
	assert.Nil(t, got.Body)
	assert.Empty(t, f.expirations(got), "wiping clears the timers")
	assert.Equal(t, 0, f.sweep(at(120)))
}

func TestSentFromOtherDevice_TimersStartAtCreation(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(at(30))
	p := f.payload(owner, ownThread, 1, 0)
	p.Ephemerality = model.Ephemerality{Existence: time.Minute, Visibility: 10 * time.Second}
	f.ingest(p)
	m := f.mustLookup(p.Reference())

	exps := f.expirations(m)
	require.Len(t, exps, 2)
	assert.Equal(t, model.ExpirationSentVisibility, exps[0].Kind)
	assert.True(t, exps[0].ExpiresAt.Equal(at(40)))
	assert.Equal(t, model.ExpirationSentExistence, exps[1].Kind)
	assert.True(t, exps[1].ExpiresAt.Equal(at(90)))
}

func TestApplyRetention(t *testing.T) {
	t.Run("count", func(t *testing.T) {
		s := DefaultSettings()
		s.CountRetention = 2
		f := newFixture(t, WithSettings(s))
		for seq := int64(1); seq <= 4; seq++ {
			f.ingest(f.payload(alice, aliceThread, seq, int(seq)))
		}
		for _, seq := range []int64{1, 2, 3} {
			require.NoError(t, f.eng.MarkSeen(f.ctx, f.mustLookup(ref(alice, aliceThread, seq)).PermanentID))
		}

		n, err := f.eng.ApplyRetention(f.ctx, f.disc, at(10))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Nil(t, f.lookup(ref(alice, aliceThread, 1)))
		assert.NotNil(t, f.lookup(ref(alice, aliceThread, 4)), "new messages are kept")
	})

	t.Run("time", func(t *testing.T) {
		s := DefaultSettings()
		s.TimeRetention = time.Hour
		f := newFixture(t, WithSettings(s))
		f.ingest(f.payload(alice, aliceThread, 1, 0))
		f.ingest(f.payload(alice, aliceThread, 2, 3000))
		for _, seq := range []int64{1, 2} {
			require.NoError(t, f.eng.MarkSeen(f.ctx, f.mustLookup(ref(alice, aliceThread, seq)).PermanentID))
		}

		n, err := f.eng.ApplyRetention(f.ctx, f.disc, at(4000))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Nil(t, f.lookup(ref(alice, aliceThread, 1)))
		assert.NotNil(t, f.lookup(ref(alice, aliceThread, 2)))
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(f.payload(alice, aliceThread, 1, 0))
		n, err := f.eng.ApplyRetention(f.ctx, f.disc, at(1_000_000))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func (f *fixture) markSent(m *model.Message, recipient model.Identity, engineID string) {
	f.t.Helper()
	require.NoError(f.t, f.eng.AssignEngineMessageID(f.ctx, m.PermanentID, recipient, engineID))
	f.ack(model.AcknowledgementPayload{EngineMessageID: engineID, SentAt: f.clockPtr()})
}

func (f *fixture) clockPtr() *time.Time {
	now := f.clock.Now()
	return &now
}

func TestExitDiscussion_KeepsReadOnceNotYetSent(t *testing.T) {
	f := newFixture(t)
	readOnce := model.Ephemerality{ReadOnce: true}
	unsent := f.outbound(1, readOnce, bob)
	noRecipient := f.outbound(2, readOnce, owner)
	sent := f.outbound(3, readOnce, bob)
	f.markSent(sent, bob, "e-3")
	processing := f.outbound(4, readOnce, bob)
	require.NoError(t, f.eng.AssignEngineMessageID(f.ctx, processing.PermanentID, bob, "e-4"))

	n, err := f.eng.ExitDiscussion(f.ctx, f.disc)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NotNil(t, f.lookup(unsent.Reference()), "unprocessed messages stay until they leave the device")
	assert.NotNil(t, f.lookup(processing.Reference()))
	assert.Nil(t, f.lookup(noRecipient.Reference()))
	assert.Nil(t, f.lookup(sent.Reference()))
}

func TestApplyRetention_KeepsOutboundNotYetSent(t *testing.T) {
	s := DefaultSettings()
	s.CountRetention = 1
	f := newFixture(t, WithSettings(s))
	first := f.outbound(1, model.Ephemerality{}, bob)
	second := f.outbound(2, model.Ephemerality{}, bob)

	n, err := f.eng.ApplyRetention(f.ctx, f.disc, at(10))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NotNil(t, f.lookup(first.Reference()))
	assert.NotNil(t, f.lookup(second.Reference()))

	f.markSent(first, bob, "e-1")
	f.markSent(second, bob, "e-2")

	n, err = f.eng.ApplyRetention(f.ctx, f.disc, at(10))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, f.lookup(first.Reference()))
	assert.NotNil(t, f.lookup(second.Reference()))
}

func TestSweepExpired_ConcurrentSweepsDestroyOnce(t *testing.T) {
	f := newFixture(t)
	const total = 20
	for seq := int64(1); seq <= total; seq++ {
		f.ephemeral(seq, int(seq), model.Ephemerality{Existence: time.Minute})
	}
	f.rec.Reset()

	const sweepers = 4
	counts := make([]int, sweepers)
	errs := make([]error, sweepers)
	var wg sync.WaitGroup
	for i := 0; i < sweepers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts[i], errs[i] = f.eng.SweepExpired(f.ctx, at(3600))
		}()
	}
	wg.Wait()

	sum := 0
	for i := 0; i < sweepers; i++ {
		require.NoError(t, errs[i])
		sum += counts[i]
	}
	assert.Equal(t, total, sum, "every message destroyed exactly once")
	assert.Len(t, f.rec.Events(), total)
	assert.Equal(t, int64(0), f.stats().Messages)
	assert.Equal(t, float64(total), testCounter(f.eng.Metrics().Expired))
}

func TestAddExpiration_DuplicateRollsBackStep(t *testing.T) {
	f := newFixture(t)
	m := f.ephemeral(1, 0, model.Ephemerality{Existence: time.Minute})
	require.Len(t, f.expirations(m), 1)
	f.rec.Reset()

	err := f.eng.withDiscussion(f.ctx, f.disc, "duplicate expiration", func(o *op) error {
		got, err := o.tx.GetMessage(o.ctx, m.ID)
		if err != nil {
			return err
		}
		body := "changed"
		got.Body = &body
		if err := o.tx.UpdateMessage(o.ctx, got); err != nil {
			return err
		}
		o.notify(model.NotifyMessageUpdated, got)
		return o.addExpiration(got, model.ExpirationReceivedExistence, at(600))
	})

	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))
	after := f.mustLookup(m.Reference())
	assert.Equal(t, "alice #1", after.BodyText(), "the step is rolled back")
	exps := f.expirations(after)
	require.Len(t, exps, 1)
	assert.True(t, exps[0].ExpiresAt.Equal(at(60)))
	assert.Empty(t, f.rec.Events(), "nothing is published for a rolled-back step")
}

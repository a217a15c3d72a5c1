package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgweave/internal/model"
)

var target1 = ref(alice, aliceThread, 1)

func TestDelete_BySenderHardDeletes(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 100))
	f.rec.Reset()

	f.mutate(f.mutation(model.MutationDelete, alice, target1, 200))

	assert.Nil(t, f.lookup(target1))
	events := f.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.DeletionDeleted, events[0].Deletion)
	assert.Equal(t, int64(1), f.stats().Tombstones)
}

func TestDelete_RedeliveryNotRecreated(t *testing.T) {
	f := newFixture(t)
	p := f.payload(alice, aliceThread, 1, 100)
	f.ingest(p)
	f.mutate(f.mutation(model.MutationDelete, alice, target1, 200))

	f.ingest(p)
	assert.Nil(t, f.lookup(target1))
}

func TestDelete_ThirdPartyRemoteWipes(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 100))
	f.react(bob, target1, 150, "👍")
	f.rec.Reset()

	f.mutate(f.mutation(model.MutationDelete, carol, target1, 200))

	m := f.mustLookup(target1)
	assert.True(t, m.IsWiped())
	assert.Nil(t, m.Body)
	require.Len(t, m.Lifecycle, 1)
	assert.Equal(t, model.LifecycleRemoteWiped, m.Lifecycle[0].Kind)
	assert.Equal(t, carol, m.Lifecycle[0].Remote)
	assert.True(t, m.Lifecycle[0].Date.Equal(at(200)))
	assert.Empty(t, f.entry(target1).Reactions, "wiping drops reactions")

	events := f.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.DeletionWiped, events[0].Deletion)
}

func TestDelete_SentRetainedWhenConfigured(t *testing.T) {
	s := DefaultSettings()
	s.RetainWipedOutboundMessages = true
	f := newFixture(t, WithSettings(s))
	m, err := f.eng.RecordOutbound(f.ctx, model.OutboundMessage{DiscussionID: f.disc, ThreadID: ownThread, Sequence: 1, Body: "oops", Timestamp: at(100)})
	require.NoError(t, err)

	f.mutate(f.mutation(model.MutationDelete, owner, m.Reference(), 200))

	got := f.mustLookup(m.Reference())
	assert.True(t, got.IsWiped())
	assert.Equal(t, model.LifecycleWiped, got.Lifecycle[0].Kind)
}

func TestDelete_SentRemovedByDefault(t *testing.T) {
	f := newFixture(t)
	m, err := f.eng.RecordOutbound(f.ctx, model.OutboundMessage{DiscussionID: f.disc, ThreadID: ownThread, Sequence: 1, Body: "oops", Timestamp: at(100)})
	require.NoError(t, err)

	f.mutate(f.mutation(model.MutationDelete, owner, m.Reference(), 200))
	assert.Nil(t, f.lookup(m.Reference()))
}

func TestDeleteBeatsEdit(t *testing.T) {
	cases := []struct {
		name  string
		steps []string
	}{
		{"target first, delete then edit", []string{"target", "delete", "edit"}},
		{"target first, edit then delete", []string{"target", "edit", "delete"}},
		{"delete then edit then target", []string{"delete", "edit", "target"}},
		{"edit then delete then target", []string{"edit", "delete", "target"}},
		{"delete then target then edit", []string{"delete", "target", "edit"}},
		{"edit then target then delete", []string{"edit", "target", "delete"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			for _, step := range tc.steps {
				switch step {
				case "target":
					f.ingest(f.payload(alice, aliceThread, 1, 50))
				case "delete":
					f.mutate(f.mutation(model.MutationDelete, alice, target1, 100))
				case "edit":
					f.edit(alice, target1, 150, "edited")
				}
			}
			assert.Nil(t, f.lookup(target1))
			assert.Equal(t, int64(0), f.stats().PendingMutations)
		})
	}
}

func TestDelete_OldestWins(t *testing.T) {
	for _, order := range [][]model.Identity{{carol, alice}, {alice, carol}} {
		f := newFixture(t)
		for _, requester := range order {
			sec := 200
			if requester == alice {
				sec = 100
			}
			f.mutate(f.mutation(model.MutationDelete, requester, target1, sec))
		}
		assert.Equal(t, int64(1), f.stats().PendingMutations)

		f.ingest(f.payload(alice, aliceThread, 1, 50))
		assert.Nil(t, f.lookup(target1), "alice's older delete removes the message for order %v", order)
	}
}

func TestDelete_PendingDiscardsQueuedEditsAndReactions(t *testing.T) {
	f := newFixture(t)
	f.edit(alice, target1, 100, "edited")
	f.react(bob, target1, 100, "👍")
	assert.Equal(t, int64(2), f.stats().PendingMutations)

	f.mutate(f.mutation(model.MutationDelete, alice, target1, 300))
	assert.Equal(t, int64(1), f.stats().PendingMutations)

	f.react(bob, target1, 400, "🎉")
	assert.Equal(t, int64(1), f.stats().PendingMutations, "reaction after a pending delete is ignored")
}

func TestEdit_AppliesBodyMentionsAndMetadata(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 100))
	f.rec.Reset()

	p := f.mutation(model.MutationEdit, alice, target1, 200)
	p.Body = "  fixed typo  "
	p.Mentions = []model.Identity{owner}
	f.mutate(p)

	m := f.mustLookup(target1)
	assert.Equal(t, "fixed typo", m.BodyText())
	assert.True(t, m.MentionsOwnedIdentity)
	last, ok := m.LastEdit()
	require.True(t, ok)
	assert.True(t, last.Equal(at(200)))
	assert.Equal(t, []model.NotificationKind{model.NotifyMessageUpdated}, f.rec.Kinds())
}

func TestEdit_NewestWins(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(f.payload(alice, aliceThread, 1, 100))
		f.edit(alice, target1, 200, "second")
		f.edit(alice, target1, 150, "first")

		m := f.mustLookup(target1)
		assert.Equal(t, "second", m.BodyText())
		edits := 0
		for _, ev := range m.Lifecycle {
			if ev.Kind == model.LifecycleEdited {
				edits++
			}
		}
		assert.Equal(t, 1, edits, "one edited event at most")
	})

	for _, order := range [][]int{{200, 150}, {150, 200}} {
		t.Run("pending", func(t *testing.T) {
			f := newFixture(t)
			for _, sec := range order {
				body := "first"
				if sec == 200 {
					body = "second"
				}
				f.edit(alice, target1, sec, body)
			}
			assert.Equal(t, int64(1), f.stats().PendingMutations)

			f.ingest(f.payload(alice, aliceThread, 1, 100))
			assert.Equal(t, "second", f.mustLookup(target1).BodyText())
		})
	}
}

func TestEdit_ByOtherIdentityRejected(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 100))

	f.edit(bob, target1, 200, "hijacked")

	assert.Equal(t, "alice #1", f.mustLookup(target1).BodyText())
	assert.Equal(t, float64(1), testCounter(f.eng.Metrics().Dropped.WithLabelValues(string(ErrCodePolicyRejected))))
}

func TestEdit_QueuedByOtherIdentityRejected(t *testing.T) {
	f := newFixture(t)
	f.edit(bob, target1, 200, "hijacked")
	f.react(carol, target1, 210, "👍")
	assert.Equal(t, int64(1), f.stats().PendingMutations, "only the reaction is queued")
	assert.Equal(t, float64(1), testCounter(f.eng.Metrics().Dropped.WithLabelValues(string(ErrCodePolicyRejected))))

	f.ingest(f.payload(alice, aliceThread, 1, 100))

	assert.Equal(t, "alice #1", f.mustLookup(target1).BodyText())
	assert.Len(t, f.entry(target1).Reactions, 1)
}

func TestEdit_ForeignEditDoesNotDisplaceSenderEdit(t *testing.T) {
	cases := []struct {
		name  string
		steps []string
	}{
		{"target first", []string{"target", "alice", "bob"}},
		{"target last", []string{"alice", "bob", "target"}},
		{"foreign edit first", []string{"bob", "alice", "target"}},
		{"target between", []string{"alice", "target", "bob"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			for _, step := range tc.steps {
				switch step {
				case "target":
					f.ingest(f.payload(alice, aliceThread, 1, 100))
				case "alice":
					f.edit(alice, target1, 150, "fixed by alice")
				case "bob":
					f.edit(bob, target1, 200, "hijacked")
				}
			}
			assert.Equal(t, "fixed by alice", f.mustLookup(target1).BodyText())
			assert.Equal(t, int64(0), f.stats().PendingMutations)
		})
	}
}

func TestMutation_QueuedEditsBeforeReactions(t *testing.T) {
	f := newFixture(t)
	f.react(bob, target1, 120, "👍")
	f.edit(alice, target1, 150, "edited")
	f.react(carol, target1, 180, "🎉")
	f.rec.Reset()

	f.ingest(f.payload(alice, aliceThread, 1, 100))

	assert.Equal(t, "edited", f.mustLookup(target1).BodyText())
	assert.Len(t, f.entry(target1).Reactions, 2)
	assert.Equal(t, int64(0), f.stats().PendingMutations)
}

func TestMutation_UnauthorizedDropped(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 100))

	p := f.mutation(model.MutationDelete, carol, target1, 200)
	p.Authorized = false
	require.NoError(t, f.eng.IngestMutation(f.ctx, p))

	assert.NotNil(t, f.lookup(target1))
	assert.Equal(t, float64(1), testCounter(f.eng.Metrics().Dropped.WithLabelValues(string(ErrCodePolicyRejected))))
}

func TestMutation_Invalid(t *testing.T) {
	f := newFixture(t)
	p := f.mutation("pin", alice, target1, 200)
	assert.Error(t, f.eng.IngestMutation(f.ctx, p))
}

func TestReaction_OnePerRequesterNewestWins(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 100))

	f.react(bob, target1, 100, "👍")
	f.react(bob, target1, 200, "🎉")
	f.react(bob, target1, 150, "❤️")
	f.react(carol, target1, 120, "👍")

	reactions := f.entry(target1).Reactions
	require.Len(t, reactions, 2)
	assert.Equal(t, bob, reactions[0].Requester)
	assert.Equal(t, "🎉", reactions[0].Emoji)
	assert.Equal(t, carol, reactions[1].Requester)
}

func TestReaction_RemovalNotResurrected(t *testing.T) {
	f := newFixture(t)
	f.ingest(f.payload(alice, aliceThread, 1, 100))

	f.react(bob, target1, 200, "👍")
	f.react(bob, target1, 300, "")
	f.react(bob, target1, 250, "🎉")

	assert.Empty(t, f.entry(target1).Reactions)
}

func TestReaction_QueuedOutOfOrder(t *testing.T) {
	f := newFixture(t)
	f.react(bob, target1, 200, "🎉")
	f.react(bob, target1, 100, "👍")
	f.react(carol, target1, 100, "👍")
	assert.Equal(t, int64(2), f.stats().PendingMutations)

	f.ingest(f.payload(alice, aliceThread, 1, 50))

	reactions := f.entry(target1).Reactions
	require.Len(t, reactions, 2)
	assert.Equal(t, "🎉", reactions[0].Emoji)
	assert.Equal(t, int64(0), f.stats().PendingMutations)
}

func TestMutation_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.edit(alice, target1, 200, "edited")
	f.edit(alice, target1, 200, "edited")
	assert.Equal(t, int64(1), f.stats().PendingMutations)

	f.ingest(f.payload(alice, aliceThread, 1, 100))
	f.rec.Reset()

	f.edit(alice, target1, 200, "edited")
	f.react(bob, target1, 300, "👍")
	f.react(bob, target1, 300, "👍")
	assert.Equal(t, []model.NotificationKind{model.NotifyMessageUpdated}, f.rec.Kinds(), "only the first reaction changed anything")
	assert.Equal(t, "edited", f.mustLookup(target1).BodyText())
}

func TestDeleteAt100ThenEditAt150(t *testing.T) {
	f := newFixture(t)
	f.mutate(f.mutation(model.MutationDelete, alice, target1, 100))
	f.edit(alice, target1, 150, "too late")
	f.ingest(f.payload(alice, aliceThread, 1, 50))

	assert.Nil(t, f.lookup(target1))
	assert.Equal(t, []model.NotificationKind{model.NotifyMessageInserted, model.NotifyMessageDeleted}, f.rec.Kinds())
}

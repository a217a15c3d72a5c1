package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
)

func entry(r Ref) engine.TimelineEntry {
	ref := r.Reference()
	return engine.TimelineEntry{
		Message: &model.Message{
			Kind:     model.KindReceived,
			Sender:   ref.Sender,
			ThreadID: ref.ThreadID,
			Sequence: ref.Sequence,
		},
		Reply: model.ReplyState{Kind: model.ReplyNone},
	}
}

var (
	a1 = Ref{Sender: "alice", Thread: "phone", Seq: 1}
	a2 = Ref{Sender: "alice", Thread: "phone", Seq: 2}
	b1 = Ref{Sender: "bob", Thread: "laptop", Seq: 1}
)

func TestAssertOrder(t *testing.T) {
	timeline := []engine.TimelineEntry{entry(a1), entry(b1), entry(a2)}

	assert.NoError(t, assertOrder(timeline, Assertion{Type: AssertOrder, Refs: []Ref{a1, a2}}))
	assert.NoError(t, assertOrder(timeline, Assertion{Type: AssertOrder, Refs: []Ref{a1, b1, a2}}))

	err := assertOrder(timeline, Assertion{Type: AssertOrder, Refs: []Ref{a2, a1}})
	require.Error(t, err)
	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, AssertOrder, assertErr.Type)
	assert.Equal(t, "alice/phone#1 after alice/phone#2", assertErr.Expected)
	assert.Equal(t, "timeline [alice#1 bob#1 alice#2]", assertErr.Actual)
}

func TestAssertOrder_Missing(t *testing.T) {
	timeline := []engine.TimelineEntry{entry(a1)}
	err := assertOrder(timeline, Assertion{Type: AssertOrder, Refs: []Ref{a1, a2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestAssertOrder_SkipsSystemMessages(t *testing.T) {
	sys := entry(a1)
	sys.Message.Kind = model.KindSystem
	timeline := []engine.TimelineEntry{sys, entry(a2)}

	err := assertOrder(timeline, Assertion{Type: AssertOrder, Refs: []Ref{a1, a2}})
	require.Error(t, err, "system rows never match a reference")
}

func TestAssertAbsent(t *testing.T) {
	timeline := []engine.TimelineEntry{entry(a1)}
	assert.NoError(t, assertAbsent(timeline, Assertion{Type: AssertAbsent, Ref: &a2}))

	err := assertAbsent(timeline, Assertion{Type: AssertAbsent, Ref: &a1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "present")
}

func TestAssertStats(t *testing.T) {
	result := NewResult()
	result.Stats = store.Stats{Messages: 3, PendingReplies: 1}

	assert.NoError(t, assertStats(result, Assertion{Expect: map[string]any{"messages": 3, "pending_replies": 1}}))

	err := assertStats(result, Assertion{Expect: map[string]any{"messages": 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messages = 2")

	err = assertStats(result, Assertion{Expect: map[string]any{"discussions": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such field")
}

func TestAssertNotifications(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Op: "message", Notifications: []model.Notification{{Seq: 1, Kind: model.NotifyMessageInserted}}},
		{Op: "sweep"},
		{Op: "mutation", Notifications: []model.Notification{{Seq: 2, Kind: model.NotifyMessageDeleted}}},
	}

	assert.NoError(t, assertNotifications(result, Assertion{Kinds: []string{"message_inserted", "message_deleted"}}))
	assert.Error(t, assertNotifications(result, Assertion{Kinds: []string{"message_inserted"}}))
	assert.Error(t, assertNotifications(result, Assertion{Kinds: []string{}}))
}

func TestObserve(t *testing.T) {
	e := entry(a1)
	body := "hi"
	e.Message.Body = &body
	e.Message.Timestamp = DefaultStart.Add(90 * time.Second)
	e.Message.Received = &model.ReceivedDetails{Status: model.ReceivedRead, MissedCount: 2}
	e.Message.Lifecycle = []model.LifecycleEvent{{Kind: model.LifecycleRemoteWiped, Remote: "bob"}}
	e.Reactions = []model.Reaction{{Requester: "carol", Emoji: "🎉"}}

	obs := observe(&e, DefaultStart, nil)
	assert.Equal(t, "received", obs["kind"])
	assert.Equal(t, 90, obs["timestamp"])
	assert.Equal(t, 2, obs["missed"])
	assert.Equal(t, "read", obs["status"])
	assert.Equal(t, "bob", obs["wiped_by"])
	assert.Equal(t, 0, obs["expirations"])
	assert.Equal(t, map[string]any{"carol": "🎉"}, obs["reactions"])
	_, hasDelivery := obs["delivery"]
	assert.False(t, hasDelivery)
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		want any
		got  any
		eq   bool
	}{
		{"int", 3, 3, true},
		{"int mismatch", 3, 4, false},
		{"float against int", 2.0, 2, true},
		{"string", "sent", "sent", true},
		{"bool", true, true, true},
		{"bool against string", true, "true", true},
		{"nil", nil, nil, true},
		{"nil against value", nil, "x", false},
		{"map", map[string]any{"bob": "👍"}, map[string]any{"bob": "👍"}, true},
		{"map extra key", map[string]any{}, map[string]any{"bob": "👍"}, false},
		{"map wrong value", map[string]any{"bob": "👍"}, map[string]any{"bob": "👎"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eq, valuesEqual(tt.want, tt.got))
		})
	}
}

func TestEvaluateAssertions_PrefixesIndex(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertAbsent, Ref: &a1},
		{Type: AssertStats, Expect: map[string]any{"messages": 1}},
	}, &AssertionContext{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertions[1]:")
}

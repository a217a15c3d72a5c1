package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/msgweave/internal/engine"
)

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: defaults
description: "defaults are applied"
steps:
  - message: {sender: alice, thread: phone, seq: 1, at: 0}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultOwner, s.Owner)
	assert.True(t, s.Start.Equal(DefaultStart))
	assert.Equal(t, engine.DefaultSettings(), s.Settings.EngineSettings())
}

func TestParseScenario_Full(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: "every optional field"
owner: me
start: 2024-01-02T03:04:05+02:00
settings:
  retain_wiped_outbound_messages: true
  sort_epsilon: 0.01
  pending_ttl: 2h
  count_based_retention: 5
steps:
  - message:
      sender: alice
      thread: phone
      seq: 1
      at: 0
      ephemeral: {read_once: true, visibility: 30s}
  - advance: 90s
  - mutation:
      kind: reaction
      requester: bob
      target: {sender: alice, thread: phone, seq: 1}
      at: 5
      emoji: "👍"
assertions:
  - type: message
    ref: {sender: alice, thread: phone, seq: 1}
    expect: {reactions: {bob: "👍"}}
`))
	require.NoError(t, err)

	assert.Equal(t, "me", s.Owner)
	assert.Equal(t, time.UTC, s.Start.Location())
	assert.Equal(t, 1, s.Start.Hour())

	settings := s.Settings.EngineSettings()
	assert.True(t, settings.RetainWipedOutboundMessages)
	assert.Equal(t, 0.01, settings.SortEpsilon)
	assert.Equal(t, 2*time.Hour, settings.PendingTTL)
	assert.Equal(t, int64(5), settings.CountRetention)

	require.Len(t, s.Steps, 3)
	assert.True(t, s.Steps[0].Message.Ephemeral.ReadOnce)
	assert.Equal(t, 30*time.Second, s.Steps[0].Message.Ephemeral.Visibility)
	assert.Equal(t, 90*time.Second, s.Steps[1].Advance)
	assert.Equal(t, "👍", s.Steps[2].Mutation.Emoji)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - sweep: true\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps:\n  - sweep: true\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nsteps:\n  - sweep: true\n    sweeep: true\n",
			want: "failed to parse YAML",
		},
		{
			name: "empty step",
			yaml: "name: n\ndescription: d\nsteps:\n  - expect_error: true\n",
			want: "no action set",
		},
		{
			name: "two actions",
			yaml: "name: n\ndescription: d\nsteps:\n  - sweep: true\n    purge: true\n",
			want: "more than one action set",
		},
		{
			name: "unknown mutation kind",
			yaml: "name: n\ndescription: d\nsteps:\n  - mutation: {kind: pin, requester: a, target: {sender: a, thread: t, seq: 1}}\n",
			want: `unknown mutation kind "pin"`,
		},
		{
			name: "mutation without requester",
			yaml: "name: n\ndescription: d\nsteps:\n  - mutation: {kind: delete, target: {sender: a, thread: t, seq: 1}}\n",
			want: "requester is required",
		},
		{
			name: "message without thread",
			yaml: "name: n\ndescription: d\nsteps:\n  - message: {sender: a, seq: 1}\n",
			want: "reference needs sender and thread",
		},
		{
			name: "assign without engine id",
			yaml: "name: n\ndescription: d\nsteps:\n  - assign: {thread: own, seq: 1, recipient: bob}\n",
			want: "engine_id are required",
		},
		{
			name: "negative advance",
			yaml: "name: n\ndescription: d\nsteps:\n  - advance: -1s\n",
			want: "advance must not be negative",
		},
		{
			name: "invalid settings",
			yaml: "name: n\ndescription: d\nsettings: {sort_epsilon: -1}\nsteps:\n  - sweep: true\n",
			want: "settings:",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps:\n  - sweep: true\nassertions:\n  - type: vibes\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "order needs two refs",
			yaml: "name: n\ndescription: d\nsteps:\n  - sweep: true\nassertions:\n  - type: order\n    refs: [{sender: a, thread: t, seq: 1}]\n",
			want: "order needs at least two refs",
		},
		{
			name: "message needs expect",
			yaml: "name: n\ndescription: d\nsteps:\n  - sweep: true\nassertions:\n  - type: message\n    ref: {sender: a, thread: t, seq: 1}\n",
			want: "expect is required for message",
		},
		{
			name: "notifications needs kinds",
			yaml: "name: n\ndescription: d\nsteps:\n  - sweep: true\nassertions:\n  - type: notifications\n",
			want: "kinds is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_EmptyNotificationListAllowed(t *testing.T) {
	s, err := ParseScenario([]byte("name: n\ndescription: d\nsteps:\n  - sweep: true\nassertions:\n  - type: notifications\n    kinds: []\n"))
	require.NoError(t, err)
	assert.NotNil(t, s.Assertions[0].Kinds)
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: n\ndescription: d\nsteps:\n  - sweep: true\n"), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "n", s.Name)

	_, err = LoadScenario(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestRef(t *testing.T) {
	r := Ref{Sender: "alice", Thread: "phone", Seq: 3}
	assert.Equal(t, "alice/phone#3", r.String())

	ref := r.Reference()
	assert.Equal(t, ref, r.Reference(), "thread names resolve stably")
	assert.Equal(t, int64(3), ref.Sequence)
	assert.NotEqual(t, ref.ThreadID, Ref{Sender: "alice", Thread: "laptop", Seq: 3}.Reference().ThreadID)
}

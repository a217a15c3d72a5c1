package harness

import (
	"strconv"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/msgweave/internal/model"
)

// Snapshot renders the final timeline and the published notifications as
// canonical JSON. Times are offsets in milliseconds from start; sort
// indexes are fixed-point strings since canonical JSON forbids floats.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	offset := func(t time.Time) int64 { return t.Sub(scenario.Start).Milliseconds() }

	timeline := make([]any, 0, len(result.Timeline))
	for _, e := range result.Timeline {
		m := e.Message
		row := map[string]any{
			"permanent_id": m.PermanentID.String(),
			"kind":         string(m.Kind),
			"sender":       string(m.Sender),
			"seq":          m.Sequence,
			"sort_index":   strconv.FormatFloat(m.SortIndex, 'f', 4, 64),
			"timestamp_ms": offset(m.Timestamp),
			"reply":        string(e.Reply.Kind),
		}
		if m.Body != nil {
			row["body"] = *m.Body
		}
		if m.MentionsOwnedIdentity {
			row["mentions_owned"] = true
		}
		if m.Received != nil {
			row["status"] = string(m.Received.Status)
			row["missed"] = m.Received.MissedCount
		}
		if m.Sent != nil {
			row["delivery"] = string(m.Sent.Status)
		}
		if len(m.Lifecycle) > 0 {
			events := make([]any, len(m.Lifecycle))
			for i, ev := range m.Lifecycle {
				event := map[string]any{"kind": string(ev.Kind), "date_ms": offset(ev.Date)}
				if ev.Remote != "" {
					event["remote"] = string(ev.Remote)
				}
				events[i] = event
			}
			row["lifecycle"] = events
		}
		if len(e.Reactions) > 0 {
			reactions := make(map[string]any, len(e.Reactions))
			for _, r := range e.Reactions {
				reactions[string(r.Requester)] = r.Emoji
			}
			row["reactions"] = reactions
		}
		timeline = append(timeline, row)
	}

	notifications := make([]any, 0)
	for _, n := range result.Notifications() {
		notifications = append(notifications, notificationMap(n))
	}

	return model.MarshalCanonical(map[string]any{
		"scenario_name": scenario.Name,
		"timeline":      timeline,
		"notifications": notifications,
	})
}

func notificationMap(n model.Notification) map[string]any {
	out := map[string]any{
		"seq":          n.Seq,
		"kind":         string(n.Kind),
		"permanent_id": n.PermanentID.String(),
	}
	if n.Deletion != "" {
		out["deletion"] = string(n.Deletion)
	}
	if n.Status != "" {
		out["status"] = string(n.Status)
	}
	return out
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()
	return assertGoldenIn(t, "testdata/golden", scenario, result)
}

func assertGoldenIn(t *testing.T, dir string, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}

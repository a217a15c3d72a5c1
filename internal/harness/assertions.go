package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/model"
)

// AssertionContext provides access to the engine for assertions that
// inspect single messages.
type AssertionContext struct {
	Ctx          context.Context
	Engine       *engine.Engine
	DiscussionID int64
	Start        time.Time
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs all assertions and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertOrder:
		return assertOrder(result.Timeline, a)
	case AssertMessage:
		return assertMessage(result.Timeline, a, actx)
	case AssertAbsent:
		return assertAbsent(result.Timeline, a)
	case AssertStats:
		return assertStats(result, a)
	case AssertNotifications:
		return assertNotifications(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func findEntry(timeline []engine.TimelineEntry, r Ref) (int, *engine.TimelineEntry) {
	ref := r.Reference()
	for i := range timeline {
		m := timeline[i].Message
		if m.Kind != model.KindSystem && m.Reference() == ref {
			return i, &timeline[i]
		}
	}
	return -1, nil
}

// assertOrder checks that the listed messages appear in this relative
// order. Other messages may sit between them.
func assertOrder(timeline []engine.TimelineEntry, a Assertion) error {
	prev := -1
	for i, r := range a.Refs {
		pos, _ := findEntry(timeline, r)
		if pos < 0 {
			return &AssertionError{Type: AssertOrder, Expected: fmt.Sprintf("%s in timeline", r), Actual: "missing"}
		}
		if pos <= prev {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("%s after %s", r, a.Refs[i-1]),
				Actual:   fmt.Sprintf("timeline %s", describeTimeline(timeline)),
			}
		}
		prev = pos
	}
	return nil
}

func describeTimeline(timeline []engine.TimelineEntry) string {
	parts := make([]string, len(timeline))
	for i, e := range timeline {
		parts[i] = fmt.Sprintf("%s#%d", e.Message.Sender, e.Message.Sequence)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func assertAbsent(timeline []engine.TimelineEntry, a Assertion) error {
	if _, e := findEntry(timeline, *a.Ref); e != nil {
		return &AssertionError{Type: AssertAbsent, Expected: fmt.Sprintf("%s not stored", a.Ref), Actual: "present"}
	}
	return nil
}

// observe extracts the assertable fields of one timeline entry.
func observe(e *engine.TimelineEntry, start time.Time, expirations []model.ExpirationRecord) map[string]any {
	m := e.Message
	_, edited := m.LastEdit()
	obs := map[string]any{
		"kind":           string(m.Kind),
		"body":           m.BodyText(),
		"wiped":          m.IsWiped(),
		"edited":         edited,
		"mentions_owned": m.MentionsOwnedIdentity,
		"reply":          string(e.Reply.Kind),
		"timestamp":      int(m.Timestamp.Sub(start) / time.Second),
		"expirations":    len(expirations),
	}
	if m.Received != nil {
		obs["missed"] = int(m.Received.MissedCount)
		obs["status"] = string(m.Received.Status)
	}
	if m.Sent != nil {
		obs["delivery"] = string(m.Sent.Status)
	}
	reactions := make(map[string]any, len(e.Reactions))
	for _, r := range e.Reactions {
		reactions[string(r.Requester)] = r.Emoji
	}
	obs["reactions"] = reactions
	for _, ev := range m.Lifecycle {
		if ev.Kind == model.LifecycleRemoteWiped {
			obs["wiped_by"] = string(ev.Remote)
		}
	}
	return obs
}

func assertMessage(timeline []engine.TimelineEntry, a Assertion, actx *AssertionContext) error {
	_, e := findEntry(timeline, *a.Ref)
	if e == nil {
		return &AssertionError{Type: AssertMessage, Expected: fmt.Sprintf("%s stored", a.Ref), Actual: "missing"}
	}
	exps, err := actx.Engine.Expirations(actx.Ctx, e.Message.ID)
	if err != nil {
		return err
	}
	obs := observe(e, actx.Start, exps)
	return matchSubset(AssertMessage+" "+a.Ref.String(), a.Expect, obs)
}

func assertStats(result *Result, a Assertion) error {
	s := result.Stats
	obs := map[string]any{
		"messages":          int(s.Messages),
		"pending_replies":   int(s.PendingReplies),
		"pending_mutations": int(s.PendingMutations),
		"expirations":       int(s.Expirations),
		"tombstones":        int(s.Tombstones),
	}
	return matchSubset(AssertStats, a.Expect, obs)
}

func assertNotifications(result *Result, a Assertion) error {
	var got []string
	for _, n := range result.Notifications() {
		got = append(got, string(n.Kind))
	}
	if strings.Join(got, ",") != strings.Join(a.Kinds, ",") {
		return &AssertionError{
			Type:     AssertNotifications,
			Expected: fmt.Sprintf("%v", a.Kinds),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// matchSubset compares every expected key against the observation.
// Keys are checked in sorted order so failures are reproducible.
func matchSubset(label string, expect, obs map[string]any) error {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := obs[k]
		if !ok {
			return &AssertionError{Type: label, Expected: fmt.Sprintf("field %q", k), Actual: "no such field"}
		}
		if !valuesEqual(expect[k], got) {
			return &AssertionError{
				Type:     label,
				Expected: fmt.Sprintf("%s = %v", k, expect[k]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// valuesEqual compares YAML-decoded expectations with observations.
// Numbers compare by value; maps compare key by key.
func valuesEqual(want, got any) bool {
	switch w := want.(type) {
	case int:
		g, ok := got.(int)
		return ok && g == w
	case float64:
		g, ok := got.(int)
		return ok && float64(g) == w
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok || !valuesEqual(wv, gv) {
				return false
			}
		}
		return true
	case nil:
		return got == nil
	}
	return fmt.Sprint(want) == fmt.Sprint(got)
}

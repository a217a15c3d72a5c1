package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/store"
	"github.com/roach88/msgweave/internal/testutil"
)

// Harness executes one scenario against one engine.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	clock    *testutil.ManualClock
	recorder *engine.Recorder
	disc     int64
}

// Run executes a scenario in a fresh in-memory database.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	return RunWithStore(context.Background(), scenario, st, nil)
}

// RunWithStore executes a scenario against st. A nil logger discards
// engine logs. extra options apply after the harness defaults, so a shared
// database can swap the sequential permanent ids for real ones.
func RunWithStore(ctx context.Context, scenario *Scenario, st *store.Store, logger *slog.Logger, extra ...engine.Option) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewManualClock(scenario.Start),
		recorder: engine.NewRecorder(),
	}
	opts := append([]engine.Option{
		engine.WithSettings(scenario.Settings.EngineSettings()),
		engine.WithWallClock(h.clock),
		engine.WithIDGenerator(engine.NewSequentialGenerator()),
		engine.WithNotifier(h.recorder),
		engine.WithLogger(logger),
	}, extra...)
	eng, err := engine.New(st, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h.engine = eng

	h.disc, err = eng.CreateDiscussion(ctx, model.Discussion{
		OwnedIdentity: model.Identity(scenario.Owner),
		Title:         scenario.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create discussion: %w", err)
	}

	result := NewResult()
	result.DiscussionID = h.disc
	for i, step := range scenario.Steps {
		op, _ := step.Op()
		h.recorder.Reset()
		err := h.execute(ctx, op, step)

		ev := TraceEvent{Step: i, Op: op, Notifications: h.recorder.Events()}
		if err != nil {
			ev.Error = err.Error()
		}
		result.Trace = append(result.Trace, ev)

		switch {
		case err != nil && !step.ExpectError:
			result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, op, err))
		case err == nil && step.ExpectError:
			result.AddError(fmt.Sprintf("steps[%d] (%s): expected an error", i, op))
		}
	}

	if result.Timeline, err = eng.Timeline(ctx, h.disc); err != nil {
		return nil, err
	}
	if result.Stats, err = eng.Stats(ctx); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Ctx:          ctx,
		Engine:       eng,
		DiscussionID: h.disc,
		Start:        scenario.Start,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// at converts a scenario offset to an absolute time.
func (h *Harness) at(sec int64) time.Time {
	return h.scenario.Start.Add(time.Duration(sec) * time.Second)
}

func (h *Harness) atPtr(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := h.at(*sec)
	return &t
}

func identities(names []string) []model.Identity {
	if len(names) == 0 {
		return nil
	}
	out := make([]model.Identity, len(names))
	for i, n := range names {
		out[i] = model.Identity(n)
	}
	return out
}

func refPtr(r *Ref) *model.Reference {
	if r == nil {
		return nil
	}
	ref := r.Reference()
	return &ref
}

// permanentID resolves a reference to the stored message's permanent id.
func (h *Harness) permanentID(ctx context.Context, r Ref) (model.Reference, *model.Message, error) {
	ref := r.Reference()
	m, err := h.engine.Lookup(ctx, h.disc, ref)
	if err != nil {
		return ref, nil, err
	}
	if m == nil {
		return ref, nil, fmt.Errorf("message %s not stored", r)
	}
	return ref, m, nil
}

func (h *Harness) execute(ctx context.Context, op string, s Step) error {
	eng := h.engine
	switch op {
	case "message":
		m := s.Message
		p := model.MessagePayload{
			DiscussionID:    h.disc,
			Sender:          model.Identity(m.Sender),
			ThreadID:        m.Reference().ThreadID,
			Sequence:        m.Seq,
			Body:            m.Body,
			Mentions:        identities(m.Mentions),
			ReplyTo:         refPtr(m.ReplyTo),
			Ephemerality:    m.Ephemeral,
			Forwarded:       m.Forwarded,
			EngineMessageID: m.EngineID,
			ServerTimestamp: h.at(m.At),
		}
		if m.DownloadedAt != nil {
			p.DownloadedAt = h.at(*m.DownloadedAt)
		}
		return eng.IngestMessage(ctx, p)

	case "mutation":
		m := s.Mutation
		return eng.IngestMutation(ctx, model.MutationPayload{
			DiscussionID:    h.disc,
			Kind:            model.MutationKind(m.Kind),
			Requester:       model.Identity(m.Requester),
			Target:          m.Target.Reference(),
			ServerTimestamp: h.at(m.At),
			Body:            m.Body,
			Mentions:        identities(m.Mentions),
			Emoji:           m.Emoji,
			Authorized:      !m.Unauthorized,
		})

	case "outbound":
		o := s.Outbound
		_, err := eng.RecordOutbound(ctx, model.OutboundMessage{
			DiscussionID: h.disc,
			ThreadID:     Ref{Thread: o.Thread}.Reference().ThreadID,
			Sequence:     o.Seq,
			Body:         o.Body,
			Mentions:     identities(o.Mentions),
			ReplyTo:      refPtr(o.ReplyTo),
			Ephemerality: o.Ephemeral,
			Recipients:   identities(o.Recipients),
			Timestamp:    h.at(o.At),
		})
		return err

	case "assign":
		a := s.Assign
		_, m, err := h.permanentID(ctx, Ref{Sender: h.scenario.Owner, Thread: a.Thread, Seq: a.Seq})
		if err != nil {
			return err
		}
		return eng.AssignEngineMessageID(ctx, m.PermanentID, model.Identity(a.Recipient), a.EngineID)

	case "ack":
		a := s.Ack
		return eng.IngestAcknowledgement(ctx, model.AcknowledgementPayload{
			EngineMessageID: a.EngineID,
			Recipient:       model.Identity(a.Recipient),
			SentAt:          h.atPtr(a.SentAt),
			DeliveredAt:     h.atPtr(a.DeliveredAt),
			ReadAt:          h.atPtr(a.ReadAt),
			Failed:          a.Failed,
		})

	case "seen":
		_, m, err := h.permanentID(ctx, *s.Seen)
		if err != nil {
			return err
		}
		return eng.MarkSeen(ctx, m.PermanentID)

	case "read":
		_, m, err := h.permanentID(ctx, s.Read.Ref)
		if err != nil {
			return err
		}
		return eng.MarkRead(ctx, m.PermanentID, h.at(s.Read.At), s.Read.Remote)

	case "delete_locally":
		_, m, err := h.permanentID(ctx, *s.DeleteLocally)
		if err != nil {
			return err
		}
		return eng.DeleteLocally(ctx, m.PermanentID)

	case "advance":
		h.clock.Advance(s.Advance)
		return nil

	case "sweep":
		_, err := eng.SweepExpired(ctx, h.clock.Now())
		return err

	case "purge":
		_, err := eng.PurgeStalePending(ctx, h.clock.Now())
		return err

	case "retention":
		_, err := eng.ApplyRetention(ctx, h.disc, h.clock.Now())
		return err

	case "exit":
		_, err := eng.ExitDiscussion(ctx, h.disc)
		return err
	}
	return fmt.Errorf("unknown step %q", op)
}

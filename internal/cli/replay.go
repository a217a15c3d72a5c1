package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/harness"
	"github.com/roach88/msgweave/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayStep summarizes one executed scenario step.
type ReplayStep struct {
	Step          int      `json:"step"`
	Op            string   `json:"op"`
	Error         string   `json:"error,omitempty"`
	Notifications []string `json:"notifications,omitempty"`
}

// ReplayResult holds the outcome of replaying one scenario into a database.
type ReplayResult struct {
	Scenario     string       `json:"scenario"`
	DiscussionID int64        `json:"discussion_id"`
	Pass         bool         `json:"pass"`
	Steps        []ReplayStep `json:"steps"`
	Errors       []string     `json:"errors,omitempty"`
	Stats        store.Stats  `json:"stats"`
}

func (r ReplayResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "Scenario %s -> discussion %d\n", r.Scenario, r.DiscussionID)
	for _, s := range r.Steps {
		fmt.Fprintf(w, "  [%d] %-14s", s.Step, s.Op)
		switch {
		case s.Error != "":
			fmt.Fprintf(w, " error: %s", s.Error)
		case len(s.Notifications) > 0:
			fmt.Fprintf(w, " %v", s.Notifications)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Arena: %s message(s), %s pending reply(ies), %s pending mutation(s), %s expiration(s)\n",
		humanize.Comma(r.Stats.Messages),
		humanize.Comma(r.Stats.PendingReplies),
		humanize.Comma(r.Stats.PendingMutations),
		humanize.Comma(r.Stats.Expirations))
	if r.Pass {
		fmt.Fprintln(w, "✓ Replay passed")
		return
	}
	fmt.Fprintln(w, "✗ Replay failed")
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a scenario into a database",
		Long: `Replay a scenario's payloads and user actions into a persistent
database and report what every step published.

The scenario gets a new discussion, so replaying twice leaves two
independent timelines that can be compared with the timeline command.

Exit codes:
  0 - Every step and assertion succeeded
  1 - A step or assertion failed
  2 - Command error (scenario not found, database unreadable, etc.)

Examples:
  msgweave replay ./scenarios/reply.yaml --db ./msgweave.db
  msgweave replay ./scenarios/reply.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: configured database_path)")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	cfg, st, err := opts.openStore(ctx, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := harness.RunWithStore(ctx, scenario, st, opts.Logger(cmd.ErrOrStderr(), cfg),
		engine.WithIDGenerator(engine.UUIDv7Generator{}))
	if err != nil {
		return WrapExitError(ExitCommandError, "replay aborted", err)
	}

	out := ReplayResult{
		Scenario:     scenario.Name,
		DiscussionID: result.DiscussionID,
		Pass:         result.Pass,
		Steps:        make([]ReplayStep, 0, len(result.Trace)),
		Errors:       result.Errors,
		Stats:        result.Stats,
	}
	for _, ev := range result.Trace {
		step := ReplayStep{Step: ev.Step, Op: ev.Op, Error: ev.Error}
		for _, n := range ev.Notifications {
			step.Notifications = append(step.Notifications, string(n.Kind))
		}
		out.Steps = append(out.Steps, step)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if err := f.Success(out); err != nil {
		return err
	}
	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/msgweave/internal/config"
	"github.com/roach88/msgweave/internal/scheduler"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Database string
	Now      string
}

// SweepResult reports one maintenance pass.
type SweepResult struct {
	At              time.Time  `json:"at"`
	Expired         int        `json:"expired"`
	PurgedReplies   int64      `json:"purged_replies"`
	PurgedMutations int64      `json:"purged_mutations"`
	Retained        int        `json:"retained"`
	NextExpiration  *time.Time `json:"next_expiration,omitempty"`
}

func (r SweepResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "Maintenance at %s\n", r.At.Format(time.RFC3339))
	fmt.Fprintf(w, "  expired:           %s\n", humanize.Comma(int64(r.Expired)))
	fmt.Fprintf(w, "  purged replies:    %s\n", humanize.Comma(r.PurgedReplies))
	fmt.Fprintf(w, "  purged mutations:  %s\n", humanize.Comma(r.PurgedMutations))
	fmt.Fprintf(w, "  retention removed: %s\n", humanize.Comma(int64(r.Retained)))
	if r.NextExpiration != nil {
		fmt.Fprintf(w, "  next expiration:   %s\n", humanize.RelTime(*r.NextExpiration, r.At, "ago", "from now"))
	} else {
		fmt.Fprintln(w, "  next expiration:   none")
	}
}

// fixedClock pins the wall time of a one-off run.
type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass",
		Long: `Run one maintenance pass: remove messages whose expiration passed,
purge pending replies and mutations older than the pending TTL, and apply
count- and time-based retention to every discussion.

Examples:
  msgweave sweep --db ./msgweave.db
  msgweave sweep --db ./msgweave.db --now 2024-05-01T13:00:00Z`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: configured database_path)")
	cmd.Flags().StringVar(&opts.Now, "now", "", "wall time of the pass (RFC 3339, default now)")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	now, err := parseAt(opts.Now)
	if err != nil {
		return err
	}
	cfg, err := opts.Config(ctx)
	if err != nil {
		return err
	}

	st, eng, err := opts.openEngine(ctx, cmd, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	sched, err := scheduler.New(eng, sweepCron(cfg),
		scheduler.WithWallClock(fixedClock(now)),
		scheduler.WithLogger(opts.Logger(cmd.ErrOrStderr(), cfg)),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create scheduler", err)
	}

	report, err := sched.RunOnce(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "maintenance failed", err)
	}

	result := SweepResult{
		At:              report.At,
		Expired:         report.Expired,
		PurgedReplies:   report.Purged.Replies,
		PurgedMutations: report.Purged.Mutations,
		Retained:        report.Retained,
	}
	next, ok, err := eng.NextExpiration(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read next expiration", err)
	}
	if ok {
		result.NextExpiration = &next
	}
	return newFormatter(opts.RootOptions, cmd).Success(result)
}

func sweepCron(cfg config.Config) string {
	if cfg.SweepCron == "" {
		return config.DefaultSweepCron
	}
	return cfg.SweepCron
}

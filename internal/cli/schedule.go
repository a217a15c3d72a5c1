package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/msgweave/internal/scheduler"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	Database string
	Cron     string
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run maintenance continuously",
		Long: `Run maintenance on the configured cron schedule until interrupted.

Besides the cron ticks, the scheduler wakes at the next expiration
deadline so ephemeral messages disappear on time.

Examples:
  msgweave schedule --db ./msgweave.db
  msgweave schedule --cron "*/5 * * * *"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: configured database_path)")
	cmd.Flags().StringVar(&opts.Cron, "cron", "", "cron expression (default: configured sweep_cron)")

	return cmd
}

func runSchedule(opts *ScheduleOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.Config(ctx)
	if err != nil {
		return err
	}
	cron := opts.Cron
	if cron == "" {
		cron = sweepCron(cfg)
	}

	st, eng, err := opts.openEngine(ctx, cmd, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	f := newFormatter(opts.RootOptions, cmd)
	runs := 0
	sched, err := scheduler.New(eng, cron,
		scheduler.WithLogger(opts.Logger(cmd.ErrOrStderr(), cfg)),
		scheduler.OnRun(func(r scheduler.Report) {
			runs++
			f.VerboseLog("run %d: %s expired, %s retained", runs,
				humanize.Comma(int64(r.Expired)), humanize.Comma(int64(r.Retained)))
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create scheduler", err)
	}

	if err := sched.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "scheduler failed", err)
	}
	if !f.IsJSON() {
		fmt.Fprintf(f.Writer, "Scheduler stopped after %s run(s)\n", humanize.Comma(int64(runs)))
		return nil
	}
	return f.Success(map[string]int{"runs": runs})
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/msgweave/internal/config"
	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the msgweave CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "msgweave",
		Short: "msgweave - message ordering and reconciliation",
		Long: `A reconciliation engine that turns out-of-order message payloads,
remote edits, deletes, reactions and delivery acknowledgements into a
stable per-discussion timeline.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (.yaml, .yml or .cue)")

	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTimelineCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Config loads the effective configuration once per invocation.
func (o *RootOptions) Config(ctx context.Context) (config.Config, error) {
	if o.cfg != nil {
		return *o.cfg, nil
	}
	cfg, err := config.Load(ctx, o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	o.cfg = &cfg
	return cfg, nil
}

// Logger writes to w at the configured level. --verbose forces debug.
func (o *RootOptions) Logger(w io.Writer, cfg config.Config) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens dbPath, or the configured database when dbPath is empty.
func (o *RootOptions) openStore(ctx context.Context, dbPath string) (config.Config, *store.Store, error) {
	cfg, err := o.Config(ctx)
	if err != nil {
		return cfg, nil, err
	}
	if dbPath == "" {
		dbPath = cfg.DatabasePath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return cfg, st, nil
}

// openEngine opens the database (dbPath, or the configured one when empty)
// and builds an engine with the configured policies. The caller closes the
// returned store.
func (o *RootOptions) openEngine(ctx context.Context, cmd *cobra.Command, dbPath string, extra ...engine.Option) (*store.Store, *engine.Engine, error) {
	cfg, st, err := o.openStore(ctx, dbPath)
	if err != nil {
		return nil, nil, err
	}

	opts := append([]engine.Option{
		engine.WithSettings(cfg.Settings()),
		engine.WithLogger(o.Logger(cmd.ErrOrStderr(), cfg)),
	}, extra...)
	eng, err := engine.New(st, opts...)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return st, eng, nil
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/msgweave/internal/config"
)

// ConfigView is the effective configuration as printed.
type ConfigView struct {
	Source                      string  `json:"source"`
	DatabasePath                string  `json:"database_path"`
	LogLevel                    string  `json:"log_level"`
	RetainWipedOutboundMessages bool    `json:"retain_wiped_outbound_messages"`
	SortEpsilon                 float64 `json:"sort_epsilon"`
	PendingTTL                  string  `json:"pending_ttl"`
	SweepCron                   string  `json:"sweep_cron"`
	TimeBasedRetention          string  `json:"time_based_retention"`
	CountBasedRetention         int64   `json:"count_based_retention"`
}

func newConfigView(source string, cfg config.Config) ConfigView {
	if source == "" {
		source = "defaults+env"
	}
	return ConfigView{
		Source:                      source,
		DatabasePath:                cfg.DatabasePath,
		LogLevel:                    cfg.LogLevel,
		RetainWipedOutboundMessages: cfg.RetainWipedOutboundMessages,
		SortEpsilon:                 cfg.SortEpsilon,
		PendingTTL:                  cfg.PendingTTL.String(),
		SweepCron:                   cfg.SweepCron,
		TimeBasedRetention:          cfg.TimeBasedRetention.String(),
		CountBasedRetention:         cfg.CountBasedRetention,
	}
}

func (v ConfigView) renderText(w io.Writer) {
	fmt.Fprintf(w, "# %s\n", v.Source)
	fmt.Fprintf(w, "database_path:                  %s\n", v.DatabasePath)
	fmt.Fprintf(w, "log_level:                      %s\n", v.LogLevel)
	fmt.Fprintf(w, "retain_wiped_outbound_messages: %t\n", v.RetainWipedOutboundMessages)
	fmt.Fprintf(w, "sort_epsilon:                   %g\n", v.SortEpsilon)
	fmt.Fprintf(w, "pending_ttl:                    %s\n", v.PendingTTL)
	fmt.Fprintf(w, "sweep_cron:                     %q\n", v.SweepCron)
	fmt.Fprintf(w, "time_based_retention:           %s\n", v.TimeBasedRetention)
	fmt.Fprintf(w, "count_based_retention:          %d\n", v.CountBasedRetention)
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the --config file and
MSGWEAVE_* environment overrides were applied and validated.

Examples:
  msgweave config
  msgweave config --config ./msgweave.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.Config(cmd.Context())
			if err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd).Success(newConfigView(rootOpts.ConfigPath, cfg))
		},
	}

	return cmd
}

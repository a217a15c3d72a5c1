package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/msgweave/internal/harness"
)

// ValidationError describes one file that failed to load.
type ValidationError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r ValidationResult) renderText(w io.Writer) {
	if r.Valid {
		fmt.Fprintf(w, "✓ All scenarios valid (%d file(s))\n", r.Files)
		return
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "✗ %s: %s\n", e.File, e.Message)
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file-or-dir>...",
		Short: "Check scenario files without running them",
		Long: `Parse and validate scenario files without executing them.

Unknown fields, steps with no or several actions, unknown mutation kinds
and malformed assertions are reported per file. Directories are searched
for .yaml and .yml files.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", p), err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := findScenarioFiles(p, "")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	result := ValidationResult{Valid: true, Files: len(files)}
	for _, file := range files {
		f.VerboseLog("validating %s", file)
		if _, err := harness.LoadScenario(file); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{File: file, Message: err.Error()})
		}
	}

	if result.Valid {
		return f.Success(result)
	}

	if f.IsJSON() {
		if err := f.Error(ErrCodeInvalid, fmt.Sprintf("%d invalid scenario file(s)", len(result.Errors)), result.Errors); err != nil {
			return err
		}
	} else {
		result.renderText(f.Writer)
	}
	return NewExitError(ExitFailure, "validation failed")
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kinship/internal/harness"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml|dir>",
		Short: "Run scenario files against a fresh in-memory store",
		Long: `Run one scenario file, or every .yaml and .yml file below a directory.

Each scenario gets its own in-memory database, so runs never share state.
Exits 1 if any scenario fails to load, errors during a step or fails an
assertion.

Example:
  kinship run ./scenarios
  kinship run ./scenarios/owner_handoff.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runScenarios(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.Logger

	logger.Info("running scenarios", "path", path)
	result, err := harness.RunDir(path,
		harness.WithLogger(logger),
		harness.WithMergeTimeout(time.Duration(opts.Config.Merge.Timeout)),
	)
	if err != nil {
		_ = formatter.Error(ErrCodeScenarioPath, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	logger.Info("scenarios finished", "total", result.TotalScenarios, "passed", result.Passed, "failed", result.Failed)

	failed := NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.TotalScenarios))

	if formatter.Structured() {
		if result.OK() {
			return formatter.Success(result)
		}
		if err := formatter.Failure(result, ErrCodeScenarioFailed, failed.Message); err != nil {
			return err
		}
		return failed
	}

	for _, f := range result.Failures {
		name := f.Scenario
		if name == "" {
			name = f.Path
		}
		fmt.Fprintf(formatter.Writer, "✗ %s (%s)\n", name, f.Path)
		for _, msg := range f.Errors {
			fmt.Fprintf(formatter.Writer, "    %s\n", msg)
		}
	}
	fmt.Fprintf(formatter.Writer, "%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.TotalScenarios)

	if !result.OK() {
		return failed
	}
	return nil
}

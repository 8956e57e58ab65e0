package cli

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/kinship/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool          `json:"valid" yaml:"valid"`
	Dir    string        `json:"dir" yaml:"dir"`
	Models []string      `json:"models,omitempty" yaml:"models,omitempty"`
	Errors []SchemaIssue `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// SchemaIssue is one problem found in a schema directory.
type SchemaIssue struct {
	Code    string `json:"code" yaml:"code"`
	Field   string `json:"field,omitempty" yaml:"field,omitempty"`
	Message string `json:"message" yaml:"message"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [schema-dir]",
		Short: "Validate CUE model definitions",
		Long: `Load every CUE file in a schema directory and check the models it declares.

Reports every problem found rather than stopping at the first. The directory
defaults to schema.dir from the configuration.

Example:
  kinship validate ./schema
  kinship validate --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Config.Schema.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.Logger.With("dir", dir)

	res, errs := schema.Load(dir, schema.LoadModeCollectAll)

	// Nothing was compiled: the directory itself is unusable.
	if res == nil {
		issue := toIssue(errs[0])
		logger.Debug("schema load failed", "code", issue.Code, "error", issue.Message)
		return outputValidateError(formatter, issue.Code, issue.Message, nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)

	result := ValidationResult{Valid: len(errs) == 0, Dir: dir}
	for _, m := range res.Schema.Models {
		result.Models = append(result.Models, m.Name)
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, toIssue(err))
	}
	logger.Debug("schema validated", "models", len(result.Models), "errors", len(result.Errors))

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// toIssue flattens the loader's error types into one reportable shape.
func toIssue(err error) SchemaIssue {
	var (
		le *schema.LoadError
		ce *schema.CompileError
		ve schema.ValidationError
	)
	switch {
	case errors.As(err, &le):
		return SchemaIssue{Code: le.Code, Message: le.Message, Line: lineOf(le.Pos)}
	case errors.As(err, &ce):
		return SchemaIssue{Code: schema.MapFieldToErrorCode(ce.Field), Field: ce.Field, Message: ce.Message, Line: lineOf(ce.Pos)}
	case errors.As(err, &ve):
		return SchemaIssue{Code: ve.Code, Field: ve.Field, Message: ve.Message}
	default:
		return SchemaIssue{Code: schema.ErrCodeGeneric, Message: err.Error()}
	}
}

func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Structured() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All models valid (%d)\n", len(result.Models))
	return nil
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Structured() {
		first := result.Errors[0]
		if err := formatter.Failure(result, first.Code, first.Message); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range result.Errors {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	return failed
}

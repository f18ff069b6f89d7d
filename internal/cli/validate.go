package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// ValidationIssue is one problem found in a flow directory.
type ValidationIssue struct {
	Flow    string `json:"flow,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Flows  []string          `json:"flows,omitempty"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <flows-dir>",
		Short: "Validate flow definitions",
		Long: `Validate the CUE flow definitions in a directory.

Each flow is compiled and built with pass-through node bodies, which
checks node and router names, trigger conditions and router sources
without running anything.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result, issues, err := ValidateFlowsDir(dir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return commandError(formatter, loadErr.Code, loadErr.Message)
		}
		return commandError(formatter, ErrCodeGeneric, err.Error())
	}

	if result != nil {
		formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)
		for _, f := range result.Flows {
			formatter.VerboseLog("Validated flow: %s", f.Name)
		}
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}

	names := make([]string, len(result.Flows))
	for i, f := range result.Flows {
		names[i] = f.Name
	}
	return formatter.Success(ValidationResult{Valid: true, Flows: names}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ All flows valid (%s)\n", strings.Join(names, ", "))
	})
}

// ValidateFlowsDir loads and builds every flow in dir. Directory-level
// problems are returned as err; flow problems are returned as issues.
func ValidateFlowsDir(dir string) (*LoadResult, []ValidationIssue, error) {
	result, err := LoadFlows(dir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && isFlowErrorCode(loadErr.Code) {
			return nil, []ValidationIssue{{
				Code:    loadErr.Code,
				Message: loadErr.Message,
				Line:    lineOf(loadErr),
			}}, nil
		}
		return nil, nil, err
	}

	var issues []ValidationIssue
	for _, spec := range result.Flows {
		if _, err := buildDryRun(spec); err != nil {
			issues = append(issues, ValidationIssue{
				Flow:    spec.Name,
				Code:    MapBuildErrorToCode(err),
				Message: err.Error(),
				Line:    spec.Pos.Line(),
			})
		}
	}
	return result, issues, nil
}

func isFlowErrorCode(code string) bool {
	return strings.HasPrefix(code, "E1")
}

func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// outputValidationErrors outputs validation issues and returns exit code 1.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	err := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	_ = formatter.Failure(issues[0].Code, issues[0].Message,
		ValidationResult{Valid: false, Errors: issues},
		func(w io.Writer) {
			fmt.Fprintln(w, "✗ Validation failed")
			fmt.Fprintln(w)
			for _, issue := range issues {
				if issue.Flow != "" {
					fmt.Fprintf(w, "flow %s", issue.Flow)
					if issue.Line > 0 {
						fmt.Fprintf(w, " (line %d)", issue.Line)
					}
					fmt.Fprintln(w)
				} else if issue.Line > 0 {
					fmt.Fprintf(w, "line %d\n", issue.Line)
				}
				fmt.Fprintf(w, "  %s: %s\n\n", issue.Code, issue.Message)
			}
		})
	return err
}

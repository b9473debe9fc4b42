package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/operon-io/operon/internal/pipefile"
	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/op"
)

// ValidationResult holds validation results for json output.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Steps  int               `json:"steps,omitempty"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one defect found in a pipefile. Index is the
// 0-based position in the flattened pipeline for structural errors;
// Field locates compile errors in the pipefile.
type ValidationIssue struct {
	Index   *int   `json:"index,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipefile>",
		Short: "Validate a pipefile without executing it",
		Long: `Load a CUE pipefile, compile its steps, and run the structural
pipeline validator. Targets are not opened; storage steps bind to
placeholders carrying only the target name.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

// stubTarget names a target without being able to execute anything.
// Validation and explanation need target identity only.
type stubTarget string

func (s stubTarget) Name() string { return string(s) }

// compilePipefile loads path and compiles it against stub targets.
func compilePipefile(path string) (op.Node, error) {
	v, err := pipefile.Load(path)
	if err != nil {
		return nil, err
	}
	names, err := pipefile.TargetNames(v)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]op.Target, len(names))
	for _, n := range names {
		targets[n] = stubTarget(n)
	}
	return pipefile.Compile(v, targets)
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	node, err := compilePipefile(path)
	if err != nil {
		var loadErr *pipefile.LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return WrapExitError(ExitCommandError, "cannot load pipefile", err)
		}
		var compileErr *pipefile.CompileError
		if errors.As(err, &compileErr) {
			return outputIssues(formatter, []ValidationIssue{{
				Field:   compileErr.Field,
				Message: compileErr.Message,
			}}, 0)
		}
		return WrapExitError(ExitCommandError, "cannot compile pipefile", err)
	}

	steps := len(op.Flatten(node))
	formatter.VerboseLog("compiled %s: %d step(s)", path, steps)

	if err := engine.Validate(node); err != nil {
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			idx := ve.Index
			return outputIssues(formatter, []ValidationIssue{{
				Index:   &idx,
				Message: ve.Message,
			}}, steps)
		}
		return WrapExitError(ExitCommandError, "validation failed", err)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(ValidationResult{Valid: true, Steps: steps}); err != nil {
			return err
		}
		return nil
	}
	fmt.Fprintf(formatter.Writer, "pipeline valid: %d step(s)\n", steps)
	return nil
}

func outputIssues(formatter *OutputFormatter, issues []ValidationIssue, steps int) error {
	if formatter.Format == "json" {
		resp := Response{
			Status: "error",
			Data:   ValidationResult{Valid: false, Steps: steps, Errors: issues},
			Error:  &ResponseError{Code: "VALIDATION", Message: issues[0].Message},
		}
		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "pipeline invalid")
	for _, issue := range issues {
		switch {
		case issue.Index != nil:
			fmt.Fprintf(formatter.Writer, "  step %d: %s\n", *issue.Index, issue.Message)
		case issue.Field != "":
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Field, issue.Message)
		default:
			fmt.Fprintf(formatter.Writer, "  %s\n", issue.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}

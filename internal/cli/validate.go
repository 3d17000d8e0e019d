package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dashopt/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool                       `json:"valid"`
	Views        int                        `json:"views,omitempty"`
	Interactions int                        `json:"interactions,omitempty"`
	Errors       []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <task-dir>",
		Short: "Validate a task definition without optimizing",
		Long: `Validate the CUE task definition in <task-dir>.

Checks that views decode into plans, that interactions drive choices the
views contain, and that budgets, values and tasks are well formed. No
statistics are needed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, taskDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	result, err := LoadTask(taskDir)
	var loadErr *LoadError
	if result == nil {
		// Directory not found, no files, CUE syntax errors.
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, taskDir)

	if err != nil {
		// The definition builds but does not compile into a task.
		verr := compiler.ValidationError{Field: "load", Message: err.Error(), Code: ErrCodeGeneric}
		if errors.As(err, &loadErr) {
			verr.Message, verr.Code = loadErr.Message, loadErr.Code
			if loadErr.Pos.IsValid() {
				verr.Line = loadErr.Pos.Line()
			}
		}
		return outputValidationErrors(formatter, []compiler.ValidationError{verr})
	}

	def := result.Definition
	for _, v := range def.Task.Views {
		formatter.VerboseLog("Validating view: %s", v.Name)
	}
	if errs := compiler.Validate(def); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	return outputValidateSuccess(formatter, len(def.Task.Views), len(def.Task.Interactions))
}

// outputValidateSuccess outputs successful validation result.
func outputValidateSuccess(formatter *OutputFormatter, views, interactions int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Views: views, Interactions: interactions})
	}
	fmt.Fprintf(formatter.Writer, "✓ Task valid: %d view(s), %d interaction(s)\n", views, interactions)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dashopt/internal/ir"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	PlanOptions
	Output string // output file path
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{PlanOptions: PlanOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "export <task-dir>",
		Short: "Optimize a task and export the chosen plans",
		Long: `Optimize the task in <task-dir> and write the chosen plans as a bundle:
one tagged-union plan tree per interaction/view/binding, together with the
task's choice values and binding order.

Example:
  dashopt export --stats fixture.yaml -o plans.json ./tasks/flights`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	addModelFlags(cmd, &opts.PlanOptions)
	addSolverFlags(cmd, &opts.PlanOptions)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (stdout if empty)")

	return cmd
}

func runExport(opts *ExportOptions, taskDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	def, res, err := planTask(&opts.PlanOptions, taskDir, cmd)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	data, err := ir.MarshalBundle(res.Bundle(def.Values, def.Tasks), ir.NewSequence())
	if err != nil {
		return outputCommandError(formatter, err)
	}
	if opts.Record != "" {
		if err := recordRun(cmd, opts.Record, taskDir, res, data, formatter); err != nil {
			return err
		}
	}
	if len(res.Plans) == 0 {
		_ = formatter.Error(ErrCodeOptimize, fmt.Sprintf("nothing to export: task is %s", res.Status), nil)
		return statusExit(res)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, append(data, '\n'), 0644); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, ErrCodeWriteFailed, err)
		}
		formatter.VerboseLog("Wrote %d plan(s) to %s", len(res.Plans), opts.Output)
		if formatter.Format == "json" {
			if err := formatter.Success(map[string]any{"status": res.Status, "plans": len(res.Plans), "output": opts.Output}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(formatter.Writer, "✓ Exported %d plan(s) (%s) to %s\n", len(res.Plans), res.Status, opts.Output)
		}
		return statusExit(res)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(json.RawMessage(data)); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(formatter.Writer, string(data))
	}
	return statusExit(res)
}

// File: cmd/pipectl/create.go
// Brief: CLI command wiring and implementation for 'create' and 'plan'.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/pipectl/internal/metrics"
	"github.com/example/pipectl/internal/runner"
	"github.com/example/pipectl/internal/settings"
)

func newCreateCommand(global *globalOptions) *cobra.Command {
	flags := &runFlags{}
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Replace the generated pipelines of an application",
		Long:  "create renders and assembles one pipeline per region, deletes the previously generated pipeline of that region and posts the new one.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := execute(cmd, global, flags, func(o *runner.Options) { o.DryRun = dryRun })
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	flags.bindApp(cmd.Flags())
	flags.bind(cmd.Flags())
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Render and assemble without touching remote pipelines")
	return cmd
}

func newPlanCommand(global *globalOptions) *cobra.Command {
	flags := &runFlags{}
	var (
		output string
		diff   bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the pipelines create would publish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := strings.ToLower(strings.TrimSpace(output))
			if format != "" && format != "table" && format != "json" {
				return fmt.Errorf("unknown --output %q (expected table|json)", output)
			}
			report, err := execute(cmd, global, flags, func(o *runner.Options) {
				o.DryRun = true
				o.Diff = diff
			})
			if report == nil {
				return err
			}
			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(newPlanView(report)); encErr != nil {
					return encErr
				}
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			printStages(cmd.OutOrStdout(), report)
			printDiffs(cmd.OutOrStdout(), report)
			return err
		},
	}
	flags.bindApp(cmd.Flags())
	flags.bind(cmd.Flags())
	cmd.Flags().StringVar(&output, "output", "table", "Output format: table|json")
	cmd.Flags().BoolVar(&diff, "diff", false, "Diff every pipeline against the one stored by the orchestrator")
	return cmd
}

// execute runs one application and writes metrics. The report is returned
// even when regions failed.
func execute(cmd *cobra.Command, global *globalOptions, flags *runFlags, adjust func(*runner.Options)) (*runner.Report, error) {
	app, err := requireApp(flags.app)
	if err != nil {
		return nil, err
	}
	sess, err := global.open(cmd)
	if err != nil {
		return nil, err
	}
	st, err := sess.loadSettings(flags, app)
	if err != nil {
		return nil, err
	}
	rec := metrics.New()
	report, runErr := runApp(cmd.Context(), sess, flags, rec, app, st, adjust)
	if err := rec.WriteTextfile(sess.metricsPath(flags)); err != nil {
		sess.log.Error(err, "failed to write metrics")
	}
	return report, runErr
}

func runApp(ctx context.Context, sess *session, flags *runFlags, rec *metrics.Recorder, app string, st *settings.Settings, adjust func(*runner.Options)) (*runner.Report, error) {
	r, err := sess.newRunner(ctx, flags, rec)
	if err != nil {
		return nil, err
	}
	opts := sess.runOptions(flags, app, st)
	if adjust != nil {
		adjust(&opts)
	}
	return r.Run(ctx, opts)
}

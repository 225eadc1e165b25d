// File: cmd/pipectl/output.go
// Brief: Human and JSON rendering of run reports.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/example/pipectl/internal/pipediff"
	"github.com/example/pipectl/internal/pipeline"
	"github.com/example/pipectl/internal/runner"
)

func regionStatus(report *runner.Report, res runner.RegionResult) string {
	switch {
	case res.Err != nil:
		return color.New(color.FgRed, color.Bold).Sprint("failed")
	case report.DryRun:
		return color.New(color.FgCyan).Sprint("planned")
	default:
		return color.New(color.FgGreen).Sprint("created")
	}
}

func printReport(w io.Writer, report *runner.Report) {
	fmt.Fprintf(w, "%s (%s) run %s\n", report.Application, report.Variant, report.RunID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tPIPELINE\tSTAGES\tSKIPPED\tSTATUS")
	for _, res := range report.Regions {
		name, stages := "-", "-"
		if res.Pipeline != nil {
			name = res.Pipeline.Name
			stages = fmt.Sprint(len(res.Pipeline.Stages))
		}
		skipped := "-"
		if len(res.Skipped) > 0 {
			skipped = strings.Join(res.Skipped, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Region, name, stages, skipped, regionStatus(report, res))
	}
	_ = tw.Flush()
	for _, res := range report.Failed() {
		fmt.Fprintf(w, "%s %s: %v\n", color.New(color.FgRed).Sprint("✗"), res.Region, res.Err)
	}
	if n := len(report.Pruned.Deleted); n > 0 {
		fmt.Fprintf(w, "pruned %d pipeline(s) of removed regions: %s\n", n, strings.Join(report.Pruned.Deleted, ", "))
	}
}

// printStages lists every assembled stage with its wire dependencies.
func printStages(w io.Writer, report *runner.Report) {
	for _, res := range report.Regions {
		if res.Pipeline == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", color.New(color.Bold).Sprint(res.Pipeline.Name))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  REF\tNAME\tTYPE\tAFTER")
		for _, s := range res.Pipeline.Stages {
			after := "-"
			if len(s.DependsOn) > 0 {
				refs := make([]string, 0, len(s.DependsOn))
				for _, d := range s.DependsOn {
					refs = append(refs, d.String())
				}
				after = strings.Join(refs, ",")
			}
			name := s.Name()
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.ID, name, s.Type(), after)
		}
		_ = tw.Flush()
	}
}

func printDiffs(w io.Writer, report *runner.Report) {
	for _, res := range report.Regions {
		if res.Diff != nil {
			pipediff.Print(w, *res.Diff)
		}
	}
}

type planView struct {
	RunID       string           `json:"runID"`
	Application string           `json:"application"`
	Variant     string           `json:"variant"`
	Regions     []planRegionView `json:"regions"`
}

type planRegionView struct {
	Region   string                      `json:"region"`
	Skipped  []string                    `json:"skipped,omitempty"`
	Spans    []pipeline.Span             `json:"fragments,omitempty"`
	Pipeline *pipeline.AssembledPipeline `json:"pipeline,omitempty"`
	Diff     *pipediff.Result            `json:"diff,omitempty"`
	Error    string                      `json:"error,omitempty"`
	Kind     string                      `json:"errorKind,omitempty"`
}

func newPlanView(report *runner.Report) planView {
	view := planView{
		RunID:       report.RunID,
		Application: report.Application,
		Variant:     report.Variant.String(),
		Regions:     make([]planRegionView, 0, len(report.Regions)),
	}
	for _, res := range report.Regions {
		rv := planRegionView{
			Region:   res.Region,
			Skipped:  res.Skipped,
			Pipeline: res.Pipeline,
			Diff:     res.Diff,
		}
		if res.Pipeline != nil {
			rv.Spans = res.Pipeline.Spans
		}
		if res.Err != nil {
			rv.Error = res.Err.Error()
			rv.Kind = pipeline.ErrorKind(res.Err)
		}
		view.Regions = append(view.Regions, rv)
	}
	return view
}

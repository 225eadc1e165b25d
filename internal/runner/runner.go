// File: internal/runner/runner.go
// Brief: Per-region render, assemble, replace and publish.

// Package runner drives one pipectl run: it resolves the environment/region
// matrix and processes every region independently on a bounded worker pool.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/pipectl/internal/featureflags"
	"github.com/example/pipectl/internal/lookup"
	"github.com/example/pipectl/internal/metrics"
	"github.com/example/pipectl/internal/pipediff"
	"github.com/example/pipectl/internal/pipeline"
	"github.com/example/pipectl/internal/publish"
	"github.com/example/pipectl/internal/render"
	"github.com/example/pipectl/internal/settings"
)

// API is the orchestrator surface a run needs.
type API interface {
	publish.API
	GetPipeline(ctx context.Context, app, name string) (json.RawMessage, bool, error)
}

// Deps are the collaborators shared by every region worker.
type Deps struct {
	API      API
	Renderer render.Renderer
	Images   lookup.ImageResolver
	Subnets  lookup.SubnetResolver
	Metrics  *metrics.Recorder
	Logger   logr.Logger
}

// Options describe one run for one application.
type Options struct {
	Application string
	Settings    *settings.Settings

	// Regions restricts the run. Empty means every declared region.
	Regions []string
	// Onetime, when set, builds the one-time pipeline for that environment.
	Onetime string
	// Base overrides the settings' base image name.
	Base       string
	TriggerJob string

	// ImageTemplates maps region to the image template file. Regions
	// without an entry use the us-east-1 entry.
	ImageTemplates map[string]string

	Concurrency int
	FailFast    bool
	// DryRun renders and assembles without touching remote pipelines.
	DryRun bool
	// Diff compares every assembled pipeline with the stored one.
	Diff bool
}

// RegionResult is the immutable outcome of one region.
type RegionResult struct {
	Region   string
	Pipeline *pipeline.AssembledPipeline
	Skipped  []string
	Replaced publish.ReplaceResult
	Diff     *pipediff.Result
	Err      error
	Duration time.Duration
}

// Report combines every region result of a run.
type Report struct {
	RunID       string
	Application string
	Variant     pipeline.Variant
	DryRun      bool
	Regions     []RegionResult
	Pruned      publish.ReplaceResult
}

// Failed returns the failed regions, sorted by region.
func (r *Report) Failed() []RegionResult {
	var out []RegionResult
	for _, res := range r.Regions {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Runner executes runs. It is safe to reuse across applications.
type Runner struct {
	deps Deps
	log  logr.Logger
}

func New(deps Deps) *Runner {
	log := deps.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Runner{deps: deps, log: log}
}

// Run processes every region of opts.Application. Region failures never
// stop other regions unless opts.FailFast is set; either way they are
// returned together as *RunError alongside the report.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	if strings.TrimSpace(opts.Application) == "" {
		return nil, fmt.Errorf("application name is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings for %s are required", opts.Application)
	}
	if r.deps.Renderer == nil || r.deps.Images == nil || r.deps.Subnets == nil {
		return nil, fmt.Errorf("runner is missing a renderer or lookup")
	}
	if r.deps.API == nil && (!opts.DryRun || opts.Diff) {
		return nil, fmt.Errorf("orchestrator API client is required")
	}

	flags := featureflags.FromContext(ctx)
	variant := pipeline.Variant{Onetime: opts.Onetime}
	report := &Report{
		RunID:       uuid.NewString(),
		Application: opts.Application,
		Variant:     variant,
		DryRun:      opts.DryRun,
	}
	log := r.log.WithValues("runID", report.RunID, "app", opts.Application)

	matrix := pipeline.ResolveMatrix(opts.Settings.Targets())
	if opts.Onetime != "" {
		if _, ok := opts.Settings.Environment(opts.Onetime); !ok {
			return nil, fmt.Errorf("environment %q is not declared for %s", opts.Onetime, opts.Application)
		}
		matrix = matrix.Only(opts.Onetime)
	}
	declared := matrix.Regions()
	matrix = matrix.Restrict(opts.Regions)
	for _, region := range opts.Regions {
		if _, ok := matrix[strings.TrimSpace(region)]; !ok {
			log.Info("no environment deploys to region, ignoring", "region", region)
		}
	}
	regions := matrix.Regions()
	if len(regions) == 0 {
		return nil, fmt.Errorf("no regions to process for %s", opts.Application)
	}
	for _, region := range regions {
		log.Info("resolved region", "region", region, "envs", matrix.Names(region))
	}

	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	var (
		g    *errgroup.Group
		gctx = ctx
	)
	if opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(limit)

	w := worker{
		Runner:  r,
		opts:    opts,
		variant: variant,
		strict:  flags.Enabled(featureflags.FeatureStrictLinearChaining),
		log:     log,
	}
	results := make([]RegionResult, len(regions))
	for i, region := range regions {
		envs := matrix[region]
		g.Go(func() error {
			results[i] = w.region(gctx, region, envs)
			if opts.FailFast {
				return results[i].Err
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Regions = results

	var pruneErr error
	aborted := opts.FailFast && len(report.Failed()) > 0
	if !opts.DryRun && !aborted && len(opts.Regions) == 0 && ctx.Err() == nil &&
		flags.Enabled(featureflags.FeaturePruneRemovedRegions) {
		replacer := publish.NewReplacer(r.deps.API, log)
		report.Pruned, pruneErr = replacer.Prune(ctx, opts.Application, declared, variant)
		r.deps.Metrics.Stale(opts.Application, len(report.Pruned.Deleted), len(report.Pruned.Failed))
		if pruneErr != nil {
			pruneErr = fmt.Errorf("prune removed regions: %w", pruneErr)
		}
	}
	r.deps.Metrics.Finished(opts.Application, time.Now())

	if failed := report.Failed(); len(failed) > 0 || pruneErr != nil {
		return report, &RunError{Application: opts.Application, Total: len(regions), Failures: failed, Prune: pruneErr}
	}
	return report, nil
}

type worker struct {
	*Runner
	opts    Options
	variant pipeline.Variant
	strict  bool
	log     logr.Logger
}

// region runs every step for one region in order. It never returns early
// without recording the error on the result.
func (w worker) region(ctx context.Context, region string, envs []pipeline.Environment) RegionResult {
	start := time.Now()
	log := w.log.WithValues("region", region)
	res := RegionResult{Region: region}
	finish := func(err error) RegionResult {
		res.Err = err
		res.Duration = time.Since(start)
		outcome, kind := metrics.OutcomeCreated, ""
		switch {
		case err != nil:
			outcome, kind = metrics.OutcomeFailed, pipeline.ErrorKind(err)
			log.Error(err, "region failed", "kind", kind)
		case w.opts.DryRun:
			outcome = metrics.OutcomePlanned
		}
		stages := 0
		if res.Pipeline != nil {
			stages = len(res.Pipeline.Stages)
		}
		w.deps.Metrics.Region(w.opts.Application, region, outcome, kind, stages, res.Duration)
		return res
	}
	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	subnets, err := w.deps.Subnets.Subnets(ctx, []string{region})
	if err != nil {
		return finish(fmt.Errorf("resolve subnets in %s: %w", region, err))
	}
	plan := pipeline.NewRegionPlan(region, envs, subnets)
	for _, env := range plan.Skipped {
		log.Info("environment is not available in region", "env", env)
	}
	res.Skipped = plan.Skipped
	w.deps.Metrics.Skipped(w.opts.Application, region, len(plan.Skipped))

	wrapper, err := w.renderWrapper(ctx, region)
	if err != nil {
		return finish(err)
	}
	fragments := make([]pipeline.Fragment, 0, len(plan.Targets))
	for _, target := range plan.Targets {
		frag, err := w.renderEnvironment(ctx, region, target)
		if err != nil {
			return finish(err)
		}
		fragments = append(fragments, frag)
	}

	assembled, err := pipeline.Assemble(pipeline.Header{
		Name:        pipeline.PipelineName(w.opts.Application, region, w.variant),
		Application: w.opts.Application,
		Region:      region,
	}, wrapper, fragments, pipeline.AssembleOptions{StrictLinear: w.strict})
	if err != nil {
		return finish(err)
	}
	res.Pipeline = assembled
	log.Info("assembled pipeline", "pipeline", assembled.Name, "stages", len(assembled.Stages), "fragments", len(assembled.Spans))

	if w.opts.Diff {
		diff, err := w.diff(ctx, assembled)
		if err != nil {
			return finish(err)
		}
		res.Diff = diff
	}
	if w.opts.DryRun {
		return finish(nil)
	}

	replaced, err := publish.NewReplacer(w.deps.API, log).Replace(ctx, w.opts.Application, assembled)
	res.Replaced = replaced
	w.deps.Metrics.Stale(w.opts.Application, len(replaced.Deleted), len(replaced.Failed))
	if err != nil {
		return finish(err)
	}
	if err := publish.NewPublisher(w.deps.API, log).Publish(ctx, assembled); err != nil {
		return finish(err)
	}
	return finish(nil)
}

func (w worker) renderWrapper(ctx context.Context, region string) (pipeline.Fragment, error) {
	s := w.opts.Settings
	base := w.opts.Base
	if base == "" {
		base = s.Pipeline.Base
	}
	imageID, err := w.deps.Images.ImageID(ctx, base, region)
	if err != nil {
		return pipeline.Fragment{}, &pipeline.RenderError{Fragment: string(pipeline.KindWrapper), Region: region, Err: err}
	}
	return w.deps.Renderer.Render(ctx, pipeline.KindWrapper, render.Context{
		Application:    w.opts.Application,
		Region:         region,
		TriggerJob:     w.opts.TriggerJob,
		Base:           base,
		ImageID:        imageID,
		ImageTemplate:  imageTemplate(w.opts.ImageTemplates, region),
		RootVolumeSize: s.Pipeline.Image.RootVolumeSize,
		Email:          s.Pipeline.Notifications.Email,
		Slack:          s.Pipeline.Notifications.Slack,
		Onetime:        w.variant.Onetime != "",
		Pipeline:       s.Pipeline,
	})
}

func (w worker) renderEnvironment(ctx context.Context, region string, target pipeline.Target) (pipeline.Fragment, error) {
	name := target.Environment.Name
	envSettings, ok := w.opts.Settings.Environment(name)
	if !ok {
		return pipeline.Fragment{}, &pipeline.RenderError{Fragment: name, Region: region, Err: fmt.Errorf("no settings block for environment")}
	}
	return w.deps.Renderer.Render(ctx, pipeline.KindEnvironment, render.Context{
		Application: w.opts.Application,
		Region:      region,
		Environment: name,
		Previous:    target.Previous,
		TriggerJob:  w.opts.TriggerJob,
		Email:       w.opts.Settings.Pipeline.Notifications.Email,
		Slack:       w.opts.Settings.Pipeline.Notifications.Slack,
		Subnets:     target.Subnets,
		Onetime:     w.variant.Onetime != "",
		Pipeline:    w.opts.Settings.Pipeline,
		Settings:    envSettings,
	})
}

func (w worker) diff(ctx context.Context, p *pipeline.AssembledPipeline) (*pipediff.Result, error) {
	live, found, err := w.deps.API.GetPipeline(ctx, p.Application, p.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch stored pipeline %q: %w", p.Name, err)
	}
	if !found {
		live = nil
	}
	next, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("serialize pipeline %q: %w", p.Name, err)
	}
	res, err := pipediff.Compare(p.Name, live, next)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

const defaultTemplateRegion = "us-east-1"

func imageTemplate(templates map[string]string, region string) string {
	if t, ok := templates[region]; ok {
		return t
	}
	return templates[defaultTemplateRegion]
}

// RunError lists every failed region of a run, sorted by region.
type RunError struct {
	Application string
	Total       int
	Failures    []RegionResult
	Prune       error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d regions failed", e.Application, len(e.Failures), e.Total)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s: %v", f.Region, f.Err)
	}
	if e.Prune != nil {
		fmt.Fprintf(&b, "\n  %v", e.Prune)
	}
	return b.String()
}

// Unwrap joins every region error so errors.Is and errors.As see each one.
func (e *RunError) Unwrap() error {
	errs := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	if e.Prune != nil {
		errs = append(errs, e.Prune)
	}
	return errors.Join(errs...)
}

// Kinds counts failures by error kind, sorted by kind.
func (e *RunError) Kinds() []string {
	counts := map[string]int{}
	for _, f := range e.Failures {
		counts[pipeline.ErrorKind(f.Err)]++
	}
	out := make([]string, 0, len(counts))
	for kind, n := range counts {
		out = append(out, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(out)
	return out
}

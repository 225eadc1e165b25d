// File: internal/publish/replace.go
// Brief: Idempotent replacement of generated pipelines.

// Package publish removes previously generated pipelines and posts newly
// assembled ones to the orchestrator.
package publish

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/example/pipectl/internal/pipeline"
	"github.com/example/pipectl/internal/spinnaker"
)

// API is the orchestrator surface used by this package.
type API interface {
	ListPipelines(ctx context.Context, app string) ([]spinnaker.PipelineConfig, error)
	DeletePipeline(ctx context.Context, app, name string) error
	CreatePipeline(ctx context.Context, body []byte) error
}

// ReplaceResult describes one cleanup pass.
type ReplaceResult struct {
	Stale   []string
	Deleted []string
	Failed  map[string]error
}

// Replacer deletes generated pipelines so that at most one exists per
// application, region and variant.
type Replacer struct {
	api API
	log logr.Logger
}

func NewReplacer(api API, log logr.Logger) *Replacer {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Replacer{api: api, log: log}
}

// Replace deletes every generated pipeline of app for the region and variant
// encoded in next's name. A pipeline that is already gone counts as deleted.
// Other delete failures are logged and skipped; if the pipeline carrying
// next's exact name survives, creation would collide and Replace returns
// *pipeline.StalePipelineConflictError.
//
// Replace is not transactional with creation: if ctx is canceled after a
// delete, the region is left without a generated pipeline until the next run.
func (r *Replacer) Replace(ctx context.Context, app string, next *pipeline.AssembledPipeline) (ReplaceResult, error) {
	managed, ok := pipeline.ParseManagedName(app, next.Name)
	if !ok {
		return ReplaceResult{}, fmt.Errorf("pipeline name %q does not follow the generated naming convention for %s", next.Name, app)
	}
	existing, err := r.api.ListPipelines(ctx, app)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("list pipelines for %s: %w", app, err)
	}
	var stale []string
	for _, p := range existing {
		n, ok := pipeline.ParseManagedName(app, p.Name)
		if !ok {
			r.log.V(1).Info("pipeline is not managed", "pipeline", p.Name)
			continue
		}
		if n.Matches(managed.Region, managed.Variant) {
			stale = append(stale, p.Name)
		}
	}
	sort.Strings(stale)

	res := r.deleteAll(ctx, app, stale)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if cause, survived := res.Failed[next.Name]; survived {
		return res, &pipeline.StalePipelineConflictError{
			Application: app,
			Region:      managed.Region,
			Name:        next.Name,
			Stale:       res.Stale,
			Err:         cause,
		}
	}
	return res, nil
}

// Prune deletes generated pipelines of the variant whose region is not in
// keep, e.g. after a region was dropped from every environment.
func (r *Replacer) Prune(ctx context.Context, app string, keep []string, v pipeline.Variant) (ReplaceResult, error) {
	existing, err := r.api.ListPipelines(ctx, app)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("list pipelines for %s: %w", app, err)
	}
	kept := map[string]bool{}
	for _, region := range keep {
		kept[region] = true
	}
	var orphans []string
	for _, p := range existing {
		n, ok := pipeline.ParseManagedName(app, p.Name)
		if !ok || n.Variant != v || kept[n.Region] {
			continue
		}
		orphans = append(orphans, p.Name)
	}
	sort.Strings(orphans)
	res := r.deleteAll(ctx, app, orphans)
	return res, ctx.Err()
}

func (r *Replacer) deleteAll(ctx context.Context, app string, names []string) ReplaceResult {
	res := ReplaceResult{Stale: names, Failed: map[string]error{}}
	for _, name := range names {
		if ctx.Err() != nil {
			res.Failed[name] = ctx.Err()
			continue
		}
		err := r.api.DeletePipeline(ctx, app, name)
		if spinnaker.IsNotFound(err) {
			r.log.Info("stale pipeline already removed", "app", app, "pipeline", name)
			res.Deleted = append(res.Deleted, name)
			continue
		}
		if err != nil {
			r.log.Error(err, "failed to delete stale pipeline, continuing", "app", app, "pipeline", name)
			res.Failed[name] = err
			continue
		}
		r.log.Info("deleted stale pipeline", "app", app, "pipeline", name)
		res.Deleted = append(res.Deleted, name)
	}
	return res
}

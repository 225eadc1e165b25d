// File: internal/pipeline/types.go
// Brief: Stage, fragment and pipeline types.

package pipeline

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// StageID identifies a stage inside one numbering scope (a fragment before
// assembly, a pipeline after it). It is never used as a slice index.
type StageID int

func (id StageID) String() string { return strconv.Itoa(int(id)) }

// Stage is one unit of work. Payload is opaque to the assembler.
type Stage struct {
	ID        StageID
	DependsOn []StageID
	Payload   map[string]any
}

// Name returns the payload's display name, if any.
func (s Stage) Name() string {
	if s.Payload == nil {
		return ""
	}
	if v, ok := s.Payload["name"].(string); ok {
		return v
	}
	return ""
}

// Type returns the payload's stage type, if any.
func (s Stage) Type() string {
	if s.Payload == nil {
		return ""
	}
	if v, ok := s.Payload["type"].(string); ok {
		return v
	}
	return ""
}

// MarshalJSON emits the orchestrator's wire form: the payload fields plus
// refId and requisiteStageRefIds derived from ID and DependsOn.
func (s Stage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Payload)+2)
	for k, v := range s.Payload {
		out[k] = v
	}
	refs := make([]string, 0, len(s.DependsOn))
	for _, d := range s.DependsOn {
		refs = append(refs, d.String())
	}
	out["refId"] = s.ID.String()
	out["requisiteStageRefIds"] = refs
	return json.Marshal(out)
}

// FragmentKind distinguishes the wrapper from environment fragments.
type FragmentKind string

const (
	KindWrapper     FragmentKind = "wrapper"
	KindEnvironment FragmentKind = "environment"
)

// Fragment is the rendered output for one logical unit: the wrapper, or one
// environment in one region. Stage IDs are local and dense from 1.
type Fragment struct {
	Kind FragmentKind
	Name string

	// EntryAfter, when set, replaces the implicit chaining edge. It lists
	// stage IDs of the immediately preceding fragment, in that fragment's
	// local numbering, that this fragment's entry stages must wait for.
	EntryAfter []StageID

	// Properties are pipeline-level fields (triggers, notifications, ...).
	// Only the wrapper's properties reach the assembled pipeline.
	Properties map[string]any

	Stages []Stage
}

// Len returns the number of stages in the fragment.
func (f Fragment) Len() int { return len(f.Stages) }

// Label is used in error messages and logs.
func (f Fragment) Label() string {
	switch {
	case f.Name != "" && f.Kind != "":
		return string(f.Kind) + " " + f.Name
	case f.Name != "":
		return f.Name
	case f.Kind != "":
		return string(f.Kind)
	default:
		return "fragment"
	}
}

// Span records which global IDs a fragment occupies in an assembled pipeline.
type Span struct {
	Fragment string       `json:"fragment"`
	Kind     FragmentKind `json:"kind"`
	First    StageID      `json:"first"`
	Last     StageID      `json:"last"`
}

// AssembledPipeline is the region-scoped result of assembly. Stage IDs run
// from 1 to len(Stages) and every dependency points at an earlier stage.
type AssembledPipeline struct {
	Name        string
	Application string
	Region      string
	Properties  map[string]any
	Stages      []Stage
	Spans       []Span
}

// MarshalJSON produces the body accepted by POST /pipelines.
func (p *AssembledPipeline) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Properties)+3)
	for k, v := range p.Properties {
		out[k] = v
	}
	stages := p.Stages
	if stages == nil {
		stages = []Stage{}
	}
	out["name"] = p.Name
	out["application"] = p.Application
	out["stages"] = stages
	return json.Marshal(out)
}

// Dependencies returns the dependency set of every stage keyed by ID.
func (p *AssembledPipeline) Dependencies() map[StageID][]StageID {
	out := make(map[StageID][]StageID, len(p.Stages))
	for _, s := range p.Stages {
		out[s.ID] = append([]StageID(nil), s.DependsOn...)
	}
	return out
}

// Environment is one deployment target declared by the application.
type Environment struct {
	Name    string
	Regions []string
}

// SubnetIndex maps environment -> region -> subnet identifiers.
type SubnetIndex map[string]map[string][]string

// Lookup reports the subnets of env in region. A region present with an
// empty list still counts as available.
func (idx SubnetIndex) Lookup(env, region string) ([]string, bool) {
	byRegion, ok := idx[env]
	if !ok {
		return nil, false
	}
	subnets, ok := byRegion[region]
	if !ok {
		return nil, false
	}
	return append([]string(nil), subnets...), true
}

// Target is an environment that can be rendered in a region.
type Target struct {
	Environment Environment
	Previous    string
	Subnets     []string
}

// RegionPlan is the per-region work item handed to the renderer.
type RegionPlan struct {
	Region       string
	Environments []Environment
	Targets      []Target
	Skipped      []string
}

// NewRegionPlan filters envs down to those with subnet context in region.
// Environments without context are recorded in Skipped, in declaration order.
func NewRegionPlan(region string, envs []Environment, subnets SubnetIndex) RegionPlan {
	plan := RegionPlan{
		Region:       region,
		Environments: append([]Environment(nil), envs...),
	}
	previous := ""
	for _, env := range envs {
		nets, ok := subnets.Lookup(env.Name, region)
		if !ok {
			plan.Skipped = append(plan.Skipped, env.Name)
			continue
		}
		plan.Targets = append(plan.Targets, Target{
			Environment: env,
			Previous:    previous,
			Subnets:     nets,
		})
		previous = env.Name
	}
	return plan
}

func sortedUnique(ids []StageID) []StageID {
	if len(ids) == 0 {
		return []StageID{}
	}
	out := append([]StageID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func formatIDs(ids []StageID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return "[" + strings.Join(parts, ",") + "]"
}

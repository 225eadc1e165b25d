// File: internal/pipeline/assemble.go
// Brief: Offset renumbering and cross-fragment chaining.

package pipeline

import "fmt"

// AssembleOptions tunes fragment assembly.
type AssembleOptions struct {
	// StrictLinear rejects fragments with more than one entry or terminal
	// stage instead of fanning the chaining edge in and out.
	StrictLinear bool
}

// Header names the pipeline being assembled.
type Header struct {
	Name        string
	Application string
	Region      string
}

// fragmentShape is a validated fragment's local entry and terminal stages.
type fragmentShape struct {
	entries   map[StageID]bool
	terminals []StageID
}

// Assemble concatenates the wrapper and environment fragments, in order,
// into one pipeline. Each fragment is shifted by the number of stages
// emitted before it, and the entry stages of every fragment after the first
// are chained to the terminal stages of the fragment before it unless the
// fragment sets EntryAfter.
func Assemble(h Header, wrapper Fragment, envs []Fragment, opts AssembleOptions) (*AssembledPipeline, error) {
	fragments := make([]Fragment, 0, len(envs)+1)
	fragments = append(fragments, wrapper)
	fragments = append(fragments, envs...)

	total := 0
	for _, f := range fragments {
		total += f.Len()
	}
	out := &AssembledPipeline{
		Name:        h.Name,
		Application: h.Application,
		Region:      h.Region,
		Properties:  cloneMap(wrapper.Properties),
		Stages:      make([]Stage, 0, total),
	}

	offset := 0
	prevOffset, prevLen := 0, 0
	var prevTerminals []StageID
	for i, f := range fragments {
		shape, err := inspectFragment(f, opts)
		if err != nil {
			return nil, err
		}

		var chain []StageID
		switch {
		case i == 0 && len(f.EntryAfter) > 0:
			return nil, &MalformedFragmentError{Fragment: f.Label(), Reason: "first fragment cannot declare entry dependencies"}
		case i == 0:
		case len(f.EntryAfter) > 0:
			for _, d := range f.EntryAfter {
				if d < 1 || int(d) > prevLen {
					return nil, &MalformedFragmentError{
						Fragment: f.Label(),
						Reason:   fmt.Sprintf("entry dependency %d references a stage outside the preceding fragment (1..%d)", d, prevLen),
					}
				}
				chain = append(chain, d+StageID(prevOffset))
			}
		default:
			chain = prevTerminals
		}
		if f.Len() > 0 && i > 0 && len(chain) == 0 && prevLen > 0 {
			return nil, &MalformedFragmentError{Fragment: f.Label(), Reason: "no chaining target in the preceding fragment"}
		}

		shift := StageID(offset)
		for _, s := range f.Stages {
			deps := make([]StageID, 0, len(s.DependsOn)+len(chain))
			for _, d := range s.DependsOn {
				deps = append(deps, d+shift)
			}
			if shape.entries[s.ID] {
				deps = append(deps, chain...)
			}
			id := s.ID + shift
			for _, d := range deps {
				if d < 1 || d >= id {
					return nil, &MalformedFragmentError{
						Fragment: f.Label(),
						Stage:    s.ID,
						Reason:   fmt.Sprintf("dependency %d is not an earlier stage of pipeline (stage becomes %d)", d, id),
					}
				}
			}
			out.Stages = append(out.Stages, Stage{
				ID:        id,
				DependsOn: sortedUnique(deps),
				Payload:   cloneMap(s.Payload),
			})
		}

		if f.Len() > 0 {
			out.Spans = append(out.Spans, Span{
				Fragment: f.Name,
				Kind:     f.Kind,
				First:    shift + 1,
				Last:     shift + StageID(f.Len()),
			})
			prevTerminals = make([]StageID, 0, len(shape.terminals))
			for _, t := range shape.terminals {
				prevTerminals = append(prevTerminals, t+shift)
			}
		}
		prevOffset, prevLen = offset, f.Len()
		offset += f.Len()
	}

	if len(out.Stages) != total {
		return nil, fmt.Errorf("assembled %d stages from %d fragment stages", len(out.Stages), total)
	}
	return out, nil
}

// inspectFragment checks the dense numbering contract and returns the
// fragment's entry and terminal stages.
func inspectFragment(f Fragment, opts AssembleOptions) (fragmentShape, error) {
	shape := fragmentShape{entries: map[StageID]bool{}}
	seen := make(map[StageID]bool, f.Len())
	dependedOn := make(map[StageID]bool, f.Len())
	for i, s := range f.Stages {
		switch {
		case s.ID < 1:
			return shape, &MalformedFragmentError{Fragment: f.Label(), Stage: s.ID, Reason: "stage identifiers must be positive"}
		case seen[s.ID]:
			return shape, &MalformedFragmentError{Fragment: f.Label(), Stage: s.ID, Reason: "duplicate stage identifier"}
		case s.ID != StageID(i+1):
			return shape, &MalformedFragmentError{Fragment: f.Label(), Stage: s.ID, Reason: fmt.Sprintf("expected identifier %d (identifiers must be dense from 1)", i+1)}
		}
		seen[s.ID] = true
		for _, d := range s.DependsOn {
			if d < 1 || d >= s.ID {
				return shape, &MalformedFragmentError{
					Fragment: f.Label(),
					Stage:    s.ID,
					Reason:   fmt.Sprintf("depends on %s; local dependencies must name earlier stages", formatIDs(s.DependsOn)),
				}
			}
			dependedOn[d] = true
		}
		if len(s.DependsOn) == 0 {
			shape.entries[s.ID] = true
		}
	}
	for _, s := range f.Stages {
		if !dependedOn[s.ID] {
			shape.terminals = append(shape.terminals, s.ID)
		}
	}
	if opts.StrictLinear && (len(shape.entries) > 1 || len(shape.terminals) > 1) {
		return shape, &MalformedFragmentError{
			Fragment: f.Label(),
			Reason:   fmt.Sprintf("%d entry and %d terminal stages; linear chaining needs exactly one of each", len(shape.entries), len(shape.terminals)),
		}
	}
	return shape, nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

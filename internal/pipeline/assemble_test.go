package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func stage(id int, deps ...int) Stage {
	s := Stage{ID: StageID(id), Payload: map[string]any{"name": "s" + StageID(id).String()}}
	for _, d := range deps {
		s.DependsOn = append(s.DependsOn, StageID(d))
	}
	return s
}

func frag(kind FragmentKind, name string, stages ...Stage) Fragment {
	return Fragment{Kind: kind, Name: name, Stages: stages}
}

func depsOf(p *AssembledPipeline) map[StageID][]StageID {
	out := map[StageID][]StageID{}
	for id, deps := range p.Dependencies() {
		if len(deps) > 0 {
			out[id] = deps
		}
	}
	return out
}

func assertAcyclic(t *testing.T, p *AssembledPipeline) {
	t.Helper()
	deps := p.Dependencies()
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[StageID]int{}
	var visit func(StageID) bool
	visit = func(id StageID) bool {
		switch state[id] {
		case visiting:
			return false
		case done:
			return true
		}
		state[id] = visiting
		for _, d := range deps[id] {
			if !visit(d) {
				return false
			}
		}
		state[id] = done
		return true
	}
	for _, s := range p.Stages {
		for _, d := range s.DependsOn {
			if d >= s.ID {
				t.Fatalf("stage %d depends on later or same stage %d", s.ID, d)
			}
		}
		if !visit(s.ID) {
			t.Fatalf("cycle through stage %d", s.ID)
		}
	}
}

func TestAssemble_WrapperDevProdScenario(t *testing.T) {
	wrapper := frag(KindWrapper, "wrapper", stage(1))
	dev := frag(KindEnvironment, "dev", stage(1), stage(2, 1))
	prod := frag(KindEnvironment, "prod", stage(1))

	p, err := Assemble(Header{Name: "app [us-east-1]", Application: "app", Region: "us-east-1"}, wrapper, []Fragment{dev, prod}, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	var ids []StageID
	for _, s := range p.Stages {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]StageID{1, 2, 3, 4}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	want := map[StageID][]StageID{2: {1}, 3: {2}, 4: {3}}
	if diff := cmp.Diff(want, depsOf(p)); diff != "" {
		t.Fatalf("deps mismatch (-want +got):\n%s", diff)
	}
	wantSpans := []Span{
		{Fragment: "wrapper", Kind: KindWrapper, First: 1, Last: 1},
		{Fragment: "dev", Kind: KindEnvironment, First: 2, Last: 3},
		{Fragment: "prod", Kind: KindEnvironment, First: 4, Last: 4},
	}
	if diff := cmp.Diff(wantSpans, p.Spans); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
	assertAcyclic(t, p)
}

func TestAssemble_PreservesBranchingEdgesAndFansInOut(t *testing.T) {
	// F1: diamond 1 -> {2,3} -> 4. F2: two parallel entries joined by 3.
	f1 := frag(KindWrapper, "wrapper", stage(1), stage(2, 1), stage(3, 1), stage(4, 2, 3))
	f2 := frag(KindEnvironment, "dev", stage(1), stage(2), stage(3, 1, 2))

	p, err := Assemble(Header{}, f1, []Fragment{f2}, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	n1 := StageID(f1.Len())
	got := p.Dependencies()
	for _, s := range f1.Stages {
		for _, d := range s.DependsOn {
			if !containsID(got[s.ID], d) {
				t.Fatalf("edge %d->%d of first fragment missing: %v", s.ID, d, got[s.ID])
			}
		}
	}
	for _, s := range f2.Stages {
		for _, d := range s.DependsOn {
			if !containsID(got[s.ID+n1], d+n1) {
				t.Fatalf("edge %d->%d of second fragment missing after offset: %v", s.ID+n1, d+n1, got[s.ID+n1])
			}
		}
	}
	want := map[StageID][]StageID{
		2: {1}, 3: {1}, 4: {2, 3},
		5: {4}, 6: {4}, 7: {5, 6},
	}
	if diff := cmp.Diff(want, depsOf(p)); diff != "" {
		t.Fatalf("deps mismatch (-want +got):\n%s", diff)
	}
	assertAcyclic(t, p)
}

func TestAssemble_MultipleTerminalsFanIn(t *testing.T) {
	f1 := frag(KindWrapper, "wrapper", stage(1), stage(2, 1), stage(3, 1))
	f2 := frag(KindEnvironment, "dev", stage(1))
	p, err := Assemble(Header{}, f1, []Fragment{f2}, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if diff := cmp.Diff([]StageID{2, 3}, p.Stages[3].DependsOn); diff != "" {
		t.Fatalf("fan-in mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_ExplicitEntryDependencyReplacesChaining(t *testing.T) {
	f1 := frag(KindWrapper, "wrapper", stage(1), stage(2, 1))
	f2 := frag(KindEnvironment, "dev", stage(1), stage(2, 1))
	f2.EntryAfter = []StageID{1}

	p, err := Assemble(Header{}, f1, []Fragment{f2}, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := map[StageID][]StageID{2: {1}, 3: {1}, 4: {3}}
	if diff := cmp.Diff(want, depsOf(p)); diff != "" {
		t.Fatalf("deps mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_StageCountConservation(t *testing.T) {
	wrapper := frag(KindWrapper, "wrapper", stage(1), stage(2, 1))
	var envs []Fragment
	want := wrapper.Len()
	for n := 0; n < 7; n++ {
		var stages []Stage
		for i := 1; i <= n+1; i++ {
			if i == 1 || i%3 == 0 {
				stages = append(stages, stage(i))
				continue
			}
			stages = append(stages, stage(i, i-1))
		}
		envs = append(envs, frag(KindEnvironment, "env"+StageID(n).String(), stages...))
		want += len(stages)
	}
	envs = append(envs, frag(KindEnvironment, "empty"))

	p, err := Assemble(Header{}, wrapper, envs, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(p.Stages) != want {
		t.Fatalf("expected %d stages, got %d", want, len(p.Stages))
	}
	for i, s := range p.Stages {
		if s.ID != StageID(i+1) {
			t.Fatalf("stage %d has id %d", i, s.ID)
		}
	}
	assertAcyclic(t, p)
}

func TestAssemble_ChainsAcrossEmptyFragment(t *testing.T) {
	wrapper := frag(KindWrapper, "wrapper", stage(1))
	empty := frag(KindEnvironment, "dev")
	prod := frag(KindEnvironment, "prod", stage(1))
	p, err := Assemble(Header{}, wrapper, []Fragment{empty, prod}, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if diff := cmp.Diff(map[StageID][]StageID{2: {1}}, depsOf(p)); diff != "" {
		t.Fatalf("deps mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_DoesNotSharePayloads(t *testing.T) {
	nested := map[string]any{"cluster": map[string]any{"size": 1}}
	wrapper := Fragment{Kind: KindWrapper, Name: "wrapper", Stages: []Stage{{ID: 1, Payload: nested}}}
	p, err := Assemble(Header{}, wrapper, nil, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	p.Stages[0].Payload["cluster"].(map[string]any)["size"] = 5
	if nested["cluster"].(map[string]any)["size"] != 1 {
		t.Fatalf("assembled pipeline shares payload with its fragment")
	}
}

func TestAssemble_RejectsMalformedFragments(t *testing.T) {
	wrapper := frag(KindWrapper, "wrapper", stage(1))
	withEntry := frag(KindWrapper, "wrapper", stage(1))
	withEntry.EntryAfter = []StageID{1}
	outOfRange := frag(KindEnvironment, "dev", stage(1))
	outOfRange.EntryAfter = []StageID{2}

	cases := []struct {
		name    string
		wrapper Fragment
		envs    []Fragment
		opts    AssembleOptions
	}{
		{name: "gap", wrapper: wrapper, envs: []Fragment{frag(KindEnvironment, "dev", stage(1), stage(3, 1))}},
		{name: "duplicate", wrapper: wrapper, envs: []Fragment{frag(KindEnvironment, "dev", stage(1), stage(1))}},
		{name: "zero", wrapper: frag(KindWrapper, "wrapper", stage(0))},
		{name: "negative", wrapper: frag(KindWrapper, "wrapper", stage(-1))},
		{name: "forward dependency", wrapper: frag(KindWrapper, "wrapper", stage(1, 2), stage(2))},
		{name: "self dependency", wrapper: frag(KindWrapper, "wrapper", stage(1, 1))},
		{name: "entry on first fragment", wrapper: withEntry},
		{name: "entry out of range", wrapper: wrapper, envs: []Fragment{outOfRange}},
		{name: "strict linear", wrapper: wrapper, envs: []Fragment{frag(KindEnvironment, "dev", stage(1), stage(2))}, opts: AssembleOptions{StrictLinear: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble(Header{}, tc.wrapper, tc.envs, tc.opts)
			var malformed *MalformedFragmentError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedFragmentError, got %v", err)
			}
			if ErrorKind(err) != "malformed_fragment" {
				t.Fatalf("unexpected kind %q", ErrorKind(err))
			}
		})
	}
}

func TestAssemble_StrictLinearAcceptsChains(t *testing.T) {
	wrapper := frag(KindWrapper, "wrapper", stage(1), stage(2, 1))
	dev := frag(KindEnvironment, "dev", stage(1), stage(2, 1), stage(3, 2))
	if _, err := Assemble(Header{}, wrapper, []Fragment{dev}, AssembleOptions{StrictLinear: true}); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
}

func containsID(ids []StageID, want StageID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

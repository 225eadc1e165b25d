package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveMatrix_PreservesDeclarationOrder(t *testing.T) {
	envs := []Environment{
		{Name: "dev", Regions: []string{"us-east-1"}},
		{Name: "stage", Regions: []string{"us-east-1", "us-west-2"}},
		{Name: "prod", Regions: []string{"us-west-2"}},
	}
	m := ResolveMatrix(envs)
	got := map[string][]string{}
	for _, region := range m.Regions() {
		got[region] = m.Names(region)
	}
	want := map[string][]string{
		"us-east-1": {"dev", "stage"},
		"us-west-2": {"stage", "prod"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("matrix mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMatrix_IgnoresBlankAndDuplicateRegions(t *testing.T) {
	m := ResolveMatrix([]Environment{{Name: "dev", Regions: []string{"us-east-1", " ", "us-east-1"}}})
	if diff := cmp.Diff([]string{"dev"}, m.Names("us-east-1")); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	if len(m) != 1 {
		t.Fatalf("expected one region, got %v", m.Regions())
	}
}

func TestMatrix_RestrictAndOnly(t *testing.T) {
	m := ResolveMatrix([]Environment{
		{Name: "dev", Regions: []string{"us-east-1"}},
		{Name: "prod", Regions: []string{"us-east-1", "us-west-2"}},
	})
	if diff := cmp.Diff([]string{"us-west-2"}, m.Restrict([]string{"us-west-2"}).Regions()); diff != "" {
		t.Fatalf("restrict mismatch (-want +got):\n%s", diff)
	}
	if got := m.Restrict(nil).Regions(); len(got) != 2 {
		t.Fatalf("empty restriction should keep all regions, got %v", got)
	}
	only := m.Only("dev")
	if diff := cmp.Diff([]string{"us-east-1"}, only.Regions()); diff != "" {
		t.Fatalf("only mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"dev"}, only.Names("us-east-1")); diff != "" {
		t.Fatalf("only names mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRegionPlan_SkipsEnvironmentsWithoutSubnets(t *testing.T) {
	envs := []Environment{
		{Name: "dev", Regions: []string{"us-east-1"}},
		{Name: "stage", Regions: []string{"us-east-1"}},
		{Name: "prod", Regions: []string{"us-east-1"}},
	}
	subnets := SubnetIndex{
		"dev":  {"us-east-1": {"subnet-a"}},
		"prod": {"us-east-1": {"subnet-b"}},
	}
	plan := NewRegionPlan("us-east-1", envs, subnets)
	if diff := cmp.Diff([]string{"stage"}, plan.Skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
	if len(plan.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(plan.Targets))
	}
	if plan.Targets[1].Previous != "dev" {
		t.Fatalf("expected prod to follow dev, got %q", plan.Targets[1].Previous)
	}
	if diff := cmp.Diff([]string{"subnet-b"}, plan.Targets[1].Subnets); diff != "" {
		t.Fatalf("subnets mismatch (-want +got):\n%s", diff)
	}
}

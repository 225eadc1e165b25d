// File: internal/pipeline/matrix.go
// Brief: Environment x region matrix resolution.

package pipeline

import (
	"sort"
	"strings"
)

// Matrix maps a region to the environments deployed there, in the order the
// environments were declared.
type Matrix map[string][]Environment

// ResolveMatrix inverts the declared environment list into a region matrix.
// It performs no availability checks; an environment missing from a region
// is simply absent from that region's list.
func ResolveMatrix(envs []Environment) Matrix {
	m := Matrix{}
	for _, env := range envs {
		seen := map[string]struct{}{}
		for _, region := range env.Regions {
			region = strings.TrimSpace(region)
			if region == "" {
				continue
			}
			if _, dup := seen[region]; dup {
				continue
			}
			seen[region] = struct{}{}
			m[region] = append(m[region], env)
		}
	}
	return m
}

// Regions returns the matrix regions sorted by name.
func (m Matrix) Regions() []string {
	out := make([]string, 0, len(m))
	for region := range m {
		out = append(out, region)
	}
	sort.Strings(out)
	return out
}

// Names returns the environment names for region.
func (m Matrix) Names(region string) []string {
	envs := m[region]
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Name)
	}
	return out
}

// Restrict keeps only the listed regions. An empty list keeps everything.
func (m Matrix) Restrict(regions []string) Matrix {
	if len(regions) == 0 {
		return m
	}
	keep := map[string]struct{}{}
	for _, r := range regions {
		keep[strings.TrimSpace(r)] = struct{}{}
	}
	out := Matrix{}
	for region, envs := range m {
		if _, ok := keep[region]; ok {
			out[region] = envs
		}
	}
	return out
}

// Only keeps the named environment in every region, dropping regions where
// it is not deployed. Used for one-time pipelines.
func (m Matrix) Only(env string) Matrix {
	out := Matrix{}
	for region, envs := range m {
		for _, e := range envs {
			if e.Name == env {
				out[region] = []Environment{e}
				break
			}
		}
	}
	return out
}

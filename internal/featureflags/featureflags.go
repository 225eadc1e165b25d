// Package featureflags resolves opt-in behavior switches for a pipectl run.
package featureflags

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Stage indicates the lifecycle of a feature flag.
type Stage string

const (
	StageExperimental Stage = "experimental"
	StageBeta         Stage = "beta"
	StageGA           Stage = "ga"
)

// Name is the canonical identifier for a feature flag (kebab-case).
type Name string

const (
	// FeatureStrictLinearChaining rejects branching fragments instead of
	// fanning chaining edges in and out.
	FeatureStrictLinearChaining Name = "strict-linear-chaining"
	// FeaturePruneRemovedRegions deletes generated pipelines for regions no
	// environment deploys to anymore.
	FeaturePruneRemovedRegions Name = "prune-removed-regions"
)

// Definition tracks the metadata for a feature flag.
type Definition struct {
	Name        Name
	Description string
	Stage       Stage
	Default     bool
}

const envPrefix = "PIPECTL_FEATURE_"

var registry = map[Name]Definition{
	FeatureStrictLinearChaining: {
		Name:        FeatureStrictLinearChaining,
		Description: "Require every fragment to have exactly one entry and one terminal stage.",
		Stage:       StageExperimental,
	},
	FeaturePruneRemovedRegions: {
		Name:        FeaturePruneRemovedRegions,
		Description: "Delete generated pipelines of regions dropped from every environment.",
		Stage:       StageBeta,
		Default:     true,
	},
}

// ErrUnknownFeature is returned when a caller references a flag that has not been registered.
var ErrUnknownFeature = errors.New("unknown feature flag")

// DefinitionByName returns the definition for the provided feature.
func DefinitionByName(name Name) (Definition, bool) {
	def, ok := registry[name]
	return def, ok
}

// Definitions returns the full set of registered flags in alphabetical order.
func Definitions() []Definition {
	defs := make([]Definition, 0, len(registry))
	for _, def := range registry {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// EnvVar returns the variable that toggles the flag, e.g.
// PIPECTL_FEATURE_STRICT_LINEAR_CHAINING.
func (d Definition) EnvVar() string {
	upper := strings.ToUpper(string(d.Name))
	return envPrefix + strings.ReplaceAll(upper, "-", "_")
}

// Flags is the resolved state of every registered flag.
type Flags struct {
	values map[Name]bool
}

// Enabled reports whether the feature is on.
func (f Flags) Enabled(name Name) bool {
	if f.values == nil {
		if def, ok := registry[name]; ok {
			return def.Default
		}
		return false
	}
	return f.values[name]
}

// EnabledNames returns the enabled flag names in alphabetical order.
func (f Flags) EnabledNames() []Name {
	names := make([]Name, 0, len(f.values))
	for name, on := range f.values {
		if on {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Resolve applies sources on top of the defaults, later sources winning.
// A token is either "name" (enable) or "name=false" (disable).
func Resolve(sources ...[]string) (Flags, error) {
	values := make(map[Name]bool, len(registry))
	for _, def := range registry {
		values[def.Name] = def.Default
	}
	for _, source := range sources {
		for _, token := range splitTokens(source) {
			raw, state := token, "true"
			if i := strings.Index(token, "="); i >= 0 {
				raw, state = token[:i], token[i+1:]
			}
			name := normalizeName(raw)
			if _, ok := registry[name]; !ok {
				return Flags{}, fmt.Errorf("%w: %s", ErrUnknownFeature, raw)
			}
			values[name] = isTruthy(state)
		}
	}
	return Flags{values: values}, nil
}

// FromEnv turns PIPECTL_FEATURE_* variables of environ (os.Environ when
// nil) into Resolve tokens.
func FromEnv(environ []string) []string {
	if environ == nil {
		environ = os.Environ()
	}
	var tokens []string
	for _, entry := range environ {
		key, val, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "_", "-"))
		tokens = append(tokens, fmt.Sprintf("%s=%t", name, isTruthy(val)))
	}
	sort.Strings(tokens)
	return tokens
}

// ContextWithFlags stores the resolved flags on the provided context.
func ContextWithFlags(ctx context.Context, flags Flags) context.Context {
	return context.WithValue(ctx, ctxKey{}, flags)
}

// FromContext extracts the flag set from ctx. Without stored flags every
// feature reports its default.
func FromContext(ctx context.Context) Flags {
	if ctx == nil {
		return Flags{}
	}
	flags, _ := ctx.Value(ctxKey{}).(Flags)
	return flags
}

type ctxKey struct{}

func splitTokens(values []string) []string {
	var tokens []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

func normalizeName(raw string) Name {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return Name(strings.ReplaceAll(raw, "_", "-"))
}

func isTruthy(val string) bool {
	switch strings.TrimSpace(strings.ToLower(val)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}

// File: internal/pipeline/naming.go
// Brief: Naming convention for generated pipelines.

package pipeline

import (
	"fmt"
	"strings"
)

const onetimePrefix = "onetime-"

// Variant selects between the regular pipeline and a one-time pipeline for
// a single environment.
type Variant struct {
	Onetime string
}

func (v Variant) String() string {
	if v.Onetime == "" {
		return "regular"
	}
	return onetimePrefix + v.Onetime
}

// PipelineName returns the name of the generated pipeline for app in region.
//
//	"app [us-east-1]"
//	"app [us-east-1] onetime-stage"
func PipelineName(app, region string, v Variant) string {
	name := fmt.Sprintf("%s [%s]", app, region)
	if v.Onetime != "" {
		name += " " + onetimePrefix + v.Onetime
	}
	return name
}

// ManagedName is a parsed generated pipeline name.
type ManagedName struct {
	Application string
	Region      string
	Variant     Variant
}

// ParseManagedName reports whether name was generated for app and, if so,
// which region and variant it belongs to.
func ParseManagedName(app, name string) (ManagedName, bool) {
	prefix := app + " ["
	if app == "" || !strings.HasPrefix(name, prefix) {
		return ManagedName{}, false
	}
	rest := name[len(prefix):]
	end := strings.Index(rest, "]")
	if end <= 0 {
		return ManagedName{}, false
	}
	region := rest[:end]
	if strings.ContainsAny(region, " []") {
		return ManagedName{}, false
	}
	out := ManagedName{Application: app, Region: region}
	tail := rest[end+1:]
	switch {
	case tail == "":
	case strings.HasPrefix(tail, " "+onetimePrefix) && len(tail) > len(onetimePrefix)+1:
		env := tail[len(onetimePrefix)+1:]
		if strings.ContainsAny(env, " []") {
			return ManagedName{}, false
		}
		out.Variant = Variant{Onetime: env}
	default:
		return ManagedName{}, false
	}
	return out, true
}

// Matches reports whether n names a pipeline generated for region and v.
func (n ManagedName) Matches(region string, v Variant) bool {
	return n.Region == region && n.Variant == v
}

// File: internal/pipediff/diff.go
// Brief: Unified diff between a stored pipeline and a freshly assembled one.

// Package pipediff compares the pipeline the orchestrator holds with the one
// pipectl would create, for `pipectl plan --diff`.
package pipediff

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"sigs.k8s.io/yaml"
)

// Change classifies a pipeline diff.
type Change string

const (
	ChangeAdded     Change = "added"
	ChangeChanged   Change = "changed"
	ChangeUnchanged Change = "unchanged"
)

// serverFields are set by the orchestrator on stored configs and never
// produced by assembly.
var serverFields = []string{"id", "index", "updateTs", "lastModifiedBy", "createTs"}

// Result is the comparison of one pipeline.
type Result struct {
	Name   string `json:"name"`
	Change Change `json:"change"`
	Diff   string `json:"diff,omitempty"`
}

// Compare diffs live (nil when the pipeline does not exist yet) against
// next. Both sides are normalized to YAML with sorted keys first.
func Compare(name string, live, next []byte) (Result, error) {
	after, err := normalize(next)
	if err != nil {
		return Result{}, fmt.Errorf("normalize assembled %s: %w", name, err)
	}
	res := Result{Name: name, Change: ChangeAdded}
	before := ""
	if live != nil {
		if before, err = normalize(live); err != nil {
			return Result{}, fmt.Errorf("normalize stored %s: %w", name, err)
		}
		res.Change = ChangeChanged
		if before == after {
			res.Change = ChangeUnchanged
			return res, nil
		}
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "stored/" + name,
		ToFile:   "assembled/" + name,
		Context:  3,
	})
	if err != nil {
		return Result{}, err
	}
	res.Diff = text
	return res, nil
}

func normalize(raw []byte) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	for _, key := range serverFields {
		delete(doc, key)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Print writes r to w, coloring added and removed lines.
func Print(w io.Writer, r Result) {
	header := color.New(color.Bold).Sprintf("%s: %s", r.Name, r.Change)
	fmt.Fprintln(w, header)
	if r.Diff == "" {
		return
	}
	for _, line := range strings.SplitAfter(r.Diff, "\n") {
		if line == "" {
			continue
		}
		fmt.Fprint(w, colorize(line))
	}
}

func colorize(line string) string {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		return color.New(color.Bold).Sprint(line)
	case strings.HasPrefix(line, "@@"):
		return color.New(color.FgCyan).Sprint(line)
	case strings.HasPrefix(line, "+"):
		return color.New(color.FgGreen).Sprint(line)
	case strings.HasPrefix(line, "-"):
		return color.New(color.FgRed).Sprint(line)
	default:
		return line
	}
}

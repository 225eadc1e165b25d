// Package render turns a wrapper or environment context into a stage
// fragment by executing a text template and decoding the YAML it produces.
package render

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"sigs.k8s.io/yaml"

	"github.com/example/pipectl/internal/pipeline"
	"github.com/example/pipectl/internal/settings"
)

//go:embed templates/*.tmpl
var builtin embed.FS

const (
	WrapperTemplate     = "wrapper.yaml.tmpl"
	EnvironmentTemplate = "environment.yaml.tmpl"
)

// reservedKeys are graph fields; they never reach the stage payload.
var reservedKeys = []string{"id", "dependsOn", "refId", "requisiteStageRefIds"}

// Context is everything a template may reference. The wrapper uses the
// image and notification fields; environment templates use Settings,
// Subnets and Previous.
type Context struct {
	Application    string
	Region         string
	Environment    string
	Previous       string
	TriggerJob     string
	Base           string
	ImageID        string
	ImageTemplate  string
	RootVolumeSize int
	Email          string
	Slack          string
	Subnets        []string
	Onetime        bool
	Pipeline       settings.Pipeline
	Settings       settings.EnvironmentSettings
}

// Renderer produces fragments. Implementations must be deterministic and
// number stages densely from 1.
type Renderer interface {
	Render(ctx context.Context, kind pipeline.FragmentKind, rc Context) (pipeline.Fragment, error)
}

// TemplateRenderer renders the built-in templates, optionally overridden by
// files of the same name in a directory.
type TemplateRenderer struct {
	tmpl *template.Template
}

// New parses the built-in templates, then any overrides found in dir.
func New(dir string) (*TemplateRenderer, error) {
	root := template.New("pipectl").Funcs(sprig.TxtFuncMap()).Option("missingkey=error")
	for _, name := range []string{WrapperTemplate, EnvironmentTemplate} {
		raw, err := fs.ReadFile(builtin, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("read built-in template %s: %w", name, err)
		}
		if _, err := root.New(name).Parse(string(raw)); err != nil {
			return nil, fmt.Errorf("parse built-in template %s: %w", name, err)
		}
	}
	dir = strings.TrimSpace(dir)
	if dir != "" {
		for _, name := range []string{WrapperTemplate, EnvironmentTemplate} {
			raw, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("read template override: %w", err)
			}
			if _, err := root.New(name).Parse(string(raw)); err != nil {
				return nil, fmt.Errorf("parse template %s: %w", filepath.Join(dir, name), err)
			}
		}
	}
	return &TemplateRenderer{tmpl: root}, nil
}

// Render executes the template for kind and decodes the fragment.
func (r *TemplateRenderer) Render(ctx context.Context, kind pipeline.FragmentKind, rc Context) (pipeline.Fragment, error) {
	label := string(kind)
	if kind == pipeline.KindEnvironment {
		label = rc.Environment
	}
	fail := func(err error) (pipeline.Fragment, error) {
		return pipeline.Fragment{}, &pipeline.RenderError{Fragment: label, Region: rc.Region, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	var name string
	switch kind {
	case pipeline.KindWrapper:
		name = WrapperTemplate
	case pipeline.KindEnvironment:
		name = EnvironmentTemplate
		if strings.TrimSpace(rc.Environment) == "" {
			return fail(fmt.Errorf("environment name is required"))
		}
	default:
		return fail(fmt.Errorf("unknown fragment kind %q", kind))
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, rc); err != nil {
		return fail(err)
	}
	frag, err := Decode(buf.Bytes())
	if err != nil {
		return fail(err)
	}
	frag.Kind = kind
	frag.Name = label
	return frag, nil
}

type document struct {
	EntryAfter []json.Number    `json:"entryAfter"`
	Pipeline   map[string]any   `json:"pipeline"`
	Stages     []map[string]any `json:"stages"`
}

// Decode parses a rendered fragment document. Stages without an id get
// their 1-based position; ids that are present are kept as written so the
// assembler can reject bad numbering.
func Decode(raw []byte) (pipeline.Fragment, error) {
	js, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return pipeline.Fragment{}, fmt.Errorf("rendered fragment is not valid YAML: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return pipeline.Fragment{}, fmt.Errorf("decode fragment: %w", err)
	}
	frag := pipeline.Fragment{Properties: doc.Pipeline}
	for _, n := range doc.EntryAfter {
		id, err := stageID(n)
		if err != nil {
			return pipeline.Fragment{}, fmt.Errorf("entryAfter: %w", err)
		}
		frag.EntryAfter = append(frag.EntryAfter, id)
	}
	for i, raw := range doc.Stages {
		if raw == nil {
			return pipeline.Fragment{}, fmt.Errorf("stage %d is empty", i+1)
		}
		s := pipeline.Stage{ID: pipeline.StageID(i + 1), DependsOn: []pipeline.StageID{}}
		if v, ok := raw["id"]; ok {
			id, err := stageID(v)
			if err != nil {
				return pipeline.Fragment{}, fmt.Errorf("stage %d id: %w", i+1, err)
			}
			s.ID = id
		}
		if v, ok := raw["dependsOn"]; ok && v != nil {
			list, ok := v.([]any)
			if !ok {
				return pipeline.Fragment{}, fmt.Errorf("stage %d dependsOn must be a list", i+1)
			}
			for _, d := range list {
				id, err := stageID(d)
				if err != nil {
					return pipeline.Fragment{}, fmt.Errorf("stage %d dependsOn: %w", i+1, err)
				}
				s.DependsOn = append(s.DependsOn, id)
			}
		}
		for _, k := range reservedKeys {
			delete(raw, k)
		}
		s.Payload = raw
		frag.Stages = append(frag.Stages, s)
	}
	return frag, nil
}

func stageID(v any) (pipeline.StageID, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", t.String())
		}
		return pipeline.StageID(n), nil
	case string:
		return stageID(json.Number(strings.TrimSpace(t)))
	default:
		return 0, fmt.Errorf("unsupported stage reference %v (%T)", v, v)
	}
}

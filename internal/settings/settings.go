// Package settings loads the per-application deployment settings: the
// pipeline block plus one block per environment. Settings are decoded into
// typed structs and validated once, at load time.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/example/pipectl/internal/pipeline"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxRootVolumeSize is the largest root volume, in GiB, a baked image may request.
const MaxRootVolumeSize = 50

type Image struct {
	RootVolumeSize int    `yaml:"root_volume_size" json:"root_volume_size" validate:"gte=0"`
	Builder        string `yaml:"builder,omitempty" json:"builder,omitempty" validate:"omitempty,oneof=ebs docker"`
}

type Notifications struct {
	Email string `yaml:"email,omitempty" json:"email,omitempty" validate:"omitempty,email"`
	Slack string `yaml:"slack,omitempty" json:"slack,omitempty"`
}

type Pipeline struct {
	Type          string        `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=ec2 lambda manual"`
	Base          string        `yaml:"base" json:"base" validate:"required"`
	Env           []string      `yaml:"env" json:"env" validate:"required,min=1,unique,dive,required"`
	Image         Image         `yaml:"image,omitempty" json:"image,omitempty"`
	Notifications Notifications `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	OwnerEmail    string        `yaml:"owner_email,omitempty" json:"owner_email,omitempty" validate:"omitempty,email"`
}

type AppSettings struct {
	InstanceType    string `yaml:"instance_type,omitempty" json:"instance_type,omitempty"`
	InstanceProfile string `yaml:"instance_profile,omitempty" json:"instance_profile,omitempty"`
	Description     string `yaml:"app_description,omitempty" json:"app_description,omitempty"`
	EurekaEnabled   bool   `yaml:"eureka_enabled,omitempty" json:"eureka_enabled,omitempty"`
}

type ASGSettings struct {
	MinInstances      int    `yaml:"min_inst" json:"min_inst" validate:"gte=0"`
	MaxInstances      int    `yaml:"max_inst" json:"max_inst" validate:"gtefield=MinInstances"`
	SubnetPurpose     string `yaml:"subnet_purpose,omitempty" json:"subnet_purpose,omitempty" validate:"omitempty,oneof=internal external"`
	HealthCheckType   string `yaml:"hc_type,omitempty" json:"hc_type,omitempty" validate:"omitempty,oneof=EC2 ELB"`
	HealthCheckGrace  int    `yaml:"hc_grace_period,omitempty" json:"hc_grace_period,omitempty" validate:"gte=0"`
	ScalingPolicyName string `yaml:"scaling_policy,omitempty" json:"scaling_policy,omitempty"`
}

// EnvironmentSettings is the block declared for one environment.
type EnvironmentSettings struct {
	Regions        []string    `yaml:"regions" json:"regions" validate:"required,min=1,unique,dive,required"`
	DeployStrategy string      `yaml:"deploy_strategy,omitempty" json:"deploy_strategy,omitempty" validate:"omitempty,oneof=highlander redblack"`
	App            AppSettings `yaml:"app,omitempty" json:"app,omitempty"`
	ASG            ASGSettings `yaml:"asg,omitempty" json:"asg,omitempty"`
}

// Settings is one application's complete configuration.
type Settings struct {
	Pipeline     Pipeline                       `yaml:"pipeline" json:"pipeline"`
	Environments map[string]EnvironmentSettings `yaml:",inline" json:"-" validate:"dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Load reads settings from a YAML or JSON file and validates them.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// LoadForApp finds <app>.yaml, <app>.yml or <app>.json in dir.
func LoadForApp(dir, app string) (*Settings, string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, app+ext)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", err
		}
		s, err := Load(path)
		return s, path, err
	}
	return nil, "", fmt.Errorf("no settings for %s in %s: %w", app, dir, os.ErrNotExist)
}

// Parse decodes and validates raw settings. JSON input is accepted because
// it is valid YAML.
func Parse(raw []byte) (*Settings, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.New("settings are empty")
	}
	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints and cross references.
func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("settings are required")
	}
	if size := s.Pipeline.Image.RootVolumeSize; size > MaxRootVolumeSize {
		return fmt.Errorf("setting \"root_volume_size\" over %dG is not allowed, found %dG", MaxRootVolumeSize, size)
	}
	if err := validate.Struct(s); err != nil {
		return describeValidation(err)
	}
	var missing []string
	for _, env := range s.Pipeline.Env {
		if _, ok := s.Environments[env]; !ok {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline.env lists environments without settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Targets returns the deployment targets in pipeline.env order.
func (s *Settings) Targets() []pipeline.Environment {
	out := make([]pipeline.Environment, 0, len(s.Pipeline.Env))
	for _, name := range s.Pipeline.Env {
		env := s.Environments[name]
		out = append(out, pipeline.Environment{
			Name:    name,
			Regions: append([]string(nil), env.Regions...),
		})
	}
	return out
}

// Environment returns the settings block for name.
func (s *Settings) Environment(name string) (EnvironmentSettings, bool) {
	env, ok := s.Environments[name]
	return env, ok
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Settings.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s needs at least %s entries", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value()))
		case "unique":
			msgs = append(msgs, fmt.Sprintf("%s contains duplicates", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", field, fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

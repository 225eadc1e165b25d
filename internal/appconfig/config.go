// Package appconfig layers pipectl's tool configuration: a global file in
// the user's home directory overlaid by a repository-local file.
package appconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

const (
	FailurePolicyBestEffort = "best-effort"
	FailurePolicyFailFast   = "fail-fast"

	LookupSourceAWS    = "aws"
	LookupSourceStatic = "static"
)

type APIConfig struct {
	URL       string        `yaml:"url,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	RateLimit float64       `yaml:"rateLimit,omitempty"`
	Burst     int           `yaml:"burst,omitempty"`
}

type RunConfig struct {
	Concurrency   int    `yaml:"concurrency,omitempty"`
	FailurePolicy string `yaml:"failurePolicy,omitempty"`
	TemplatesDir  string `yaml:"templatesDir,omitempty"`
	MetricsFile   string `yaml:"metricsFile,omitempty"`
	SettingsDir   string `yaml:"settingsDir,omitempty"`
}

type LookupConfig struct {
	Source         string                         `yaml:"source,omitempty"`
	EnvironmentTag string                         `yaml:"environmentTag,omitempty"`
	ImageOwners    []string                       `yaml:"imageOwners,omitempty"`
	Images         map[string]map[string]string   `yaml:"images,omitempty"`
	Subnets        map[string]map[string][]string `yaml:"subnets,omitempty"`
	ImageTemplates map[string]string              `yaml:"imageTemplates,omitempty"`
}

type Config struct {
	API    APIConfig    `yaml:"api,omitempty"`
	Run    RunConfig    `yaml:"run,omitempty"`
	Lookup LookupConfig `yaml:"lookup,omitempty"`
}

// Defaults returns the configuration used when no file sets a value.
func Defaults() Config {
	return Config{
		API: APIConfig{
			URL:       "http://localhost:8084",
			Timeout:   30 * time.Second,
			RateLimit: 5,
			Burst:     5,
		},
		Run: RunConfig{
			Concurrency:   4,
			FailurePolicy: FailurePolicyBestEffort,
		},
		Lookup: LookupConfig{
			Source:         LookupSourceAWS,
			EnvironmentTag: "environment",
			ImageTemplates: map[string]string{
				"us-east-1": "aws-ebs.json",
				"us-west-2": "aws-ebs-west-2.json",
			},
		},
	}
}

func DefaultGlobalPath() string {
	home, err := homedir.Dir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, ".pipectl", "config.yaml")
}

func DefaultRepoPath(repoRoot string) string {
	repoRoot = strings.TrimSpace(repoRoot)
	if repoRoot == "" {
		return ""
	}
	return filepath.Join(repoRoot, ".pipectl.yaml")
}

// Load merges the defaults, the global file and the repo file, in that
// order. Missing files are ignored.
func Load(ctx context.Context, globalPath, repoPath string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	cfg := Defaults()
	if strings.TrimSpace(globalPath) != "" {
		c, err := loadOne(globalPath)
		if err != nil {
			return Config{}, fmt.Errorf("load global config: %w", err)
		}
		cfg = merge(cfg, c)
	}
	if strings.TrimSpace(repoPath) != "" {
		c, err := loadOne(repoPath)
		if err != nil {
			return Config{}, fmt.Errorf("load repo config: %w", err)
		}
		cfg = merge(cfg, c)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the runner cannot work with.
func (c Config) Validate() error {
	switch c.Run.FailurePolicy {
	case FailurePolicyBestEffort, FailurePolicyFailFast:
	default:
		return fmt.Errorf("run.failurePolicy must be %s or %s, got %q", FailurePolicyBestEffort, FailurePolicyFailFast, c.Run.FailurePolicy)
	}
	switch c.Lookup.Source {
	case LookupSourceAWS, LookupSourceStatic:
	default:
		return fmt.Errorf("lookup.source must be %s or %s, got %q", LookupSourceAWS, LookupSourceStatic, c.Lookup.Source)
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("run.concurrency must be >= 1, got %d", c.Run.Concurrency)
	}
	if c.API.RateLimit < 0 || c.API.Burst < 0 {
		return fmt.Errorf("api.rateLimit and api.burst must not be negative")
	}
	if strings.TrimSpace(c.API.URL) == "" {
		return fmt.Errorf("api.url is required")
	}
	return nil
}

func loadOne(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, err
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return Config{}, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func merge(a, b Config) Config {
	out := a
	out.API = mergeAPI(a.API, b.API)
	out.Run = mergeRun(a.Run, b.Run)
	out.Lookup = mergeLookup(a.Lookup, b.Lookup)
	return out
}

func mergeAPI(a, b APIConfig) APIConfig {
	out := a
	if b.URL != "" {
		out.URL = b.URL
	}
	if b.Timeout != 0 {
		out.Timeout = b.Timeout
	}
	if b.RateLimit != 0 {
		out.RateLimit = b.RateLimit
	}
	if b.Burst != 0 {
		out.Burst = b.Burst
	}
	return out
}

func mergeRun(a, b RunConfig) RunConfig {
	out := a
	if b.Concurrency != 0 {
		out.Concurrency = b.Concurrency
	}
	if b.FailurePolicy != "" {
		out.FailurePolicy = b.FailurePolicy
	}
	if b.TemplatesDir != "" {
		out.TemplatesDir = b.TemplatesDir
	}
	if b.MetricsFile != "" {
		out.MetricsFile = b.MetricsFile
	}
	if b.SettingsDir != "" {
		out.SettingsDir = b.SettingsDir
	}
	return out
}

func mergeLookup(a, b LookupConfig) LookupConfig {
	out := a
	if b.Source != "" {
		out.Source = b.Source
	}
	if b.EnvironmentTag != "" {
		out.EnvironmentTag = b.EnvironmentTag
	}
	if len(b.ImageOwners) > 0 {
		out.ImageOwners = append([]string(nil), b.ImageOwners...)
	}
	if len(b.Images) > 0 {
		out.Images = b.Images
	}
	if len(b.Subnets) > 0 {
		out.Subnets = b.Subnets
	}
	if len(b.ImageTemplates) > 0 {
		merged := make(map[string]string, len(a.ImageTemplates)+len(b.ImageTemplates))
		for k, v := range a.ImageTemplates {
			merged[k] = v
		}
		for k, v := range b.ImageTemplates {
			merged[k] = v
		}
		out.ImageTemplates = merged
	}
	return out
}

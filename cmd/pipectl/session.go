// File: cmd/pipectl/session.go
// Brief: Shared setup for commands: logger, tool config, API client and runner.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/pipectl/internal/appconfig"
	"github.com/example/pipectl/internal/logging"
	"github.com/example/pipectl/internal/lookup"
	"github.com/example/pipectl/internal/metrics"
	"github.com/example/pipectl/internal/pipeline"
	"github.com/example/pipectl/internal/render"
	"github.com/example/pipectl/internal/runner"
	"github.com/example/pipectl/internal/settings"
	"github.com/example/pipectl/internal/spinnaker"
)

type globalOptions struct {
	logLevel   string
	logFormat  string
	configPath string
	apiURL     string
}

type session struct {
	cfg      appconfig.Config
	log      logr.Logger
	api      *spinnaker.Client
	repoRoot string
}

func (g *globalOptions) open(cmd *cobra.Command) (*session, error) {
	log, err := logging.NewWithOptions(logging.Options{
		Level:  g.logLevel,
		Format: g.logFormat,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	globalPath := g.configPath
	if globalPath == "" {
		globalPath = appconfig.DefaultGlobalPath()
	}
	repoRoot := ""
	if wd, err := os.Getwd(); err == nil {
		repoRoot = appconfig.FindRepoRoot(wd)
	}
	repoPath := appconfig.DefaultRepoPath(repoRoot)
	cfg, err := appconfig.Load(cmd.Context(), globalPath, repoPath)
	if err != nil {
		return nil, err
	}
	if g.apiURL != "" {
		cfg.API.URL = g.apiURL
	}
	api, err := spinnaker.New(spinnaker.Options{
		URL:       cfg.API.URL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, api: api, repoRoot: repoRoot}, nil
}

// runFlags are shared by create, plan and rebuild.
type runFlags struct {
	app          string
	settingsPath string
	settingsDir  string
	regions      []string
	onetime      string
	base         string
	triggerJob   string
	concurrency  int
	failFast     bool
	templatesDir string
	metricsFile  string
}

func (f *runFlags) bindApp(fs *pflag.FlagSet) {
	fs.StringVar(&f.app, "app", "", "Application name")
	fs.StringVar(&f.settingsPath, "settings", "", "Settings file (default <settings-dir>/<app>.yaml|.yml|.json)")
	fs.StringVar(&f.onetime, "onetime", "", "Build the one-time pipeline for this environment only")
}

func (f *runFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.settingsDir, "settings-dir", "", "Directory holding <app> settings files (default run.settingsDir, then <repo>/runway, then .)")
	fs.StringSliceVar(&f.regions, "region", nil, "Restrict to these regions (repeat or comma-separate)")
	fs.StringVar(&f.base, "base", "", "Override the base image name from the settings")
	fs.StringVar(&f.triggerJob, "trigger-job", "", "CI job that triggers the pipeline")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Regions processed in parallel (default run.concurrency)")
	fs.BoolVar(&f.failFast, "fail-fast", false, "Stop remaining regions after the first failure")
	fs.StringVar(&f.templatesDir, "templates-dir", "", "Directory with wrapper/environment template overrides")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics here after the run")
}

func (s *session) settingsDir(f *runFlags) string {
	if dir := strings.TrimSpace(f.settingsDir); dir != "" {
		return dir
	}
	return appconfig.SettingsDir(s.repoRoot, s.cfg.Run.SettingsDir)
}

func (s *session) loadSettings(f *runFlags, app string) (*settings.Settings, error) {
	if f.settingsPath != "" {
		return settings.Load(f.settingsPath)
	}
	st, _, err := settings.LoadForApp(s.settingsDir(f), app)
	return st, err
}

func (s *session) newRunner(ctx context.Context, f *runFlags, rec *metrics.Recorder) (*runner.Runner, error) {
	dir := f.templatesDir
	if dir == "" {
		dir = s.cfg.Run.TemplatesDir
	}
	renderer, err := render.New(dir)
	if err != nil {
		return nil, err
	}
	images, subnets, err := s.resolvers(ctx)
	if err != nil {
		return nil, err
	}
	return runner.New(runner.Deps{
		API:      s.api,
		Renderer: renderer,
		Images:   images,
		Subnets:  subnets,
		Metrics:  rec,
		Logger:   s.log,
	}), nil
}

func (s *session) resolvers(ctx context.Context) (lookup.ImageResolver, lookup.SubnetResolver, error) {
	l := s.cfg.Lookup
	if l.Source == appconfig.LookupSourceStatic {
		static := lookup.Static{Images: l.Images, Index: pipeline.SubnetIndex(l.Subnets)}
		return static, static, nil
	}
	ec2, err := lookup.NewEC2(ctx, lookup.EC2Options{
		EnvironmentTag: l.EnvironmentTag,
		Owners:         l.ImageOwners,
		Logger:         s.log,
	})
	if err != nil {
		return nil, nil, err
	}
	return ec2, ec2, nil
}

func (s *session) runOptions(f *runFlags, app string, st *settings.Settings) runner.Options {
	concurrency := f.concurrency
	if concurrency <= 0 {
		concurrency = s.cfg.Run.Concurrency
	}
	return runner.Options{
		Application:    app,
		Settings:       st,
		Regions:        splitCSV(f.regions),
		Onetime:        strings.TrimSpace(f.onetime),
		Base:           f.base,
		TriggerJob:     f.triggerJob,
		ImageTemplates: s.cfg.Lookup.ImageTemplates,
		Concurrency:    concurrency,
		FailFast:       f.failFast || s.cfg.Run.FailurePolicy == appconfig.FailurePolicyFailFast,
	}
}

func (s *session) metricsPath(f *runFlags) string {
	if f.metricsFile != "" {
		return f.metricsFile
	}
	return s.cfg.Run.MetricsFile
}

func requireApp(app string) (string, error) {
	app = strings.TrimSpace(app)
	if app == "" {
		return "", fmt.Errorf("--app is required")
	}
	return app, nil
}

// main.go bootstraps pipectl: it builds the root Cobra command and executes it with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/pipectl/internal/featureflags"
	"github.com/example/pipectl/internal/pipeline"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	global := &globalOptions{logLevel: "info", logFormat: "console"}
	var featureFlagValues []string
	cmd := &cobra.Command{
		Use:           "pipectl",
		Short:         "Assemble and publish multi-region deployment pipelines",
		Long:          "pipectl renders one deployment pipeline per region from an application's environment settings and replaces the generated pipelines held by the orchestrator.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			flags, err := featureflags.Resolve(featureflags.FromEnv(nil), featureFlagValues)
			if err != nil {
				return err
			}
			ctx := featureflags.ContextWithFlags(cmd.Context(), flags)
			cmd.SetContext(ctx)
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&global.logLevel, "log-level", global.logLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&global.logFormat, "log-format", global.logFormat, "Log encoding (console, json)")
	pf.StringVar(&global.configPath, "config", "", "Path to the tool configuration file (default ~/.pipectl/config.yaml)")
	pf.StringVar(&global.apiURL, "api-url", "", "Orchestrator API URL (overrides api.url)")
	pf.StringSliceVar(&featureFlagValues, "feature", nil, "Toggle features: name or name=false (repeat or comma-separate)")
	if err := pf.MarkHidden("feature"); err != nil {
		cobra.CheckErr(err)
	}

	createCmd := newCreateCommand(global)
	planCmd := newPlanCommand(global)
	listCmd := newListCommand(global)
	rebuildCmd := newRebuildCommand(global)
	cmd.AddCommand(createCmd, planCmd, listCmd, rebuildCmd, newVersionCommand())
	cmd.Example = `  # Replace the generated pipelines of one application
  pipectl create --app checkout --settings runway/checkout.yaml

  # Preview us-west-2 and diff it against what the orchestrator holds
  pipectl plan --app checkout --region us-west-2 --diff

  # One-time pipeline for prod only
  pipectl create --app checkout --onetime prod

  # Re-create every application of a repository project
  pipectl rebuild --project PAY --settings-dir runway/`
	bindViper(cmd, createCmd, planCmd, listCmd, rebuildCmd)
	return cmd
}

// bindViper lets PIPECTL_* variables and an optional flags file provide
// values for flags not set on the command line.
func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("PIPECTL")
	v.AutomaticEnv()
	configFile := os.Getenv("PIPECTL_FLAGS_FILE")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || !v.IsSet(f.Name) {
						return
					}
					if sv, ok := f.Value.(pflag.SliceValue); ok {
						_ = sv.Replace(splitCSV(v.GetStringSlice(f.Name)))
						return
					}
					if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("flags")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "pipectl"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "pipectl"), filepath.Join(home, ".pipectl"))
	}
	return dirs
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fmt.Fprintf(w, "Error: %s\n", describeError(err))
}

func describeError(err error) string {
	var (
		conflictErr  *pipeline.StalePipelineConflictError
		createErr    *pipeline.PipelineCreationFailedError
		malformedErr *pipeline.MalformedFragmentError
		renderErr    *pipeline.RenderError
	)
	message := err.Error()
	switch {
	case errors.As(err, &conflictErr):
		message += fmt.Sprintf("\nHint: remove %q in the orchestrator UI or check the API credentials, then re-run.", conflictErr.Name)
	case errors.As(err, &createErr):
		message += "\nHint: the orchestrator rejected the pipeline; re-run with --log-level debug to see the submitted JSON."
	case errors.As(err, &malformedErr):
		message += "\nHint: check stage ids, dependsOn and entryAfter in the templates under --templates-dir."
	case errors.As(err, &renderErr):
		message += "\nHint: run 'pipectl plan' to render without publishing."
	case errors.Is(err, context.DeadlineExceeded):
		message += "\nHint: raise api.timeout or verify network connectivity to the orchestrator."
	}
	return message
}

func splitCSV(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

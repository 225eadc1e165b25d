// File: cmd/pipectl/rebuild.go
// Brief: CLI command wiring and implementation for 'rebuild'.

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/pipectl/internal/metrics"
	"github.com/example/pipectl/internal/settings"
	"github.com/example/pipectl/internal/spinnaker"
)

const allProjects = "ALL"

func newRebuildCommand(global *globalOptions) *cobra.Command {
	flags := &runFlags{}
	var (
		project string
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-create the pipelines of every application in a repository project",
		Long:  "rebuild lists the orchestrator's applications, keeps those whose repository project key matches --project (ALL matches every application that has one) and runs create for each application with a settings file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			project = strings.TrimSpace(project)
			if project == "" {
				return fmt.Errorf("--project is required (a project key or %s)", allProjects)
			}
			if strings.EqualFold(project, allProjects) {
				a := newApproval(cmd.InOrStdin(), yes)
				if err := confirmExact(cmd.Context(), cmd.InOrStdin(), cmd.ErrOrStderr(), a,
					"This re-creates the pipelines of every application. Type ALL to continue:", allProjects); err != nil {
					return err
				}
			}
			sess, err := global.open(cmd)
			if err != nil {
				return err
			}
			apps, err := sess.api.ListApplications(cmd.Context())
			if err != nil {
				return err
			}
			selected := selectApplications(apps, project)
			sess.log.Info("selected applications", "project", project, "count", len(selected))

			rec := metrics.New()
			r, err := sess.newRunner(cmd.Context(), flags, rec)
			if err != nil {
				return err
			}
			settingsDir := sess.settingsDir(flags)
			var errs []error
			for _, app := range selected {
				if err := cmd.Context().Err(); err != nil {
					errs = append(errs, err)
					break
				}
				st, path, err := settings.LoadForApp(settingsDir, app)
				if errors.Is(err, os.ErrNotExist) {
					sess.log.Info("no settings for application, skipping", "app", app, "dir", settingsDir)
					continue
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", app, err))
					continue
				}
				sess.log.V(1).Info("loaded settings", "app", app, "path", path)
				report, err := r.Run(cmd.Context(), sess.runOptions(flags, app, st))
				if report != nil {
					printReport(cmd.OutOrStdout(), report)
				}
				if err != nil {
					errs = append(errs, err)
					if flags.failFast {
						break
					}
				}
			}
			if err := rec.WriteTextfile(sess.metricsPath(flags)); err != nil {
				sess.log.Error(err, "failed to write metrics")
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Repository project key to rebuild, or ALL")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation asked for --project ALL")
	flags.bind(cmd.Flags())
	return cmd
}

// selectApplications returns, sorted, the applications whose project key
// matches project case-insensitively. Applications without a key never match.
func selectApplications(apps []spinnaker.Application, project string) []string {
	var out []string
	for _, app := range apps {
		key := strings.TrimSpace(app.RepoProjectKey)
		if key == "" || app.Name == "" {
			continue
		}
		if strings.EqualFold(project, allProjects) || strings.EqualFold(key, project) {
			out = append(out, app.Name)
		}
	}
	sort.Strings(out)
	return out
}

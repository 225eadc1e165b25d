// File: cmd/pipectl/list.go
// Brief: CLI command wiring and implementation for 'list'.

package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/pipectl/internal/pipeline"
)

type listRow struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Variant string `json:"variant"`
}

func newListCommand(global *globalOptions) *cobra.Command {
	var (
		app    string
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the generated pipelines of an application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireApp(app)
			if err != nil {
				return err
			}
			sess, err := global.open(cmd)
			if err != nil {
				return err
			}
			stored, err := sess.api.ListPipelines(cmd.Context(), name)
			if err != nil {
				return err
			}
			rows := make([]listRow, 0, len(stored))
			for _, p := range stored {
				managed, ok := pipeline.ParseManagedName(name, p.Name)
				if !ok {
					continue
				}
				rows = append(rows, listRow{Name: p.Name, Region: managed.Region, Variant: managed.Variant.String()})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

			switch strings.ToLower(strings.TrimSpace(output)) {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			case "", "table":
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tREGION\tVARIANT")
				for _, row := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Name, row.Region, row.Variant)
				}
				return tw.Flush()
			default:
				return fmt.Errorf("unknown --output %q (expected table|json)", output)
			}
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "Application name")
	cmd.Flags().StringVar(&output, "output", "table", "Output format: table|json")
	return cmd
}

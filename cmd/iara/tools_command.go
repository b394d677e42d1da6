package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"iara/internal/server"
)

func newToolsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(_ context.Context, app *server.App) error {
				catalog := app.Registry.Catalog()
				if jsonOutput || !isTerminal(cmd.OutOrStdout()) {
					return writeJSON(cmd, map[string]any{"tools": catalog})
				}
				rows := make([][]string, 0, len(catalog))
				for _, d := range catalog {
					desc := text.Trim(d.Description, 60)
					if !d.Available {
						desc = "unavailable: " + d.Reason
					}
					rows = append(rows, []string{d.Name, string(d.Effect), yesNo(d.Available), desc})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Tool", "Effect", "Available", "Description"},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the catalog as JSON")
	return cmd
}

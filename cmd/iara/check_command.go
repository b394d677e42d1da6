package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"iara/internal/deps"
	"iara/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check directories and backend commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			results := preflight.RunAll(context.Background(), cfg)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Name, passLabel(r.Passed), r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Directory", "Status", "Detail"}, rows))

			statuses := preflight.CheckSystemDeps(cfg)
			rows = rows[:0]
			for _, s := range statuses {
				detail := s.Path
				if !s.Available {
					detail = s.Detail
				}
				rows = append(rows, []string{s.Name, s.Command, yesNo(s.Available), detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Backend", "Command", "Available", "Detail"}, rows))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d directory check(s) failed", len(failed))
			}
			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required backend(s) missing", len(missing))
			}
			return nil
		},
	}
}

func passLabel(passed bool) string {
	if passed {
		return "ok"
	}
	return "failed"
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"Helix/internal/store"
)

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recently streamed responses from the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			journal, err := store.Open(cfg.Paths.DBPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()

			ctx := cmd.Context()
			runs, err := journal.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}

			for _, r := range runs {
				fmt.Printf("%s  %-8s %-9s %-8s %5d tokens  %6dms\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Surface, r.Status, r.Model, r.TokenCount,
					r.FinishedAt.Sub(r.StartedAt).Milliseconds())
				if r.Error != "" {
					fmt.Printf("    error: %s\n", r.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

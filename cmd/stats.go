// -- cmd/stats.go --
package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tarvos-labs/deskpilot/internal/memory"
	"github.com/tarvos-labs/deskpilot/internal/observability"
)

// statsCmd inspects the persisted long-term memory.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learned workflow statistics from long-term memory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		ctx := cmd.Context()

		var store memory.Store
		switch appCfg.Memory().Backend {
		case "postgres":
			pgStore, err := memory.NewPostgresStore(ctx, appCfg.Memory().Postgres, logger)
			if err != nil {
				return err
			}
			store = pgStore
		default:
			path := appCfg.Memory().FilePath
			if path == "" {
				var err error
				path, err = memory.DefaultMemoryPath()
				if err != nil {
					return err
				}
			}
			store = memory.NewFileStore(path, logger)
		}
		defer func(ctx context.Context) { _ = store.Close(ctx) }(ctx)

		records, err := store.Load(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No learned workflows yet.")
			return nil
		}

		signatures := make([]string, 0, len(records))
		for sig := range records {
			signatures = append(signatures, sig)
		}
		sort.Strings(signatures)

		fmt.Printf("%d learned workflow(s):\n\n", len(records))
		for _, sig := range signatures {
			rec := records[sig]
			fmt.Printf("  %q\n    actions=%d successes=%d avg_duration=%.1fs last_used=%s\n",
				rec.Task, len(rec.Sequence), rec.SuccessCount, rec.AvgDurationSeconds,
				rec.LastUsed.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

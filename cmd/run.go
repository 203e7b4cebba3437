// -- cmd/run.go --
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/internal/observability"
)

var (
	runMaxIterations int
	runTimeout       time.Duration
	runDryRun        bool
)

// runCmd executes a single natural-language task.
var runCmd = &cobra.Command{
	Use:   "run [task description]",
	Short: "Run a single task against the screen.",
	Long: `Run drives the agent through one natural-language task: it plans the task,
executes OODA cycles against the display, and reports a structured result.

Example:
  deskpilot run "open firefox and search for weather in Berlin"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		task := strings.Join(args, " ")

		if runMaxIterations > 0 {
			appCfg.SetAgentMaxIterations(runMaxIterations)
		}
		if runTimeout > 0 {
			appCfg.SetAgentTaskTimeout(runTimeout)
		}
		if runDryRun {
			appCfg.SetActuatorDryRun(true)
		}

		ctx := cmd.Context()
		stack, err := buildAgentStack(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close(ctx)

		result := stack.controller.RunTask(ctx, task, appCfg.Agent().MaxIterations, appCfg.Agent().TaskTimeout.Seconds())

		stats := stack.controller.Stats()
		logger.Info("Run statistics",
			zap.Float64("short_term_success_rate", stats.ShortTermSuccessRate),
			zap.Int("long_term_entries", stats.LongTermEntryCount),
			zap.Float64("avg_oracle_latency_ms", stats.AvgOracleLatencyMs),
			zap.Float64("avg_actuator_latency_ms", stats.AvgActuatorLatencyMs),
			zap.Int("reflections", stats.Reflections),
			zap.Int("replans", stats.Replans))

		if !result.Success {
			return fmt.Errorf("task failed after %d actions in %.1fs: %s",
				result.ActionsTaken, result.DurationSeconds, result.Error)
		}
		fmt.Printf("Task completed: %d actions in %.1fs\n", result.ActionsTaken, result.DurationSeconds)
		return nil
	},
}

func init() {
	runCmd.Flags().IntVarP(&runMaxIterations, "max-iterations", "n", 0, "override the iteration budget")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0, "override the task timeout")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log actions instead of executing them")
	rootCmd.AddCommand(runCmd)
}

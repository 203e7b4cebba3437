// -- cmd/workflow.go --
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/internal/observability"
	"github.com/tarvos-labs/deskpilot/internal/workflow"
)

var workflowVars []string

// workflowCmd executes a declarative multi-task workflow template.
var workflowCmd = &cobra.Command{
	Use:   "workflow [template.yaml]",
	Short: "Run a multi-task workflow template.",
	Long: `Workflow runs an ordered sequence of task, extract and pause steps from a
YAML template. Extracted values are stored as variables and interpolated into
later steps with {name} references.

Example:
  deskpilot workflow checkout.yaml --var user=alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		tpl, err := workflow.LoadTemplate(args[0])
		if err != nil {
			return err
		}

		extraVars := make(map[string]string, len(workflowVars))
		for _, kv := range workflowVars {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid --var %q, expected name=value", kv)
			}
			extraVars[parts[0]] = parts[1]
		}

		ctx := cmd.Context()
		stack, err := buildAgentStack(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close(ctx)

		engine := workflow.NewEngine(appCfg.Workflow(), stack.controller, stack.oracle, stack.capturer, logger)
		result := engine.Run(ctx, tpl, extraVars)

		for _, step := range result.Steps {
			logger.Info("Workflow step",
				zap.String("name", step.Name),
				zap.String("type", step.Type),
				zap.Bool("success", step.Success),
				zap.Int("attempts", step.Attempts),
				zap.String("value", step.Value),
				zap.String("error", step.Error))
		}

		if !result.Success {
			return fmt.Errorf("workflow %q failed after %.1fs", result.Workflow, result.DurationS)
		}
		fmt.Printf("Workflow %q completed: %d steps in %.1fs\n", result.Workflow, len(result.Steps), result.DurationS)
		return nil
	},
}

func init() {
	workflowCmd.Flags().StringArrayVar(&workflowVars, "var", nil, "template variable as name=value (repeatable)")
	rootCmd.AddCommand(workflowCmd)
}

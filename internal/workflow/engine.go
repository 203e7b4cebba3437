// internal/workflow/engine.go
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/config"
)

// TaskRunner is the slice of the agent controller the engine drives.
type TaskRunner interface {
	RunTask(ctx context.Context, description string, maxIterations int, timeoutSeconds float64) schemas.TaskResult
}

// Extractor reads values off the current screen, backed by the oracle.
type Extractor interface {
	Extract(ctx context.Context, obs schemas.Observation, query string) (string, error)
}

// StepResult records one executed workflow step.
type StepResult struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Success   bool    `json:"success"`
	Skipped   bool    `json:"skipped,omitempty"`
	Attempts  int     `json:"attempts"`
	Value     string  `json:"value,omitempty"`
	Error     string  `json:"error,omitempty"`
	DurationS float64 `json:"duration_seconds"`
}

// Result is the outcome of a full workflow run.
type Result struct {
	Workflow  string            `json:"workflow"`
	Success   bool              `json:"success"`
	Steps     []StepResult      `json:"steps"`
	Variables map[string]string `json:"variables,omitempty"`
	DurationS float64           `json:"duration_seconds"`
}

// Engine executes workflow templates: task steps run through the agent
// controller, extract steps read the screen via the oracle, pause steps wait.
// Variables flow forward through {name} interpolation.
type Engine struct {
	logger    *zap.Logger
	cfg       config.WorkflowConfig
	runner    TaskRunner
	extractor Extractor
	capturer  schemas.Capturer
}

// NewEngine wires a workflow engine.
func NewEngine(cfg config.WorkflowConfig, runner TaskRunner, extractor Extractor, capturer schemas.Capturer, logger *zap.Logger) *Engine {
	return &Engine{
		logger:    logger.Named("workflow_engine"),
		cfg:       cfg,
		runner:    runner,
		extractor: extractor,
		capturer:  capturer,
	}
}

// Run executes the template from the first step. extraVars override template
// variables of the same name.
func (e *Engine) Run(ctx context.Context, tpl *Template, extraVars map[string]string) Result {
	start := time.Now()
	vars := make(map[string]string, len(tpl.Variables)+len(extraVars))
	for k, v := range tpl.Variables {
		vars[k] = v
	}
	for k, v := range extraVars {
		vars[k] = v
	}

	result := Result{Workflow: tpl.Name, Success: true, Variables: vars}
	e.logger.Info("Workflow started", zap.String("workflow", tpl.Name), zap.Int("steps", len(tpl.Steps)))

	for i, step := range tpl.Steps {
		if ctx.Err() != nil {
			result.Success = false
			break
		}
		stepResult := e.runStep(ctx, step, vars)
		result.Steps = append(result.Steps, stepResult)

		if !stepResult.Success && !stepResult.Skipped {
			if step.Optional {
				e.logger.Warn("Optional step failed, continuing",
					zap.String("step", step.Name), zap.String("error", stepResult.Error))
				continue
			}
			if e.cfg.ContinueOnError {
				result.Success = false
				continue
			}
			result.Success = false
			e.logger.Error("Workflow aborted on step failure",
				zap.String("step", step.Name),
				zap.Int("completed", i))
			break
		}
	}

	result.DurationS = time.Since(start).Seconds()
	e.logger.Info("Workflow finished",
		zap.String("workflow", tpl.Name),
		zap.Bool("success", result.Success),
		zap.Float64("duration_s", result.DurationS))
	return result
}

func (e *Engine) runStep(ctx context.Context, step Step, vars map[string]string) StepResult {
	start := time.Now()
	result := StepResult{Name: step.Name, Type: string(step.Type)}

	retries := step.Retries
	if retries == 0 {
		retries = e.cfg.DefaultRetries
	}
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	for attempt := 0; attempt <= retries; attempt++ {
		result.Attempts = attempt + 1
		err := e.attempt(ctx, step, vars, timeout, &result)
		if err == nil {
			result.Success = true
			break
		}
		result.Error = err.Error()
		if attempt < retries {
			e.logger.Warn("Workflow step failed, retrying",
				zap.String("step", step.Name),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}

	result.DurationS = time.Since(start).Seconds()
	return result
}

func (e *Engine) attempt(ctx context.Context, step Step, vars map[string]string, timeout time.Duration, result *StepResult) error {
	switch step.Type {
	case StepTask:
		task := Interpolate(step.Task, vars)
		taskResult := e.runner.RunTask(ctx, task, step.MaxIterations, timeout.Seconds())
		if !taskResult.Success {
			if step.SaveAs != "" {
				vars[step.SaveAs] = taskResult.Error
			}
			return fmt.Errorf("task failed after %d actions: %s", taskResult.ActionsTaken, taskResult.Error)
		}
		if step.SaveAs != "" {
			vars[step.SaveAs] = "ok"
		}
		return nil

	case StepExtract:
		obs, err := e.capturer.Capture(ctx)
		if err != nil {
			return fmt.Errorf("capture failed for extract step: %w", err)
		}
		value, err := e.extractor.Extract(ctx, obs, Interpolate(step.Query, vars))
		if err != nil {
			return err
		}
		vars[step.SaveAs] = value
		result.Value = value
		return nil

	case StepPause:
		timer := time.NewTimer(step.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}

	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

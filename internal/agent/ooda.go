// internal/agent/ooda.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/config"
	"github.com/tarvos-labs/deskpilot/internal/memory"
)

// StepRequest scopes one OODA cycle: the task, the current strategic step and
// tactical intent, plus an optional forced action that bypasses the oracle
// (reflection substitutions and fast-path replays).
type StepRequest struct {
	Task         schemas.Task
	Step         string
	Intent       schemas.Intent
	Forced       *schemas.Action
	LongTermHint []schemas.Action
	UIHints      []string
	Mode         string
}

// StepExecutor runs one observe-orient-decide-act-verify cycle per call. It
// owns the in-flight action/outcome pair for the duration of the cycle and is
// the only writer of ShortTermMemory.
type StepExecutor struct {
	logger   *zap.Logger
	cfg      config.AgentConfig
	oracle   schemas.Oracle
	actuator schemas.Actuator
	capturer schemas.Capturer
	stm      *memory.ShortTermMemory
	verifier *Verifier

	oracleTimeout time.Duration

	// latency running averages, read by Stats.
	mu              sync.Mutex
	oracleCalls     int
	oracleTotalMs   float64
	actuatorCalls   int
	actuatorTotalMs float64
}

// NewStepExecutor wires a step executor.
func NewStepExecutor(
	cfg config.AgentConfig,
	oracleTimeout time.Duration,
	oracle schemas.Oracle,
	actuator schemas.Actuator,
	capturer schemas.Capturer,
	stm *memory.ShortTermMemory,
	verifier *Verifier,
	logger *zap.Logger,
) *StepExecutor {
	if oracleTimeout <= 0 {
		oracleTimeout = 45 * time.Second
	}
	return &StepExecutor{
		logger:        logger.Named("step_executor"),
		cfg:           cfg,
		oracle:        oracle,
		actuator:      actuator,
		capturer:      capturer,
		stm:           stm,
		verifier:      verifier,
		oracleTimeout: oracleTimeout,
	}
}

// Execute runs one full cycle. Oracle and actuator trouble is absorbed into
// the returned ActionOutcome; the only error surfaced is a capture failure
// that persisted through its single retry, which is fatal to the cycle.
// The outcome is appended to short-term memory before returning, always.
func (e *StepExecutor) Execute(ctx context.Context, req StepRequest) (schemas.ActionOutcome, error) {
	// -- OBSERVE --
	before, err := e.captureWithRetry(ctx)
	if err != nil {
		return schemas.ActionOutcome{}, err
	}

	// -- ORIENT --
	bundle := schemas.ContextBundle{
		Task:         req.Task.Description,
		Step:         req.Step,
		Intent:       req.Intent.Description,
		ExpectedKind: req.Intent.ExpectedKind,
		Recent:       e.stm.RecentWindow(e.cfg.ContextLookback),
		LongTermHint: req.LongTermHint,
		UIHints:      req.UIHints,
		SuccessRate:  e.stm.SuccessRate(),
		Mode:         req.Mode,
	}

	// -- DECIDE --
	action := e.decide(ctx, before, req, bundle)

	outcome := schemas.ActionOutcome{
		Action:    action,
		Before:    before,
		Timestamp: time.Now().UTC(),
	}

	// Done never reaches the actuator; the controller interprets it.
	if action.Kind == schemas.ActionDone {
		outcome.RawSuccess = true
		outcome.Verified = true
		outcome.After = before
		e.stm.Record(outcome)
		return outcome, nil
	}

	// -- ACT --
	actStart := time.Now()
	execResult, execErr := e.actuator.Execute(ctx, action)
	outcome.Latency = time.Since(actStart)
	e.recordActuatorLatency(outcome.Latency)

	if execErr != nil {
		var actErr *schemas.ActuatorError
		if errors.As(execErr, &actErr) {
			e.logger.Warn("Actuator rejected action",
				zap.String("action", action.String()),
				zap.String("reason", string(actErr.Reason)))
		} else {
			e.logger.Warn("Actuator call failed", zap.String("action", action.String()), zap.Error(execErr))
		}
		outcome.RawSuccess = false
	} else {
		outcome.RawSuccess = execResult.RawSuccess
	}

	// Give the UI a settle window before judging the result.
	if !sleepCtx(ctx, e.cfg.SettleTime) {
		outcome.Unverified = true
		outcome.After = before
		e.stm.Record(outcome)
		return outcome, nil
	}

	// -- VERIFY --
	after, capErr := e.capturer.Capture(ctx)
	if capErr != nil {
		// Post-action capture is best-effort; the cycle proceeds, but the
		// outcome stays unverified and counts as a failure in the success rate.
		e.logger.Warn("Post-action capture failed, outcome unverified", zap.Error(capErr))
		outcome.Unverified = true
		outcome.After = before
		e.stm.Record(outcome)
		return outcome, nil
	}
	outcome.After = after

	if outcome.RawSuccess {
		verdict := e.verifier.Verify(action, before, after)
		outcome.Verified = verdict.Verified
		outcome.Issue = verdict.Issue
		if !verdict.Verified {
			outcome.Correction = verdict.SuggestedCorrection
		}
	}

	e.stm.Record(outcome)
	return outcome, nil
}

// decide picks the cycle's action: forced substitutions win, otherwise the
// oracle proposes one. A forced explore is a strategy rather than a literal
// action: it routes back to the oracle in explore mode so the model proposes
// a genuinely different approach. Oracle failures and invalid proposals
// degrade to a minimal wait so the loop keeps moving.
func (e *StepExecutor) decide(ctx context.Context, obs schemas.Observation, req StepRequest, bundle schemas.ContextBundle) schemas.Action {
	if req.Forced != nil {
		if req.Forced.Kind == schemas.ActionExplore {
			bundle.Mode = "explore"
			return e.propose(ctx, obs, bundle)
		}
		action := *req.Forced
		if action.ID == "" {
			action.ID = uuid.NewString()
		}
		action.Timestamp = time.Now().UTC()
		return e.validate(action)
	}
	return e.propose(ctx, obs, bundle)
}

// propose asks the oracle for the next action and validates its answer.
func (e *StepExecutor) propose(ctx context.Context, obs schemas.Observation, bundle schemas.ContextBundle) schemas.Action {
	callCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()

	start := time.Now()
	proposal, err := e.oracle.ProposeAction(callCtx, obs, bundle)
	e.recordOracleLatency(time.Since(start))

	if err != nil {
		var oracleErr *schemas.OracleError
		if errors.As(err, &oracleErr) {
			e.logger.Warn("Oracle call failed, substituting minimal wait",
				zap.String("reason", string(oracleErr.Reason)),
				zap.Error(err))
		} else {
			e.logger.Warn("Oracle call failed, substituting minimal wait", zap.Error(err))
		}
		return schemas.MinimalWait(fmt.Sprintf("oracle failure: %v", err))
	}

	action := proposal.Action
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	action.Timestamp = time.Now().UTC()
	action.Confidence = proposal.Confidence
	return e.validate(action)
}

// validate enforces value-range rules per action kind. A proposal that fails
// is replaced with a minimal wait and logged as an oracle format error, never
// escalated as a task failure.
func (e *StepExecutor) validate(action schemas.Action) schemas.Action {
	width, height := e.actuator.Bounds()

	invalid := func(why string) schemas.Action {
		e.logger.Warn("Proposed action failed validation",
			zap.String("action", action.String()),
			zap.String("why", why))
		return schemas.MinimalWait("invalid proposal: " + why)
	}

	switch action.Kind {
	case schemas.ActionClick, schemas.ActionDoubleClick, schemas.ActionRightClick, schemas.ActionScroll:
		if !inBounds(action.X, action.Y, width, height) {
			return invalid(fmt.Sprintf("coordinates (%d,%d) outside display %dx%d", action.X, action.Y, width, height))
		}
	case schemas.ActionDrag:
		if !inBounds(action.X, action.Y, width, height) || !inBounds(action.ToX, action.ToY, width, height) {
			return invalid("drag endpoints outside display bounds")
		}
	case schemas.ActionTypeText:
		if action.Text == "" {
			return invalid("empty text for type action")
		}
	case schemas.ActionHotkey:
		if len(action.Keys) == 0 {
			return invalid("empty key combination")
		}
	case schemas.ActionOpenApp:
		if action.App == "" {
			return invalid("empty application name")
		}
	case schemas.ActionWait:
		if action.DurationMs <= 0 {
			action.DurationMs = 250
		}
	case schemas.ActionExplore, schemas.ActionVerify, schemas.ActionDone:
		// No parameters to range-check.
	default:
		return invalid("unrecognized action kind " + string(action.Kind))
	}
	return action
}

// captureWithRetry observes the screen, retrying a failed capture once before
// surfacing the error to the controller.
func (e *StepExecutor) captureWithRetry(ctx context.Context) (schemas.Observation, error) {
	obs, err := e.capturer.Capture(ctx)
	if err == nil {
		return obs, nil
	}
	e.logger.Warn("Screen capture failed, retrying once", zap.Error(err))
	if !sleepCtx(ctx, 200*time.Millisecond) {
		return schemas.Observation{}, ctx.Err()
	}
	obs, err = e.capturer.Capture(ctx)
	if err != nil {
		return schemas.Observation{}, fmt.Errorf("screen capture failed after retry: %w", err)
	}
	return obs, nil
}

func (e *StepExecutor) recordOracleLatency(d time.Duration) {
	e.mu.Lock()
	e.oracleCalls++
	e.oracleTotalMs += float64(d.Milliseconds())
	e.mu.Unlock()
}

func (e *StepExecutor) recordActuatorLatency(d time.Duration) {
	e.mu.Lock()
	e.actuatorCalls++
	e.actuatorTotalMs += float64(d.Milliseconds())
	e.mu.Unlock()
}

// Latencies reports running average oracle and actuator latencies in ms.
func (e *StepExecutor) Latencies() (oracleMs, actuatorMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.oracleCalls > 0 {
		oracleMs = e.oracleTotalMs / float64(e.oracleCalls)
	}
	if e.actuatorCalls > 0 {
		actuatorMs = e.actuatorTotalMs / float64(e.actuatorCalls)
	}
	return oracleMs, actuatorMs
}

func inBounds(x, y, width, height int) bool {
	return x >= 0 && y >= 0 && x < width && y < height
}

// sleepCtx sleeps for d unless the context ends first; returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

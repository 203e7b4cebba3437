// internal/agent/controller.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/config"
	"github.com/tarvos-labs/deskpilot/internal/memory"
)

// Sentinel flow-control errors for the step/intent loops. None of them ever
// reaches a caller; the controller converts them into a TaskResult.
var (
	errBudgetExceeded = errors.New("iteration or time budget exceeded")
	errTaskDone       = errors.New("task concluded by done action")
)

// replanSignal asks the step loop to regenerate the unexecuted plan suffix.
type replanSignal struct {
	rootCause string
}

func (r *replanSignal) Error() string { return "replan requested: " + r.rootCause }

// stuckStepError marks a step abandoned after its intent retries ran out.
type stuckStepError struct {
	step  string
	issue string
}

func (s *stuckStepError) Error() string {
	return fmt.Sprintf("step %q stuck: %s", s.step, s.issue)
}

// Controller is the hierarchical planner driver: it owns the plan objects,
// drives the step executor per tactical intent, runs reflection on a fixed
// cadence, and enforces the iteration and time budgets at the top of every
// cycle. It is the public entry point of the decision core.
type Controller struct {
	cfg       config.AgentConfig
	logger    *zap.Logger
	planner   *Planner
	executor  *StepExecutor
	reflector *Reflector
	stm       *memory.ShortTermMemory
	ltm       *memory.LongTermMemory
	capturer  schemas.Capturer

	mu          sync.Mutex
	reflections int
	replans     int
	batches     int
}

// NewController wires the decision core together. Non-positive tunables fall
// back to their defaults so a zero-value config cannot stall or panic the
// cycle cadence.
func NewController(
	cfg config.AgentConfig,
	planner *Planner,
	executor *StepExecutor,
	reflector *Reflector,
	stm *memory.ShortTermMemory,
	ltm *memory.LongTermMemory,
	capturer schemas.Capturer,
	logger *zap.Logger,
) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 40
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.IntentRetries < 0 {
		cfg.IntentRetries = 0
	}
	if cfg.ReflectionInterval <= 0 {
		cfg.ReflectionInterval = 3
	}
	return &Controller{
		cfg:       cfg,
		logger:    logger.Named("controller"),
		planner:   planner,
		executor:  executor,
		reflector: reflector,
		stm:       stm,
		ltm:       ltm,
		capturer:  capturer,
	}
}

// taskRun is the mutable per-run state shared by the step and intent loops.
type taskRun struct {
	task     schemas.Task
	deadline time.Time

	mu       sync.Mutex
	cycles   int
	outcomes []schemas.ActionOutcome
	// forced is a one-shot substitution from reflection, consumed by the
	// next cycle.
	forced *schemas.Action
	stuck  []*stuckStepError
	// activeApp tracks the application opened most recently, keying the
	// UI-pattern memory. Empty means the bare desktop.
	activeApp string
}

// tryConsumeCycle reserves one OODA cycle against the budgets. It is the
// single budget checkpoint, called at the top of every cycle.
func (r *taskRun) tryConsumeCycle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cycles >= r.task.MaxIterations {
		return false
	}
	if !r.deadline.IsZero() && time.Now().After(r.deadline) {
		return false
	}
	r.cycles++
	return true
}

func (r *taskRun) record(outcome schemas.ActionOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *taskRun) takeForced() *schemas.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.forced
	r.forced = nil
	return f
}

func (r *taskRun) setForced(a *schemas.Action) {
	r.mu.Lock()
	r.forced = a
	r.mu.Unlock()
}

func (r *taskRun) cycleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

func (r *taskRun) app() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeApp == "" {
		return "desktop"
	}
	return r.activeApp
}

func (r *taskRun) setApp(app string) {
	r.mu.Lock()
	r.activeApp = app
	r.mu.Unlock()
}

// RunTask is the caller-facing entry: it builds a Task from the raw
// parameters and runs it.
func (c *Controller) RunTask(ctx context.Context, description string, maxIterations int, timeoutSeconds float64) schemas.TaskResult {
	task := schemas.Task{
		ID:            uuid.NewString(),
		Description:   description,
		MaxIterations: maxIterations,
		CreatedAt:     time.Now().UTC(),
	}
	if timeoutSeconds > 0 {
		task.Timeout = time.Duration(timeoutSeconds * float64(time.Second))
	}
	return c.Run(ctx, task)
}

// Run drives the task to completion or to a budget stop. It never panics a
// failure outward: every exit path is a structured TaskResult.
func (c *Controller) Run(ctx context.Context, task schemas.Task) schemas.TaskResult {
	if task.MaxIterations <= 0 {
		task.MaxIterations = c.cfg.MaxIterations
	}
	if task.Timeout <= 0 {
		task.Timeout = c.cfg.TaskTimeout
	}

	start := time.Now()
	run := &taskRun{
		task:     task,
		deadline: start.Add(task.Timeout),
	}
	runCtx, cancel := context.WithDeadline(ctx, run.deadline)
	defer cancel()

	c.stm.StartTask(task.Description)
	c.logger.Info("Task started",
		zap.String("task", task.Description),
		zap.Int("max_iterations", task.MaxIterations),
		zap.Duration("timeout", task.Timeout))

	result := c.execute(runCtx, run)
	result.Task = task.Description
	result.ActionsTaken = run.cycleCount()
	result.DurationSeconds = time.Since(start).Seconds()

	if result.Success {
		c.promote(ctx, run, time.Since(start))
	}
	c.logger.Info("Task finished",
		zap.Bool("success", result.Success),
		zap.Int("actions_taken", result.ActionsTaken),
		zap.String("error", result.Error))
	return result
}

func (c *Controller) execute(ctx context.Context, run *taskRun) schemas.TaskResult {
	obs, err := c.observe(ctx)
	if err != nil {
		return schemas.TaskResult{Error: fmt.Sprintf("initial screen capture failed: %v", err)}
	}

	plan, fastPath := c.seedPlan(ctx, run, obs)
	if fastPath {
		if done := c.replay(ctx, run, plan); done {
			return schemas.TaskResult{Success: true}
		}
		// Replay went off the rails; fall back to fresh planning with
		// whatever budget remains.
		c.logger.Info("Fast-path replay abandoned, replanning from scratch")
		obs, err = c.observe(ctx)
		if err != nil {
			return schemas.TaskResult{Error: fmt.Sprintf("screen capture failed: %v", err)}
		}
		fresh, perr := c.planner.Strategic(ctx, run.task, obs, c.progressSummary(run))
		if perr != nil {
			return schemas.TaskResult{Error: fmt.Sprintf("planning failed after fast-path abandon: %v", perr)}
		}
		plan = fresh
	}

	if err := c.runSteps(ctx, run, &plan); err != nil {
		switch {
		case errors.Is(err, errTaskDone):
			// Concluded early by a Done action with no pending steps.
		case errors.Is(err, errBudgetExceeded):
			return schemas.TaskResult{Error: fmt.Sprintf("budget exceeded after %d actions", run.cycleCount())}
		default:
			return schemas.TaskResult{Error: err.Error()}
		}
	}

	if len(run.stuck) > 0 {
		names := make([]string, 0, len(run.stuck))
		for _, s := range run.stuck {
			names = append(names, s.step)
		}
		return schemas.TaskResult{
			Error: fmt.Sprintf("task incomplete, stuck on step(s): %s", strings.Join(names, "; ")),
		}
	}
	return schemas.TaskResult{Success: true}
}

// seedPlan consults long-term memory first; a remembered sequence with enough
// successes becomes a fast-path plan, anything else goes to the oracle.
func (c *Controller) seedPlan(ctx context.Context, run *taskRun, obs schemas.Observation) (schemas.StrategicPlan, bool) {
	if rec, ok := c.ltm.Lookup(run.task.Description); ok && rec.SuccessCount >= c.cfg.FastPathMinSuccess {
		return c.planner.FastPath(run.task, rec.Sequence), true
	}

	plan, err := c.planner.Strategic(ctx, run.task, obs, "")
	if err != nil {
		// Strategic planning is fatal only after its simplified retry; by
		// the time we are here both attempts failed. Degrade to a single
		// step so the OODA loop can still try the task head-on.
		c.logger.Warn("Strategic planning failed, degrading to a single-step plan", zap.Error(err))
		plan = schemas.StrategicPlan{
			Goal:  run.task.Description,
			Steps: []schemas.PlanStep{{Description: run.task.Description}},
		}
	}
	return plan, false
}

// replay drives a fast-path plan: each remembered action is forced through
// one OODA cycle in order. The first failed cycle abandons the replay.
func (c *Controller) replay(ctx context.Context, run *taskRun, plan schemas.StrategicPlan) bool {
	for i := range plan.Replay {
		if !run.tryConsumeCycle() {
			return false
		}
		forced := plan.Replay[i]
		outcome, err := c.executor.Execute(ctx, StepRequest{
			Task:   run.task,
			Step:   "replay remembered action sequence",
			Forced: &forced,
			Mode:   "replay",
		})
		if err != nil {
			c.logger.Warn("Replay cycle failed", zap.Error(err))
			return false
		}
		run.record(outcome)
		c.learnFromOutcome(ctx, run, outcome)
		if !outcome.Succeeded() && !outcome.Unverified {
			return false
		}
	}
	c.ltm.Touch(ctx, run.task.Description)
	return true
}

// runSteps walks the strategic plan, batching runs of independent steps and
// regenerating the unexecuted suffix when reflection demands it. Completed
// steps are never re-planned.
func (c *Controller) runSteps(ctx context.Context, run *taskRun, plan *schemas.StrategicPlan) error {
	for i := 0; i < len(plan.Steps); i++ {
		if batch := independentRun(plan.Steps, i); len(batch) > 1 && c.cfg.ParallelBatches {
			if err := c.runBatch(ctx, run, batch); err != nil {
				return err
			}
			i += len(batch) - 1
			continue
		}

		err := c.runStep(ctx, run, plan.Steps[i], i == len(plan.Steps)-1)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errTaskDone):
			if i == len(plan.Steps)-1 {
				return nil
			}
			// Done with steps still pending is advisory; keep going.
			continue
		default:
			var replan *replanSignal
			if errors.As(err, &replan) {
				rest, rerr := c.replanSuffix(ctx, run, plan, i, replan.rootCause)
				if rerr != nil {
					return rerr
				}
				plan.Steps = append(plan.Steps[:i], rest...)
				i-- // re-enter the loop at the first regenerated step
				continue
			}
			var stuck *stuckStepError
			if errors.As(err, &stuck) {
				run.mu.Lock()
				run.stuck = append(run.stuck, stuck)
				run.mu.Unlock()
				continue // advance past the stuck step
			}
			return err
		}
	}
	return nil
}

// runBatch dispatches order-independent steps concurrently. A failure in one
// does not cancel siblings; all must finish before the controller advances.
func (c *Controller) runBatch(ctx context.Context, run *taskRun, batch []schemas.PlanStep) error {
	c.mu.Lock()
	c.batches++
	c.mu.Unlock()
	c.logger.Info("Dispatching independent step batch", zap.Int("size", len(batch)))

	var g errgroup.Group
	results := make([]error, len(batch))
	for i := range batch {
		step := batch[i]
		idx := i
		g.Go(func() error {
			results[idx] = c.runStep(ctx, run, step, false)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range results {
		if err == nil || errors.Is(err, errTaskDone) {
			continue
		}
		var stuck *stuckStepError
		if errors.As(err, &stuck) {
			run.mu.Lock()
			run.stuck = append(run.stuck, stuck)
			run.mu.Unlock()
			continue
		}
		// Budget and replan signals from a batch stop the whole task walk;
		// replanning mid-batch is not meaningful.
		if errors.Is(err, errBudgetExceeded) {
			return errBudgetExceeded
		}
		var replan *replanSignal
		if errors.As(err, &replan) {
			continue
		}
		return err
	}
	return nil
}

// runStep decomposes a step into tactical intents and drives them in order.
func (c *Controller) runStep(ctx context.Context, run *taskRun, step schemas.PlanStep, final bool) error {
	obs, err := c.observe(ctx)
	if err != nil {
		return fmt.Errorf("screen capture failed entering step %q: %w", step.Description, err)
	}

	tactical := c.planner.Tactical(ctx, run.task, step, obs)
	c.logger.Debug("Tactical plan ready",
		zap.String("step", step.Description),
		zap.Int("intents", len(tactical.Intents)))

	for _, intent := range tactical.Intents {
		if err := c.runIntent(ctx, run, step, intent); err != nil {
			return err
		}
	}

	if final {
		return c.confirmDone(ctx, run, step)
	}
	return nil
}

// runIntent drives OODA cycles for one intent: the first attempt plus a
// bounded number of corrective retries. Verification corrections and
// reflection substitutions are forced into subsequent cycles.
func (c *Controller) runIntent(ctx context.Context, run *taskRun, step schemas.PlanStep, intent schemas.Intent) error {
	attempts := 1 + c.cfg.IntentRetries
	var lastIssue string

	hint := c.longTermHint(run.task.Description)
	uiHints := c.uiHints(run.app())

	for attempt := 0; attempt < attempts; attempt++ {
		if !run.tryConsumeCycle() {
			return errBudgetExceeded
		}

		forced := run.takeForced()
		// A corrective wait only buys settle time; it can never satisfy the
		// intent on its own.
		neutralCycle := forced != nil && forced.Kind == schemas.ActionWait

		req := StepRequest{
			Task:         run.task,
			Step:         step.Description,
			Intent:       intent,
			Forced:       forced,
			LongTermHint: hint,
			UIHints:      uiHints,
		}
		outcome, err := c.executor.Execute(ctx, req)
		if err != nil {
			// Only capture failures surface here; the executor already
			// retried once, so this is fatal to the task.
			return fmt.Errorf("cycle failed on step %q: %w", step.Description, err)
		}
		run.record(outcome)
		c.learnFromOutcome(ctx, run, outcome)

		if outcome.Action.Kind == schemas.ActionDone {
			return errTaskDone
		}

		if rerr := c.maybeReflect(run); rerr != nil {
			return rerr
		}

		if (outcome.Succeeded() || outcome.Unverified) && !neutralCycle {
			return nil
		}
		if neutralCycle {
			continue
		}

		lastIssue = outcome.Issue
		if lastIssue == "" {
			lastIssue = "action did not execute"
		}
		if outcome.Correction != nil && attempt < attempts-1 {
			run.setForced(outcome.Correction)
			c.logger.Debug("Applying corrective retry",
				zap.String("intent", intent.Description),
				zap.String("issue", lastIssue),
				zap.String("correction", outcome.Correction.String()))
		}
	}

	c.logger.Warn("Intent failed after corrective retries",
		zap.String("step", step.Description),
		zap.String("intent", intent.Description),
		zap.String("issue", lastIssue))
	return &stuckStepError{step: step.Description, issue: lastIssue}
}

// confirmDone runs trailing cycles on the final step until the oracle
// concludes with Done. Bounded by the same global budgets plus a small local
// cap so a chatty oracle cannot spin here.
func (c *Controller) confirmDone(ctx context.Context, run *taskRun, step schemas.PlanStep) error {
	const confirmCap = 3
	for i := 0; i < confirmCap; i++ {
		if !run.tryConsumeCycle() {
			return errBudgetExceeded
		}
		outcome, err := c.executor.Execute(ctx, StepRequest{
			Task:   run.task,
			Step:   step.Description,
			Intent: schemas.Intent{Description: "confirm the task goal is met", ExpectedKind: schemas.ActionDone},
			Mode:   "confirm",
		})
		if err != nil {
			return fmt.Errorf("cycle failed on step %q: %w", step.Description, err)
		}
		run.record(outcome)
		c.learnFromOutcome(ctx, run, outcome)
		if outcome.Action.Kind == schemas.ActionDone {
			return nil
		}
		if rerr := c.maybeReflect(run); rerr != nil {
			return rerr
		}
	}
	// The oracle kept proposing work; treat the done condition as unmet.
	return &stuckStepError{step: step.Description, issue: "done condition never confirmed"}
}

// maybeReflect runs the reflector on the fixed cycle cadence. A stuck
// verdict substitutes the suggested strategy into the next cycle; forceReplan
// additionally unwinds to the step loop.
func (c *Controller) maybeReflect(run *taskRun) error {
	if run.cycleCount()%c.cfg.ReflectionInterval != 0 {
		return nil
	}
	verdict := c.reflector.Reflect(c.stm.RecentWindow(0))
	if !verdict.IsStuck {
		return nil
	}

	c.mu.Lock()
	c.reflections++
	c.mu.Unlock()

	if verdict.SuggestedStrategy != nil {
		run.setForced(verdict.SuggestedStrategy)
	}
	if verdict.ForceReplan {
		return &replanSignal{rootCause: verdict.RootCause}
	}
	return nil
}

// replanSuffix asks the oracle for a fresh plan covering only the unmet
// portion of the task. Completed steps stay untouched.
func (c *Controller) replanSuffix(ctx context.Context, run *taskRun, plan *schemas.StrategicPlan, from int, rootCause string) ([]schemas.PlanStep, error) {
	c.mu.Lock()
	c.replans++
	c.mu.Unlock()
	c.logger.Info("Replanning unexecuted plan suffix",
		zap.Int("from_step", from),
		zap.String("root_cause", rootCause))

	obs, err := c.observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed during replan: %w", err)
	}

	summary := c.progressSummary(run)
	if rootCause != "" {
		summary = fmt.Sprintf("%s; previous approach failed (%s)", summary, rootCause)
	}
	fresh, perr := c.planner.Strategic(ctx, run.task, obs, summary)
	if perr != nil {
		// Both planning attempts failed mid-task; keep the old suffix
		// rather than aborting, the retry machinery may still get through.
		c.logger.Warn("Suffix replan failed, keeping the existing plan", zap.Error(perr))
		return append([]schemas.PlanStep(nil), plan.Steps[from:]...), nil
	}
	return fresh.Steps, nil
}

// promote records the realized successful action sequence in long-term
// memory. Waits and bookkeeping kinds are filtered out so replays carry only
// the moves that made progress.
func (c *Controller) promote(ctx context.Context, run *taskRun, duration time.Duration) {
	run.mu.Lock()
	sequence := make([]schemas.Action, 0, len(run.outcomes))
	for _, o := range run.outcomes {
		if !o.Succeeded() {
			continue
		}
		switch o.Action.Kind {
		case schemas.ActionWait, schemas.ActionExplore, schemas.ActionVerify, schemas.ActionDone:
			continue
		}
		sequence = append(sequence, o.Action)
	}
	run.mu.Unlock()

	if len(sequence) == 0 {
		return
	}
	if err := c.ltm.Promote(ctx, run.task.Description, sequence, duration); err != nil {
		c.logger.Warn("Long-term promotion failed", zap.Error(err))
	}
}

// longTermHint surfaces a remembered sequence for prompt context even when
// it is not trusted enough to replay.
func (c *Controller) longTermHint(task string) []schemas.Action {
	if rec, ok := c.ltm.Lookup(task); ok {
		return rec.Sequence
	}
	return nil
}

// learnFromOutcome feeds verified outcomes back into the UI-pattern memory:
// a successful open-app switches the active application and a successful
// pointer action with a named target records its location.
func (c *Controller) learnFromOutcome(ctx context.Context, run *taskRun, outcome schemas.ActionOutcome) {
	if !outcome.Succeeded() {
		return
	}
	if outcome.Action.Kind == schemas.ActionOpenApp {
		run.setApp(outcome.Action.App)
		return
	}
	if outcome.Action.Target == "" || !outcome.Action.IsPointer() {
		return
	}
	if err := c.ltm.RecordUIPattern(ctx, run.app(), outcome.Action.Target, outcome.Action.X, outcome.Action.Y); err != nil {
		c.logger.Debug("UI pattern not persisted", zap.Error(err))
	}
}

// uiHints formats the remembered element locations for the active app into
// prompt lines.
func (c *Controller) uiHints(app string) []string {
	hints := c.ltm.AppHints(app, 5)
	if len(hints) == 0 {
		return nil
	}
	lines := make([]string, 0, len(hints))
	for _, h := range hints {
		lines = append(lines, fmt.Sprintf("%s at (%d, %d)", h.Element, h.X, h.Y))
	}
	return lines
}

func (c *Controller) progressSummary(run *taskRun) string {
	run.mu.Lock()
	defer run.mu.Unlock()
	var succeeded int
	for _, o := range run.outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}
	return fmt.Sprintf("%d of %d actions so far succeeded", succeeded, len(run.outcomes))
}

// observe captures the current screen, retrying once.
func (c *Controller) observe(ctx context.Context) (schemas.Observation, error) {
	obs, err := c.capturer.Capture(ctx)
	if err == nil {
		return obs, nil
	}
	c.logger.Warn("Screen capture failed, retrying once", zap.Error(err))
	obs, err = c.capturer.Capture(ctx)
	if err != nil {
		return schemas.Observation{}, err
	}
	return obs, nil
}

// Stats reports the run-time counters exposed to callers.
func (c *Controller) Stats() schemas.AgentStats {
	oracleMs, actuatorMs := c.executor.Latencies()
	c.mu.Lock()
	defer c.mu.Unlock()
	return schemas.AgentStats{
		ShortTermSuccessRate: c.stm.SuccessRate(),
		LongTermEntryCount:   c.ltm.Len(),
		AvgOracleLatencyMs:   oracleMs,
		AvgActuatorLatencyMs: actuatorMs,
		Reflections:          c.reflections,
		Replans:              c.replans,
		ParallelBatches:      c.batches,
	}
}

// independentRun returns the maximal run of consecutive independent steps
// starting at i, or nil when the step at i is ordered.
func independentRun(steps []schemas.PlanStep, i int) []schemas.PlanStep {
	if !steps[i].Independent {
		return nil
	}
	j := i
	for j < len(steps) && steps[j].Independent {
		j++
	}
	return steps[i:j]
}

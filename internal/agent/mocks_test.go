// internal/agent/mocks_test.go
package agent_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/agent"
	"github.com/tarvos-labs/deskpilot/internal/config"
	"github.com/tarvos-labs/deskpilot/internal/memory"
)

// scriptedOracle serves queued action proposals in order and answers plan
// requests through a configurable function. Safe for concurrent use so batch
// dispatch tests can share one instance.
type scriptedOracle struct {
	mu          sync.Mutex
	queue       []schemas.Action
	repeatLast  bool
	last        schemas.Action
	actionCalls int
	bundles     []schemas.ContextBundle
	planFn      func(req schemas.PlanRequest) (schemas.PlanProposal, error)
	planReqs    []schemas.PlanRequest
	extractFn   func(query string) (string, error)
}

func (o *scriptedOracle) ProposeAction(_ context.Context, _ schemas.Observation, bundle schemas.ContextBundle) (schemas.Proposal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actionCalls++
	o.bundles = append(o.bundles, bundle)
	if len(o.queue) == 0 {
		if o.repeatLast && o.last.Kind != "" {
			return schemas.Proposal{Action: o.last, Confidence: 0.9}, nil
		}
		return schemas.Proposal{}, &schemas.OracleError{
			Reason: schemas.OracleMalformedResponse,
			Err:    fmt.Errorf("action script exhausted after %d calls", o.actionCalls),
		}
	}
	o.last = o.queue[0]
	o.queue = o.queue[1:]
	return schemas.Proposal{Action: o.last, Confidence: 0.9}, nil
}

func (o *scriptedOracle) ProposePlan(_ context.Context, _ schemas.Observation, req schemas.PlanRequest) (schemas.PlanProposal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.planReqs = append(o.planReqs, req)
	if o.planFn != nil {
		return o.planFn(req)
	}
	// Default decomposition: the task (or the tactical scope) becomes one step.
	desc := req.Task
	if req.Scope != "" {
		desc = req.Scope
	}
	return schemas.PlanProposal{
		Steps:      []schemas.PlanStep{{Description: desc}},
		Confidence: 0.8,
	}, nil
}

func (o *scriptedOracle) Extract(_ context.Context, _ schemas.Observation, query string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.extractFn != nil {
		return o.extractFn(query)
	}
	return "", &schemas.OracleError{Reason: schemas.OracleMalformedResponse, Err: fmt.Errorf("no extract script")}
}

func (o *scriptedOracle) planCallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.planReqs)
}

func (o *scriptedOracle) actionCallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.actionCalls
}

func (o *scriptedOracle) lastBundle() schemas.ContextBundle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.bundles) == 0 {
		return schemas.ContextBundle{}
	}
	return o.bundles[len(o.bundles)-1]
}

// fakeActuator records every executed action; executeFn overrides the default
// always-succeeds behavior.
type fakeActuator struct {
	mu        sync.Mutex
	executed  []schemas.Action
	executeFn func(a schemas.Action) (schemas.ExecResult, error)
}

func (f *fakeActuator) Execute(_ context.Context, action schemas.Action) (schemas.ExecResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, action)
	fn := f.executeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(action)
	}
	return schemas.ExecResult{RawSuccess: true}, nil
}

func (f *fakeActuator) Bounds() (int, int) { return 1920, 1080 }

func (f *fakeActuator) executedActions() []schemas.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.Action(nil), f.executed...)
}

// fakeCapturer serves synthetic frames. In frozen mode every capture returns
// byte-identical content so no observation delta is ever visible; otherwise
// each capture produces a distinct frame. failBudget leading calls error out;
// failAfter > 0 makes every call beyond the first failAfter fail instead.
type fakeCapturer struct {
	mu         sync.Mutex
	frozen     bool
	frame      int
	calls      int
	failBudget int
	failAfter  int
}

func (f *fakeCapturer) Capture(_ context.Context) (schemas.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failBudget > 0 {
		f.failBudget--
		return schemas.Observation{}, &schemas.CaptureError{
			Reason: schemas.CaptureDisplayUnavailable,
			Err:    fmt.Errorf("display gone"),
		}
	}
	if f.failAfter > 0 && f.calls > f.failAfter {
		return schemas.Observation{}, &schemas.CaptureError{
			Reason: schemas.CaptureDisplayUnavailable,
			Err:    fmt.Errorf("display gone"),
		}
	}
	if !f.frozen {
		f.frame++
	}
	return schemas.NewObservation([]byte(fmt.Sprintf("frame-%06d", f.frame)), 1920, 1080), nil
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxIterations:      40,
		TaskTimeout:        time.Minute,
		IntentRetries:      2,
		ReflectionInterval: 3,
		SettleTime:         time.Millisecond,
		ShortTermCapacity:  20,
		CoordTolerancePx:   8,
		ContextLookback:    5,
		FastPathMinSuccess: 2,
		ParallelBatches:    true,
	}
}

// coreHarness wires a full decision core over the fakes, backed by a
// throwaway file store for long-term memory.
type coreHarness struct {
	oracle   *scriptedOracle
	actuator *fakeActuator
	capturer *fakeCapturer
	stm      *memory.ShortTermMemory
	ltm      *memory.LongTermMemory
	executor *agent.StepExecutor
	ctrl     *agent.Controller
}

func newHarness(t *testing.T, cfg config.AgentConfig, oracle *scriptedOracle, actuator *fakeActuator, capturer *fakeCapturer) *coreHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	stm := memory.NewShortTermMemory(cfg.ShortTermCapacity, logger)
	store := memory.NewFileStore(filepath.Join(t.TempDir(), "workflow_memory.json"), logger)
	ltm := memory.NewLongTermMemory(context.Background(), store, logger)

	verifier := agent.NewVerifier(int(cfg.SettleTime/time.Millisecond), logger)
	executor := agent.NewStepExecutor(cfg, time.Second, oracle, actuator, capturer, stm, verifier, logger)
	reflector := agent.NewReflector(cfg.CoordTolerancePx, logger)
	planner := agent.NewPlanner(oracle, logger)
	ctrl := agent.NewController(cfg, planner, executor, reflector, stm, ltm, capturer, logger)

	return &coreHarness{
		oracle:   oracle,
		actuator: actuator,
		capturer: capturer,
		stm:      stm,
		ltm:      ltm,
		executor: executor,
		ctrl:     ctrl,
	}
}

func clickAt(x, y int) schemas.Action {
	return schemas.Action{Kind: schemas.ActionClick, X: x, Y: y}
}

func typeText(text string) schemas.Action {
	return schemas.Action{Kind: schemas.ActionTypeText, Text: text}
}

func doneAction() schemas.Action {
	return schemas.Action{Kind: schemas.ActionDone, Reason: "goal met"}
}

// internal/workflow/engine_test.go
package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/config"
)

// stubRunner answers RunTask from a per-description script and records the
// interpolated descriptions it received.
type stubRunner struct {
	results map[string]schemas.TaskResult
	ran     []string
}

func (s *stubRunner) RunTask(_ context.Context, description string, _ int, _ float64) schemas.TaskResult {
	s.ran = append(s.ran, description)
	if r, ok := s.results[description]; ok {
		return r
	}
	return schemas.TaskResult{Success: true, Task: description}
}

type stubExtractor struct {
	values  map[string]string
	queries []string
}

func (s *stubExtractor) Extract(_ context.Context, _ schemas.Observation, query string) (string, error) {
	s.queries = append(s.queries, query)
	if v, ok := s.values[query]; ok {
		return v, nil
	}
	return "", fmt.Errorf("value for %q not visible", query)
}

type stubCapturer struct{ fail bool }

func (s *stubCapturer) Capture(context.Context) (schemas.Observation, error) {
	if s.fail {
		return schemas.Observation{}, &schemas.CaptureError{
			Reason: schemas.CaptureDisplayUnavailable,
			Err:    fmt.Errorf("no display"),
		}
	}
	return schemas.NewObservation([]byte("frame"), 1920, 1080), nil
}

func testEngine(t *testing.T, cfg config.WorkflowConfig, runner *stubRunner, extractor *stubExtractor) *Engine {
	t.Helper()
	return NewEngine(cfg, runner, extractor, &stubCapturer{}, zaptest.NewLogger(t))
}

func TestEngineRunsTaskExtractAndPause(t *testing.T) {
	runner := &stubRunner{}
	extractor := &stubExtractor{values: map[string]string{"unread message count": "7"}}
	engine := testEngine(t, config.WorkflowConfig{DefaultTimeout: time.Minute}, runner, extractor)

	tpl := &Template{
		Name:      "triage",
		Variables: map[string]string{"mailbox": "inbox"},
		Steps: []Step{
			{Name: "open", Type: StepTask, Task: "open the {mailbox} folder"},
			{Name: "count", Type: StepExtract, Query: "unread message count", SaveAs: "unread"},
			{Name: "report", Type: StepTask, Task: "note that there are {unread} unread messages"},
			{Name: "settle", Type: StepPause, Duration: time.Millisecond},
		},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.True(t, result.Success)
	require.Len(t, result.Steps, 4)
	for _, s := range result.Steps {
		assert.True(t, s.Success, "step %s", s.Name)
	}
	// Extracted values flow into later task descriptions.
	require.Len(t, runner.ran, 2)
	assert.Equal(t, "open the inbox folder", runner.ran[0])
	assert.Equal(t, "note that there are 7 unread messages", runner.ran[1])
	assert.Equal(t, "7", result.Variables["unread"])
}

func TestEngineExtraVarsOverrideTemplateVars(t *testing.T) {
	runner := &stubRunner{}
	engine := testEngine(t, config.WorkflowConfig{}, runner, &stubExtractor{})

	tpl := &Template{
		Name:      "w",
		Variables: map[string]string{"city": "Berlin"},
		Steps:     []Step{{Name: "s", Type: StepTask, Task: "search hotels in {city}"}},
	}
	result := engine.Run(context.Background(), tpl, map[string]string{"city": "Oslo"})

	assert.True(t, result.Success)
	require.Len(t, runner.ran, 1)
	assert.Equal(t, "search hotels in Oslo", runner.ran[0])
}

func TestEngineAbortsOnRequiredStepFailure(t *testing.T) {
	runner := &stubRunner{results: map[string]schemas.TaskResult{
		"fail here": {Success: false, Error: "budget exceeded after 5 actions"},
	}}
	engine := testEngine(t, config.WorkflowConfig{}, runner, &stubExtractor{})

	tpl := &Template{
		Name: "w",
		Steps: []Step{
			{Name: "first", Type: StepTask, Task: "fail here"},
			{Name: "never", Type: StepTask, Task: "must not run"},
		},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.False(t, result.Success)
	require.Len(t, result.Steps, 1, "the workflow stops at the failed step")
	assert.Contains(t, result.Steps[0].Error, "budget exceeded")
	assert.NotContains(t, runner.ran, "must not run")
}

func TestEngineOptionalStepFailureContinues(t *testing.T) {
	runner := &stubRunner{results: map[string]schemas.TaskResult{
		"flaky": {Success: false, Error: "stuck"},
	}}
	engine := testEngine(t, config.WorkflowConfig{}, runner, &stubExtractor{})

	tpl := &Template{
		Name: "w",
		Steps: []Step{
			{Name: "flaky", Type: StepTask, Task: "flaky", Optional: true},
			{Name: "rest", Type: StepTask, Task: "keep going"},
		},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.True(t, result.Success, "optional failures do not fail the workflow")
	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[0].Success)
	assert.True(t, result.Steps[1].Success)
}

func TestEngineContinueOnErrorRunsEverythingButFails(t *testing.T) {
	runner := &stubRunner{results: map[string]schemas.TaskResult{
		"broken": {Success: false, Error: "stuck"},
	}}
	engine := testEngine(t, config.WorkflowConfig{ContinueOnError: true}, runner, &stubExtractor{})

	tpl := &Template{
		Name: "w",
		Steps: []Step{
			{Name: "broken", Type: StepTask, Task: "broken"},
			{Name: "rest", Type: StepTask, Task: "keep going"},
		},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.False(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.Contains(t, runner.ran, "keep going")
}

func TestEngineRetriesFailedSteps(t *testing.T) {
	extractor := &stubExtractor{} // always fails
	engine := testEngine(t, config.WorkflowConfig{DefaultRetries: 2}, &stubRunner{}, extractor)

	tpl := &Template{
		Name:  "w",
		Steps: []Step{{Name: "read", Type: StepExtract, Query: "missing value", SaveAs: "v"}},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.False(t, result.Success)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, 3, result.Steps[0].Attempts, "initial attempt plus the configured retries")
	assert.Len(t, extractor.queries, 3)
}

func TestEngineStepRetriesOverrideDefault(t *testing.T) {
	extractor := &stubExtractor{}
	engine := testEngine(t, config.WorkflowConfig{DefaultRetries: 5}, &stubRunner{}, extractor)

	tpl := &Template{
		Name:  "w",
		Steps: []Step{{Name: "read", Type: StepExtract, Query: "missing", SaveAs: "v", Retries: 1}},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Steps[0].Attempts)
}

func TestEngineExtractCaptureFailure(t *testing.T) {
	engine := NewEngine(config.WorkflowConfig{}, &stubRunner{}, &stubExtractor{}, &stubCapturer{fail: true}, zaptest.NewLogger(t))

	tpl := &Template{
		Name:  "w",
		Steps: []Step{{Name: "read", Type: StepExtract, Query: "q", SaveAs: "v"}},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Steps[0].Error, "capture failed")
}

func TestEngineHonorsContextCancellation(t *testing.T) {
	runner := &stubRunner{}
	engine := testEngine(t, config.WorkflowConfig{}, runner, &stubExtractor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tpl := &Template{
		Name:  "w",
		Steps: []Step{{Name: "s", Type: StepTask, Task: "anything"}},
	}
	result := engine.Run(ctx, tpl, nil)

	assert.False(t, result.Success)
	assert.Empty(t, result.Steps, "no step starts on a dead context")
}

func TestEngineTaskSaveAsRecordsOutcome(t *testing.T) {
	runner := &stubRunner{}
	engine := testEngine(t, config.WorkflowConfig{}, runner, &stubExtractor{})

	tpl := &Template{
		Name: "w",
		Steps: []Step{
			{Name: "s", Type: StepTask, Task: "do it", SaveAs: "outcome"},
		},
	}
	result := engine.Run(context.Background(), tpl, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Variables["outcome"])
}

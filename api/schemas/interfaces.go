// api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// ContextBundle is the textual context the step executor assembles for the
// oracle on every cycle: the task, the current planning scope, and the
// recent memory window.
type ContextBundle struct {
	Task         string          `json:"task"`
	Step         string          `json:"step,omitempty"`
	Intent       string          `json:"intent,omitempty"`
	ExpectedKind ActionKind      `json:"expected_kind,omitempty"`
	Recent       []ActionOutcome `json:"recent,omitempty"`
	// LongTermHint carries the replay sequence of a similar remembered
	// task, if any, so the oracle can bias toward a known-good path.
	LongTermHint []Action `json:"long_term_hint,omitempty"`
	// UIHints lists remembered element locations for the active
	// application, formatted for prompt inclusion.
	UIHints []string `json:"ui_hints,omitempty"`
	SuccessRate  float64  `json:"success_rate"`
	// Mode distinguishes normal decision cycles from exploration prompts
	// issued when the agent is stuck.
	Mode string `json:"mode,omitempty"`
}

// Proposal is the oracle's answer to a decision request: exactly one action
// plus an optional ranked batch of alternates for independent intents.
type Proposal struct {
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale,omitempty"`
	Alternates []Action `json:"alternates,omitempty"`
}

// PlanRequest asks the oracle for a strategic or tactical decomposition.
type PlanRequest struct {
	Task     string `json:"task"`
	Scope    string `json:"scope,omitempty"` // step description for tactical plans
	MinSteps int    `json:"min_steps"`
	MaxSteps int    `json:"max_steps"`
	// Simplified marks the one retry issued after a PlanningError.
	Simplified    bool   `json:"simplified,omitempty"`
	RecentSummary string `json:"recent_summary,omitempty"`
}

// PlanProposal is the oracle's decomposition answer.
type PlanProposal struct {
	Steps            []PlanStep `json:"steps"`
	Confidence       float64    `json:"confidence,omitempty"`
	EstimatedActions int        `json:"estimated_actions,omitempty"`
}

// Oracle is the vision-inference backend. One implementation per vendor;
// the decision core never branches on backend identity.
type Oracle interface {
	// ProposeAction returns the next interaction for the given observation
	// and context. Failures are reported as *OracleError.
	ProposeAction(ctx context.Context, obs Observation, bundle ContextBundle) (Proposal, error)
	// ProposePlan returns a strategic or tactical decomposition.
	ProposePlan(ctx context.Context, obs Observation, req PlanRequest) (PlanProposal, error)
	// Extract reads a named datum off the current observation, used by
	// workflow extract steps.
	Extract(ctx context.Context, obs Observation, query string) (string, error)
}

// ExecResult is the actuator's raw report for one executed action.
type ExecResult struct {
	RawSuccess bool
	Latency    time.Duration
}

// Actuator turns an abstract action into real input events. Failures are
// reported as *ActuatorError and absorbed by the step executor.
type Actuator interface {
	Execute(ctx context.Context, action Action) (ExecResult, error)
	// Bounds reports the display dimensions used for coordinate validation.
	Bounds() (width, height int)
}

// Capturer produces a raw observation of current display state. Failures
// are reported as *CaptureError.
type Capturer interface {
	Capture(ctx context.Context) (Observation, error)
}

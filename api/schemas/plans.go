// api/schemas/plans.go
package schemas

import "time"

// Task is the immutable goal handed to the controller. It is created at
// invocation, read-only thereafter, and owned by the controller for the
// duration of the run.
type Task struct {
	ID            string        `json:"id"`
	Description   string        `json:"description"`
	MaxIterations int           `json:"max_iterations"`
	Timeout       time.Duration `json:"timeout"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PlanStep is one strategic sub-goal. DoneCondition describes the display
// state that marks the step complete. Independent flags a step whose
// tactical intents are order-free and may be dispatched as a batch.
type PlanStep struct {
	Description   string `json:"description"`
	DoneCondition string `json:"done_condition,omitempty"`
	Independent   bool   `json:"independent,omitempty"`
}

// StrategicPlan is the ordered task-level decomposition, created once per
// task and regenerated suffix-first on replanning.
type StrategicPlan struct {
	Goal             string     `json:"goal"`
	Steps            []PlanStep `json:"steps"`
	Confidence       float64    `json:"confidence,omitempty"`
	EstimatedActions int        `json:"estimated_actions,omitempty"`
	// FastPath marks a plan seeded from long-term memory; its steps carry
	// concrete replay actions instead of requiring tactical decomposition.
	FastPath bool     `json:"fast_path,omitempty"`
	Replay   []Action `json:"replay,omitempty"`
}

// Intent is one tactical sub-task within a step, scoped to a small number
// of concrete actions of the expected kind.
type Intent struct {
	Description  string     `json:"description"`
	ExpectedKind ActionKind `json:"expected_kind,omitempty"`
}

// TacticalPlan decomposes one PlanStep into ordered intents. It is created
// lazily when the step becomes current and discarded when the step ends.
type TacticalPlan struct {
	StepDescription string   `json:"step_description"`
	Intents         []Intent `json:"intents"`
	Confidence      float64  `json:"confidence,omitempty"`
}

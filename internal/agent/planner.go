// internal/agent/planner.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// Strategic plans target 3-7 steps, tactical plans 2-5 intents.
const (
	strategicMinSteps = 3
	strategicMaxSteps = 7
	tacticalMinSteps  = 2
	tacticalMaxSteps  = 5
)

// Planner produces the two upper planning granularities by querying the
// oracle. A PlanningError earns exactly one retry with a simplified prompt;
// a second strategic failure is fatal to the task, while a second tactical
// failure degrades to a single intent covering the whole step.
type Planner struct {
	logger *zap.Logger
	oracle schemas.Oracle
}

// NewPlanner wires a planner over the given oracle.
func NewPlanner(oracle schemas.Oracle, logger *zap.Logger) *Planner {
	return &Planner{
		logger: logger.Named("planner"),
		oracle: oracle,
	}
}

// Strategic decomposes the task into an ordered list of sub-goals.
// recentSummary carries progress context on replans so the oracle plans only
// the unmet portion of the task.
func (p *Planner) Strategic(ctx context.Context, task schemas.Task, obs schemas.Observation, recentSummary string) (schemas.StrategicPlan, error) {
	req := schemas.PlanRequest{
		Task:          task.Description,
		MinSteps:      strategicMinSteps,
		MaxSteps:      strategicMaxSteps,
		RecentSummary: recentSummary,
	}

	proposal, err := p.proposeWithRetry(ctx, obs, req, "strategic")
	if err != nil {
		return schemas.StrategicPlan{}, err
	}

	plan := schemas.StrategicPlan{
		Goal:             task.Description,
		Steps:            proposal.Steps,
		Confidence:       proposal.Confidence,
		EstimatedActions: proposal.EstimatedActions,
	}
	p.logger.Info("Strategic plan created",
		zap.String("task", task.Description),
		zap.Int("steps", len(plan.Steps)),
		zap.Float64("confidence", plan.Confidence))
	return plan, nil
}

// Tactical decomposes one strategic step into concrete intents. Unlike the
// strategic phase it never fails the task: when the oracle cannot decompose
// the step even with a simplified prompt, the step itself becomes the single
// intent.
func (p *Planner) Tactical(ctx context.Context, task schemas.Task, step schemas.PlanStep, obs schemas.Observation) schemas.TacticalPlan {
	req := schemas.PlanRequest{
		Task:     task.Description,
		Scope:    step.Description,
		MinSteps: tacticalMinSteps,
		MaxSteps: tacticalMaxSteps,
	}

	proposal, err := p.proposeWithRetry(ctx, obs, req, "tactical")
	if err != nil {
		p.logger.Warn("Tactical decomposition failed, treating the step as one intent",
			zap.String("step", step.Description),
			zap.Error(err))
		return schemas.TacticalPlan{
			StepDescription: step.Description,
			Intents:         []schemas.Intent{{Description: step.Description}},
		}
	}

	intents := make([]schemas.Intent, 0, len(proposal.Steps))
	for _, s := range proposal.Steps {
		intents = append(intents, schemas.Intent{Description: s.Description})
	}
	return schemas.TacticalPlan{
		StepDescription: step.Description,
		Intents:         intents,
		Confidence:      proposal.Confidence,
	}
}

// FastPath seeds a plan from a remembered action sequence: one replay step
// carrying the concrete actions, so no tactical decomposition is needed.
func (p *Planner) FastPath(task schemas.Task, sequence []schemas.Action) schemas.StrategicPlan {
	p.logger.Info("Seeding fast-path plan from long-term memory",
		zap.String("task", task.Description),
		zap.Int("actions", len(sequence)))
	return schemas.StrategicPlan{
		Goal: task.Description,
		Steps: []schemas.PlanStep{{
			Description:   "replay remembered action sequence",
			DoneCondition: "all remembered actions executed and verified",
		}},
		FastPath: true,
		Replay:   append([]schemas.Action(nil), sequence...),
	}
}

// proposeWithRetry issues the plan request, retrying once with a simplified
// prompt on a PlanningError before giving up.
func (p *Planner) proposeWithRetry(ctx context.Context, obs schemas.Observation, req schemas.PlanRequest, phase string) (schemas.PlanProposal, error) {
	proposal, err := p.oracle.ProposePlan(ctx, obs, req)
	if err == nil {
		verr := validatePlan(proposal)
		if verr == nil {
			return proposal, nil
		}
		err = &schemas.PlanningError{Phase: phase, Err: verr}
	}

	var planErr *schemas.PlanningError
	if !errors.As(err, &planErr) {
		err = &schemas.PlanningError{Phase: phase, Err: err}
	}
	p.logger.Warn("Plan proposal failed, retrying with a simplified prompt",
		zap.String("phase", phase),
		zap.Error(err))

	req.Simplified = true
	proposal, retryErr := p.oracle.ProposePlan(ctx, obs, req)
	if retryErr != nil {
		return schemas.PlanProposal{}, &schemas.PlanningError{Phase: phase, Err: retryErr}
	}
	if verr := validatePlan(proposal); verr != nil {
		return schemas.PlanProposal{}, &schemas.PlanningError{Phase: phase, Err: verr}
	}
	return proposal, nil
}

func validatePlan(proposal schemas.PlanProposal) error {
	if len(proposal.Steps) == 0 {
		return fmt.Errorf("empty plan")
	}
	for i, s := range proposal.Steps {
		if strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("step %d has an empty description", i)
		}
	}
	return nil
}

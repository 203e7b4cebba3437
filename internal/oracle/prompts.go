// internal/oracle/prompts.go
package oracle

import (
	"fmt"
	"strings"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// actionSystemPrompt instructs the vision model how to answer a decision
// request. The response contract is one JSON object per reply.
const actionSystemPrompt = `You are the decision engine of a desktop automation agent.
You receive a screenshot of the current display plus textual context and must
propose EXACTLY ONE next UI interaction.

Respond with a single JSON object and nothing else:
{
  "action": {
    "type": "click|double_click|right_click|drag|scroll|type|hotkey|wait|explore|verify|open_app|done",
    "x": 0, "y": 0,
    "to_x": 0, "to_y": 0,
    "text": "",
    "keys": [],
    "amount": 0,
    "duration_ms": 0,
    "app": "",
    "reason": "why this action",
    "expected_outcome": "what the screen should show afterwards"
  },
  "confidence": 0.0,
  "rationale": ""
}

Rules:
- Coordinates are absolute pixels within the screenshot.
- Use "done" only when the task goal is visibly complete.
- Use "wait" when the UI is still settling.
- Prefer keyboard input over pointer input when a focused field will accept it.`

// planSystemPrompt instructs the model how to decompose a goal.
const planSystemPrompt = `You are the planning engine of a desktop automation agent.
Decompose the given goal into an ordered list of sub-goals.

Respond with a single JSON object and nothing else:
{
  "steps": [
    {"description": "", "done_condition": "", "independent": false}
  ],
  "confidence": 0.0,
  "estimated_actions": 0
}

Rules:
- Each step must be a concrete, verifiable unit of progress.
- Set "independent": true only for steps whose order truly does not matter.
- "done_condition" describes the screen state that proves the step finished.`

// extractSystemPrompt instructs the model to read one datum off the screen.
const extractSystemPrompt = `You read information off a screenshot. Answer the
query with the literal value only, no commentary. If the value is not visible,
answer exactly: NOT_VISIBLE`

// buildActionPrompt renders the context bundle into the user prompt for a
// decision request.
func buildActionPrompt(bundle schemas.ContextBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n", bundle.Task)
	if bundle.Step != "" {
		fmt.Fprintf(&b, "CURRENT STEP: %s\n", bundle.Step)
	}
	if bundle.Intent != "" {
		fmt.Fprintf(&b, "CURRENT INTENT: %s\n", bundle.Intent)
	}
	if bundle.ExpectedKind != "" {
		fmt.Fprintf(&b, "EXPECTED ACTION KIND: %s\n", bundle.ExpectedKind)
	}
	if bundle.Mode != "" {
		fmt.Fprintf(&b, "MODE: %s\n", bundle.Mode)
	}
	if bundle.Mode == "explore" {
		b.WriteString("The current approach is stuck. Propose a creatively DIFFERENT action: " +
			"a new target, a different input modality, or an alternative path to the goal. " +
			"Do not repeat any of the recent actions.\n")
	}
	fmt.Fprintf(&b, "RECENT SUCCESS RATE: %.2f\n", bundle.SuccessRate)

	if len(bundle.Recent) > 0 {
		b.WriteString("\nRECENT ACTIONS (oldest first):\n")
		for _, o := range bundle.Recent {
			status := "failed"
			switch {
			case o.Succeeded():
				status = "ok"
			case o.Unverified:
				status = "unverified"
			case o.RawSuccess:
				status = "executed but not verified"
			}
			fmt.Fprintf(&b, "- %s -> %s", o.Action.String(), status)
			if o.Issue != "" {
				fmt.Fprintf(&b, " (%s)", o.Issue)
			}
			b.WriteString("\n")
		}
	}

	if len(bundle.UIHints) > 0 {
		b.WriteString("\nKNOWN ELEMENT LOCATIONS IN THIS APP:\n")
		for _, h := range bundle.UIHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	if len(bundle.LongTermHint) > 0 {
		b.WriteString("\nA SIMILAR TASK PREVIOUSLY SUCCEEDED WITH:\n")
		for _, a := range bundle.LongTermHint {
			fmt.Fprintf(&b, "- %s\n", a.String())
		}
	}

	b.WriteString("\nPropose the single next action as JSON.")
	return b.String()
}

// buildPlanPrompt renders a plan request. Simplified retries strip everything
// but the bare goal so a confused model gets the easiest possible ask.
func buildPlanPrompt(req schemas.PlanRequest) string {
	if req.Simplified {
		goal := req.Task
		if req.Scope != "" {
			goal = req.Scope
		}
		return fmt.Sprintf(
			"Break this goal into %d to %d simple ordered steps. Goal: %s\nAnswer as JSON.",
			req.MinSteps, req.MaxSteps, goal)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n", req.Task)
	if req.Scope != "" {
		fmt.Fprintf(&b, "PLAN ONLY THIS STEP OF THE TASK: %s\n", req.Scope)
	}
	fmt.Fprintf(&b, "TARGET: between %d and %d steps.\n", req.MinSteps, req.MaxSteps)
	if req.RecentSummary != "" {
		fmt.Fprintf(&b, "PROGRESS SO FAR: %s\nPlan only the remaining work.\n", req.RecentSummary)
	}
	b.WriteString("The screenshot shows the current display state. Answer as JSON.")
	return b.String()
}

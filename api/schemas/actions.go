// api/schemas/actions.go
package schemas

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind is an enumeration of every interaction the agent can perform
// against the display. It provides a structured vocabulary for the oracle's
// decisions and the actuator's capabilities.
type ActionKind string

const (
	// -- Pointer interaction --
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionRightClick  ActionKind = "right_click"
	ActionDrag        ActionKind = "drag"
	ActionScroll      ActionKind = "scroll"

	// -- Keyboard interaction --
	ActionTypeText ActionKind = "type"
	ActionHotkey   ActionKind = "hotkey"

	// -- Temporal / meta --
	ActionWait    ActionKind = "wait"
	ActionExplore ActionKind = "explore"
	ActionVerify  ActionKind = "verify"
	ActionOpenApp ActionKind = "open_app"

	// ActionDone signals the oracle judges the task complete.
	ActionDone ActionKind = "done"
)

// Action is a single concrete interaction proposed by the vision oracle and
// consumed by the actuator. It is a discriminated union: only the fields the
// Kind needs are populated, everything else stays at its zero value. An
// Action is immutable once proposed.
type Action struct {
	ID   string     `json:"id,omitempty"`
	Kind ActionKind `json:"type"`

	// Pointer target for click/drag actions, in display pixels.
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`
	// Drag destination.
	ToX int `json:"to_x,omitempty"`
	ToY int `json:"to_y,omitempty"`

	// Text to type for ActionTypeText.
	Text string `json:"text,omitempty"`
	// Key combination for ActionHotkey, e.g. ["ctrl", "t"].
	Keys []string `json:"keys,omitempty"`
	// Scroll delta (negative scrolls down) for ActionScroll.
	Amount int `json:"amount,omitempty"`
	// Wait duration for ActionWait.
	DurationMs int `json:"duration_ms,omitempty"`
	// Application name for ActionOpenApp.
	App string `json:"app,omitempty"`

	// Target is the oracle's natural-language description of the on-screen
	// element the action is grounded to.
	Target string `json:"target,omitempty"`
	// Reason is the oracle's one-line justification, kept for diagnostics.
	Reason string `json:"reason,omitempty"`
	// Confidence in [0,1] as reported by the oracle.
	Confidence float64 `json:"confidence,omitempty"`
	// ExpectedOutcome describes what the display should show afterwards;
	// the verifier uses it as a hint where available.
	ExpectedOutcome string `json:"expected_outcome,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// String renders a compact human-readable form for logs.
func (a Action) String() string {
	switch a.Kind {
	case ActionClick, ActionDoubleClick, ActionRightClick:
		return fmt.Sprintf("%s(%d,%d) %s", a.Kind, a.X, a.Y, a.Reason)
	case ActionDrag:
		return fmt.Sprintf("drag(%d,%d -> %d,%d) %s", a.X, a.Y, a.ToX, a.ToY, a.Reason)
	case ActionTypeText:
		text := a.Text
		if len(text) > 40 {
			text = text[:40] + "..."
		}
		return fmt.Sprintf("type(%q) %s", text, a.Reason)
	case ActionHotkey:
		return fmt.Sprintf("hotkey(%s) %s", strings.Join(a.Keys, "+"), a.Reason)
	case ActionScroll:
		return fmt.Sprintf("scroll(%d) %s", a.Amount, a.Reason)
	case ActionWait:
		return fmt.Sprintf("wait(%dms) %s", a.DurationMs, a.Reason)
	case ActionOpenApp:
		return fmt.Sprintf("open_app(%s) %s", a.App, a.Reason)
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.Reason)
	}
}

// IsPointer reports whether the action targets display coordinates.
func (a Action) IsPointer() bool {
	switch a.Kind {
	case ActionClick, ActionDoubleClick, ActionRightClick, ActionDrag:
		return true
	}
	return false
}

// MinimalWait returns the substitute action the step executor uses when a
// proposed action fails validation or the oracle response is unusable.
func MinimalWait(reason string) Action {
	return Action{
		Kind:       ActionWait,
		DurationMs: 250,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
}

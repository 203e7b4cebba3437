// internal/agent/reflect.go
package agent

import (
	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// Root-cause categories produced by reflection.
const (
	CauseDisabledControl = "disabled-control"
	CauseWrongElement    = "wrong-element"
	CauseNavigationStall = "navigation-stall"
	CauseUnknown         = "unknown"
)

// Reflector inspects the recent-action window for repetition with no visible
// progress and suggests a way out. It runs on a fixed cycle cadence under the
// controller, never inside the step executor.
type Reflector struct {
	logger *zap.Logger
	// coordTolerance is the pixel radius within which two pointer actions
	// count as aiming at the same target.
	coordTolerance int
}

// NewReflector builds a reflector with the given coordinate tolerance in
// pixels; non-positive values fall back to 8.
func NewReflector(coordTolerance int, logger *zap.Logger) *Reflector {
	if coordTolerance <= 0 {
		coordTolerance = 8
	}
	return &Reflector{
		logger:         logger.Named("reflector"),
		coordTolerance: coordTolerance,
	}
}

// Reflect detects a stuck loop: the same action repeated three or more times
// at the tail of the window with no observation delta between attempts. A
// stuck verdict always carries a suggested alternative; an unknown root cause
// never forces a replan.
func (r *Reflector) Reflect(recent []schemas.ActionOutcome) schemas.ReflectionResult {
	run := trailingRepeatRun(recent, r.coordTolerance)
	if len(run) < 3 || anyProgress(run) {
		return schemas.ReflectionResult{}
	}

	last := run[len(run)-1]
	cause := r.classify(last)
	result := schemas.ReflectionResult{
		IsStuck:   true,
		RootCause: cause,
	}

	switch cause {
	case CauseDisabledControl:
		result.SuggestedStrategy = &schemas.Action{
			Kind:   schemas.ActionHotkey,
			Keys:   []string{"tab"},
			Reason: "control appears disabled, probe neighbors via keyboard",
		}
	case CauseWrongElement:
		result.SuggestedStrategy = &schemas.Action{
			Kind:   schemas.ActionExplore,
			Reason: "repeated typing had no effect, re-ground the target element",
		}
		result.ForceReplan = true
	case CauseNavigationStall:
		result.SuggestedStrategy = &schemas.Action{
			Kind:       schemas.ActionWait,
			DurationMs: 1500,
			Reason:     "navigation not progressing, wait then replan from here",
		}
		result.ForceReplan = true
	default:
		result.SuggestedStrategy = r.modalitySwitch(last.Action)
	}

	r.logger.Warn("Stuck loop detected",
		zap.String("action", last.Action.String()),
		zap.Int("repeats", len(run)),
		zap.String("root_cause", cause))
	return result
}

func (r *Reflector) classify(last schemas.ActionOutcome) string {
	switch last.Action.Kind {
	case schemas.ActionTypeText:
		return CauseWrongElement
	case schemas.ActionClick, schemas.ActionDoubleClick, schemas.ActionRightClick:
		if last.RawSuccess {
			return CauseDisabledControl
		}
		return CauseNavigationStall
	case schemas.ActionHotkey, schemas.ActionScroll:
		return CauseNavigationStall
	default:
		return CauseUnknown
	}
}

// modalitySwitch flips the input channel: pointer actions become keyboard
// navigation and everything else becomes a probing click.
func (r *Reflector) modalitySwitch(a schemas.Action) *schemas.Action {
	if a.IsPointer() {
		return &schemas.Action{
			Kind:   schemas.ActionHotkey,
			Keys:   []string{"enter"},
			Reason: "switch from pointer to keyboard input",
		}
	}
	return &schemas.Action{
		Kind:   schemas.ActionExplore,
		Reason: "switch modality and re-survey the screen",
	}
}

// trailingRepeatRun walks backward from the newest outcome collecting the run
// of same-target attempts, returned oldest first.
func trailingRepeatRun(recent []schemas.ActionOutcome, tolerance int) []schemas.ActionOutcome {
	if len(recent) == 0 {
		return nil
	}
	last := recent[len(recent)-1]
	i := len(recent) - 1
	for i > 0 && sameTarget(recent[i-1].Action, last.Action, tolerance) {
		i--
	}
	return recent[i:]
}

// anyProgress reports whether any attempt in the run produced an observation
// delta. Observations without hashes cannot prove progress and count as none.
func anyProgress(run []schemas.ActionOutcome) bool {
	for _, o := range run {
		if o.Before.Hash != "" && o.After.Hash != "" && o.Before.Hash != o.After.Hash {
			return true
		}
	}
	return false
}

// sameTarget reports whether two actions aim at the same thing: identical
// kind, text and keys, with coordinates within the pixel tolerance.
func sameTarget(a, b schemas.Action, tolerance int) bool {
	if a.Kind != b.Kind || a.Text != b.Text || a.App != b.App {
		return false
	}
	if len(a.Keys) != len(b.Keys) {
		return false
	}
	for i := range a.Keys {
		if a.Keys[i] != b.Keys[i] {
			return false
		}
	}
	return absInt(a.X-b.X) <= tolerance && absInt(a.Y-b.Y) <= tolerance
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

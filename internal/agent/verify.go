// internal/agent/verify.go
package agent

import (
	"strings"

	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// Issue categories produced by verification. The correction decision table in
// correctionFor is keyed on these.
const (
	IssueNoChange    = "no-change"
	IssuePartialText = "partial-text"
	IssueWrongTarget = "wrong-target"
)

// Verifier judges whether an executed action actually changed the screen the
// way its kind promises. It is kind-aware: typing is checked against extracted
// text, pointer actions against an observation delta, waits trivially pass.
type Verifier struct {
	logger *zap.Logger
	// settleMs is suggested to corrections that widen the wait interval.
	settleMs int
}

// NewVerifier builds a verifier. settleMs is the executor's post-action settle
// window, used as the base for widened-wait corrections.
func NewVerifier(settleMs int, logger *zap.Logger) *Verifier {
	if settleMs <= 0 {
		settleMs = 300
	}
	return &Verifier{
		logger:   logger.Named("verifier"),
		settleMs: settleMs,
	}
}

// Verify compares the before/after observation pair for one action. A failed
// verification always carries a concrete suggested correction.
func (v *Verifier) Verify(action schemas.Action, before, after schemas.Observation) schemas.VerificationResult {
	switch action.Kind {
	case schemas.ActionWait, schemas.ActionDone, schemas.ActionVerify:
		return schemas.VerificationResult{Verified: true}

	case schemas.ActionTypeText:
		return v.verifyTyped(action, before, after)

	default:
		// Pointer and keyboard-navigation kinds: success means the screen
		// moved past the noise threshold.
		return v.verifyDelta(action, before, after)
	}
}

func (v *Verifier) verifyTyped(action schemas.Action, before, after schemas.Observation) schemas.VerificationResult {
	if after.Text == "" {
		// No extracted text to check against; fall back to the delta rule.
		return v.verifyDelta(action, before, after)
	}
	if strings.Contains(after.Text, action.Text) {
		return schemas.VerificationResult{Verified: true}
	}

	// Find the longest prefix of the intended text that did land, so the
	// correction can retype only what is missing.
	typed := longestLandedPrefix(action.Text, after.Text)
	if typed > 0 && typed < len(action.Text) {
		v.logger.Debug("Partial text landed",
			zap.String("intended", action.Text),
			zap.Int("landed_prefix", typed))
		return schemas.VerificationResult{
			Verified: false,
			Issue:    IssuePartialText,
			SuggestedCorrection: &schemas.Action{
				Kind:   schemas.ActionTypeText,
				Text:   action.Text[typed:],
				Reason: "retype characters missing from the target field",
			},
		}
	}

	issue := IssueWrongTarget
	if after.SameAs(before) {
		issue = IssueNoChange
	}
	return schemas.VerificationResult{
		Verified:            false,
		Issue:               issue,
		SuggestedCorrection: v.correctionFor(action, issue),
	}
}

func (v *Verifier) verifyDelta(action schemas.Action, before, after schemas.Observation) schemas.VerificationResult {
	if !after.SameAs(before) {
		return schemas.VerificationResult{Verified: true}
	}
	result := schemas.VerificationResult{Verified: false, Issue: IssueNoChange}
	result.SuggestedCorrection = v.correctionFor(action, IssueNoChange)
	return result
}

// correctionFor is the fixed decision table mapping an issue category to a
// concrete corrective action:
//
//	no-change    -> widen the wait interval (screen may not have settled)
//	partial-text -> retype the characters that did not land
//	wrong-target -> switch modality, pointer to keyboard
func (v *Verifier) correctionFor(action schemas.Action, issue string) *schemas.Action {
	switch issue {
	case IssuePartialText:
		return &schemas.Action{
			Kind:   schemas.ActionTypeText,
			Text:   action.Text,
			Reason: "retype characters missing from the target field",
		}
	case IssueWrongTarget:
		if action.IsPointer() {
			return &schemas.Action{
				Kind:   schemas.ActionHotkey,
				Keys:   []string{"tab"},
				Reason: "pointer target missed, switch to keyboard navigation",
			}
		}
		return &schemas.Action{
			Kind:       schemas.ActionWait,
			DurationMs: 2 * v.settleMs,
			Reason:     "target mismatch, allow the screen to settle before retrying",
		}
	default: // IssueNoChange
		return &schemas.Action{
			Kind:       schemas.ActionWait,
			DurationMs: 2 * v.settleMs,
			Reason:     "no visible change, widen the wait interval",
		}
	}
}

// RetypeSuffix computes the suffix of intended that is absent from the
// extracted text, used when applying a partial-text correction.
func RetypeSuffix(intended, extracted string) string {
	landed := longestLandedPrefix(intended, extracted)
	return intended[landed:]
}

// longestLandedPrefix returns the length of the longest prefix of intended
// that appears as a substring of extracted.
func longestLandedPrefix(intended, extracted string) int {
	for n := len(intended); n > 0; n-- {
		if strings.Contains(extracted, intended[:n]) {
			return n
		}
	}
	return 0
}

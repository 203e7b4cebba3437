// internal/agent/verify_test.go
package agent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/agent"
)

func obsFrom(content string) schemas.Observation {
	return schemas.NewObservation([]byte(content), 1920, 1080)
}

func TestVerifyClickAgainstIdenticalObservationsFails(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))
	obs := obsFrom("static screen")

	result := v.Verify(clickAt(100, 200), obs, obs)

	assert.False(t, result.Verified)
	assert.Equal(t, agent.IssueNoChange, result.Issue)
	require.NotNil(t, result.SuggestedCorrection)
	assert.Equal(t, schemas.ActionWait, result.SuggestedCorrection.Kind)
	assert.Equal(t, 600, result.SuggestedCorrection.DurationMs, "widened wait doubles the settle window")
}

func TestVerifyClickWithObservationDeltaPasses(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))

	result := v.Verify(clickAt(100, 200), obsFrom("before"), obsFrom("after"))

	assert.True(t, result.Verified)
	assert.Empty(t, result.Issue)
	assert.Nil(t, result.SuggestedCorrection)
}

func TestVerifyTemporalKindsPassTrivially(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))
	obs := obsFrom("unchanging")

	for _, kind := range []schemas.ActionKind{schemas.ActionWait, schemas.ActionDone, schemas.ActionVerify} {
		result := v.Verify(schemas.Action{Kind: kind}, obs, obs)
		assert.True(t, result.Verified, "kind %s should verify without a delta", kind)
	}
}

func TestVerifyTypedTextFullyLanded(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))
	after := obsFrom("changed")
	after.Text = "Search box: hello world_"

	result := v.Verify(typeText("hello world"), obsFrom("before"), after)

	assert.True(t, result.Verified)
}

func TestVerifyTypedTextPartialPrefixRetypesOnlyTheSuffix(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))
	after := obsFrom("changed")
	after.Text = "field contains: hello wo"

	result := v.Verify(typeText("hello world"), obsFrom("before"), after)

	assert.False(t, result.Verified)
	assert.Equal(t, agent.IssuePartialText, result.Issue)
	require.NotNil(t, result.SuggestedCorrection)
	assert.Equal(t, schemas.ActionTypeText, result.SuggestedCorrection.Kind)
	assert.Equal(t, "rld", result.SuggestedCorrection.Text)
}

func TestVerifyTypedTextNothingLandedIsWrongTarget(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))
	after := obsFrom("changed")
	after.Text = "unrelated dialog box"

	result := v.Verify(typeText("query"), obsFrom("before"), after)

	assert.False(t, result.Verified)
	assert.Equal(t, agent.IssueWrongTarget, result.Issue)
	require.NotNil(t, result.SuggestedCorrection)
	// Typing is already the keyboard modality; the correction waits instead
	// of switching.
	assert.Equal(t, schemas.ActionWait, result.SuggestedCorrection.Kind)
}

func TestVerifyTypedTextNoDeltaIsNoChange(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))
	obs := obsFrom("frozen")
	obs.Text = "zzz"

	result := v.Verify(typeText("query"), obs, obs)

	assert.False(t, result.Verified)
	assert.Equal(t, agent.IssueNoChange, result.Issue)
	require.NotNil(t, result.SuggestedCorrection)
	assert.Equal(t, schemas.ActionWait, result.SuggestedCorrection.Kind)
}

func TestVerifyTypedTextFallsBackToDeltaWithoutExtraction(t *testing.T) {
	v := agent.NewVerifier(300, zaptest.NewLogger(t))

	result := v.Verify(typeText("hello"), obsFrom("before"), obsFrom("after"))
	assert.True(t, result.Verified, "no extracted text, delta rule applies")

	obs := obsFrom("same")
	result = v.Verify(typeText("hello"), obs, obs)
	assert.False(t, result.Verified)
}

func TestRetypeSuffix(t *testing.T) {
	assert.Equal(t, "orld", agent.RetypeSuffix("hello world", "typed: hello w"))
	assert.Equal(t, "", agent.RetypeSuffix("hello", "says hello there"))
	assert.Equal(t, "hello", agent.RetypeSuffix("hello", "zzz"))
}

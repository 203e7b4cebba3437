// internal/oracle/parser_test.go
package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

func TestExtractJSONFencedBlock(t *testing.T) {
	response := "```json\n{\"action\": {\"type\": \"click\", \"x\": 10, \"y\": 20}}\n```"
	raw, err := extractJSON(response)
	require.NoError(t, err)
	assert.Equal(t, `{"action": {"type": "click", "x": 10, "y": 20}}`, raw)
}

func TestExtractJSONFencedWithoutLanguageTag(t *testing.T) {
	raw, err := extractJSON("```\n{\"steps\": []}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"steps": []}`, raw)
}

func TestExtractJSONBareObject(t *testing.T) {
	raw, err := extractJSON(`{"confidence": 0.5}`)
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": 0.5}`, raw)
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	response := `Sure! Here is the action you asked for: {"action": {"type": "wait"}} hope that helps.`
	raw, err := extractJSON(response)
	require.NoError(t, err)
	assert.Equal(t, `{"action": {"type": "wait"}}`, raw)
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	response := `{"action": {"type": "type", "text": "func main() { return }"}}`
	raw, err := extractJSON(response)
	require.NoError(t, err)
	assert.Equal(t, response, raw)
}

func TestExtractJSONTrailingProseIgnored(t *testing.T) {
	raw, err := extractJSON(`{"a": 1} and then some explanation`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, raw)
}

func TestExtractJSONFailures(t *testing.T) {
	for _, response := range []string{"", "no json here", `{"unbalanced": `} {
		_, err := extractJSON(response)
		assert.Error(t, err, "response %q", response)
	}
}

func TestParseProposal(t *testing.T) {
	response := "```json\n" + `{
		"action": {"type": "click", "x": 120, "y": 340, "reason": "open the menu"},
		"confidence": 0.85
	}` + "\n```"

	proposal, err := parseProposal(response)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, proposal.Action.Kind)
	assert.Equal(t, 120, proposal.Action.X)
	assert.Equal(t, 340, proposal.Action.Y)
	assert.InDelta(t, 0.85, proposal.Confidence, 1e-9)
}

func TestParseProposalWithoutActionKindIsMalformed(t *testing.T) {
	_, err := parseProposal(`{"confidence": 0.9}`)
	require.Error(t, err)

	var oracleErr *schemas.OracleError
	require.ErrorAs(t, err, &oracleErr)
	assert.Equal(t, schemas.OracleMalformedResponse, oracleErr.Reason)
}

func TestParseProposalGarbageIsMalformed(t *testing.T) {
	_, err := parseProposal("the model refuses to answer")
	var oracleErr *schemas.OracleError
	require.ErrorAs(t, err, &oracleErr)
	assert.Equal(t, schemas.OracleMalformedResponse, oracleErr.Reason)
}

func TestParsePlan(t *testing.T) {
	response := `{
		"steps": [
			{"description": "open the browser", "done_condition": "browser window visible"},
			{"description": "navigate to the site", "independent": false}
		],
		"confidence": 0.7,
		"estimated_actions": 6
	}`

	plan, err := parsePlan(response)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "open the browser", plan.Steps[0].Description)
	assert.Equal(t, "browser window visible", plan.Steps[0].DoneCondition)
	assert.Equal(t, 6, plan.EstimatedActions)
}

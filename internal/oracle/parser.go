// internal/oracle/parser.go
package oracle

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// Vision models wrap JSON in markdown fences more often than not; accept the
// fenced block, a bare object, or an object embedded in prose.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// extractJSON pulls the first JSON object out of a model response.
func extractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", fmt.Errorf("empty response")
	}

	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		response = strings.TrimSpace(matches[1])
	}

	if strings.HasPrefix(response, "{") {
		if end := matchingBrace(response); end > 0 {
			return response[:end+1], nil
		}
		return "", fmt.Errorf("unbalanced braces in response")
	}

	// Object embedded in prose: scan for the first balanced one.
	start := strings.Index(response, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}
	rest := response[start:]
	end := matchingBrace(rest)
	if end < 0 {
		return "", fmt.Errorf("unbalanced braces in response")
	}
	return rest[:end+1], nil
}

// matchingBrace returns the index of the brace closing the object starting at
// s[0], respecting strings and escapes, or -1.
func matchingBrace(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

// parseProposal decodes a decision response. Any shape problem is a
// malformed-response oracle error, which the step executor absorbs with a
// minimal wait.
func parseProposal(response string) (schemas.Proposal, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return schemas.Proposal{}, &schemas.OracleError{Reason: schemas.OracleMalformedResponse, Err: err}
	}

	var proposal schemas.Proposal
	if err := json.Unmarshal([]byte(raw), &proposal); err != nil {
		return schemas.Proposal{}, &schemas.OracleError{
			Reason: schemas.OracleMalformedResponse,
			Err:    fmt.Errorf("failed to decode proposal: %w", err),
		}
	}
	if proposal.Action.Kind == "" {
		return schemas.Proposal{}, &schemas.OracleError{
			Reason: schemas.OracleMalformedResponse,
			Err:    fmt.Errorf("proposal carries no action kind"),
		}
	}
	return proposal, nil
}

// parsePlan decodes a plan response.
func parsePlan(response string) (schemas.PlanProposal, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return schemas.PlanProposal{}, &schemas.OracleError{Reason: schemas.OracleMalformedResponse, Err: err}
	}

	var plan schemas.PlanProposal
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return schemas.PlanProposal{}, &schemas.OracleError{
			Reason: schemas.OracleMalformedResponse,
			Err:    fmt.Errorf("failed to decode plan: %w", err),
		}
	}
	return plan, nil
}

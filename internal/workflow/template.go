// internal/workflow/template.go
package workflow

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StepType discriminates workflow step behavior.
type StepType string

const (
	// StepTask runs a natural-language task through the agent controller.
	StepTask StepType = "task"
	// StepExtract reads a named value off the current screen.
	StepExtract StepType = "extract"
	// StepPause waits for a fixed duration between tasks.
	StepPause StepType = "pause"
)

// Step is one unit of a workflow template.
type Step struct {
	Name  string   `yaml:"name"`
	Type  StepType `yaml:"type"`
	Task  string   `yaml:"task,omitempty"`
	Query string   `yaml:"query,omitempty"`
	// SaveAs stores the step's extracted value (or task error) under a
	// variable name for later interpolation.
	SaveAs        string        `yaml:"save_as,omitempty"`
	Duration      time.Duration `yaml:"duration,omitempty"`
	Optional      bool          `yaml:"optional,omitempty"`
	Retries       int           `yaml:"retries,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty"`
}

// Template is a declarative multi-task workflow.
type Template struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Steps       []Step            `yaml:"steps"`
}

// LoadTemplate reads and validates a workflow template from a YAML file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow template %s: %w", path, err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("failed to parse workflow template %s: %w", path, err)
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow template %s: %w", path, err)
	}
	return &tpl, nil
}

// Validate checks the template for structural problems before any step runs.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template has no steps")
	}
	for i, s := range t.Steps {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("step %d", i+1)
		}
		switch s.Type {
		case StepTask:
			if strings.TrimSpace(s.Task) == "" {
				return fmt.Errorf("%s: task steps require a task description", label)
			}
		case StepExtract:
			if strings.TrimSpace(s.Query) == "" {
				return fmt.Errorf("%s: extract steps require a query", label)
			}
			if strings.TrimSpace(s.SaveAs) == "" {
				return fmt.Errorf("%s: extract steps require save_as", label)
			}
		case StepPause:
			if s.Duration <= 0 {
				return fmt.Errorf("%s: pause steps require a positive duration", label)
			}
		default:
			return fmt.Errorf("%s: unknown step type %q", label, s.Type)
		}
		if s.Retries < 0 {
			return fmt.Errorf("%s: retries must not be negative", label)
		}
	}
	return nil
}

// Interpolate substitutes {name} references with variable values. Unknown
// references are left verbatim so failures are visible in task descriptions.
func Interpolate(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{") {
		return s
	}
	out := s
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

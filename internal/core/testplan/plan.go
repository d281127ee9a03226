package testplan

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyPlan     = errors.New("plan has no schemes")
	ErrInvalidPlan   = errors.New("invalid plan")
	ErrInvalidStepID = errors.New("invalid step id")
)

// Load reads a plan from a YAML or JSON file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a plan document, assigns missing step ids and validates it.
// JSON documents are accepted as YAML.
func Parse(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	plan.AssignIDs()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// AssignIDs fills in composite step ids and missing scheme/use case ids.
func (p *Plan) AssignIDs() {
	for si, scheme := range p.Schemes {
		if scheme.ID == "" {
			scheme.ID = strconv.Itoa(si)
		}
		for ui, uc := range scheme.UseCases {
			if uc.ID == "" {
				uc.ID = fmt.Sprintf("%d-%d", si, ui)
			}
			for sti, step := range uc.Steps {
				if step.ID == "" {
					step.ID = StepID(si, ui, sti)
				}
			}
		}
	}
}

// Validate checks the structural invariants the executor relies on.
func (p *Plan) Validate() error {
	if len(p.Schemes) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, ErrEmptyPlan)
	}
	for _, scheme := range p.Schemes {
		if scheme.Default.Port != "" && !scheme.Default.Port.Valid() {
			return fmt.Errorf("%w: scheme %s: unknown protocol %q", ErrInvalidPlan, scheme.ID, scheme.Default.Port)
		}
		for _, uc := range scheme.UseCases {
			seen := make(map[string]struct{}, len(uc.Steps))
			for _, step := range uc.Steps {
				if _, dup := seen[step.ID]; dup {
					return fmt.Errorf("%w: use case %s: duplicate step id %s", ErrInvalidPlan, uc.ID, step.ID)
				}
				seen[step.ID] = struct{}{}
				if step.Port != "" && !step.Port.Valid() {
					return fmt.Errorf("%w: step %s: unknown protocol %q", ErrInvalidPlan, step.ID, step.Port)
				}
			}
		}
	}
	return nil
}

// Reset clears every status and result so the plan can run again.
func (p *Plan) Reset() {
	p.Status = StatusUnknown
	for _, scheme := range p.Schemes {
		scheme.Status = StatusUnknown
		for _, uc := range scheme.UseCases {
			uc.Status = StatusUnknown
			for _, step := range uc.Steps {
				step.Status = StatusUnknown
				step.TestResult = nil
				step.StartTime = nil
				step.EndTime = nil
			}
		}
	}
}

// StepCount returns the total number of steps in the plan.
func (p *Plan) StepCount() int {
	n := 0
	for _, scheme := range p.Schemes {
		for _, uc := range scheme.UseCases {
			n += len(uc.Steps)
		}
	}
	return n
}

// StepID builds the composite id of a step.
func StepID(scheme, useCase, step int) string {
	return fmt.Sprintf("%d-%d-%d", scheme, useCase, step)
}

// ParseStepID splits a composite step id into its indexes.
func ParseStepID(id string) (scheme, useCase, step int, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidStepID, id)
	}
	idx := make([]int, 3)
	for i, part := range parts {
		n, convErr := strconv.Atoi(part)
		if convErr != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidStepID, id)
		}
		idx[i] = n
	}
	return idx[0], idx[1], idx[2], nil
}

// EffectiveProtocol is the step's protocol override or the scheme default.
func (s *Step) EffectiveProtocol(fallback connection.Protocol) connection.Protocol {
	if s.Port != "" {
		return s.Port
	}
	return fallback
}

// EffectiveTimeout is the step's timeout or the scheme default.
func (s *Step) EffectiveTimeout(fallback time.Duration) time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout) * time.Second
	}
	return fallback
}

// DependsOn reports whether any of s's dependencies is in ids.
func (s *Step) DependsOn(ids map[string]struct{}) bool {
	for _, dep := range s.Dependencies {
		if _, ok := ids[dep]; ok {
			return true
		}
	}
	return false
}

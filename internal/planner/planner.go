// Package planner defines the decomposition capability consumed by the
// orchestrator and its LLM-backed implementation. The planner is treated
// strictly as a black box returning a bounded list of task descriptors; it
// is never trusted to self-limit depth or fan-out.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/cortex-sre/cortex/pkg/domain"
)

// Planner proposes child tasks for a query given the current tree context.
type Planner interface {
	Plan(ctx context.Context, query string, tree []domain.Node) (*domain.Plan, error)
}

// Synthesizer combines collected tool results into a final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, results []ToolResult) (string, error)
}

// ToolResult pairs a finished step with its output for synthesis.
type ToolResult struct {
	Step   string `json:"step"`
	Result any    `json:"result"`
}

// Func adapts a plain function to the Planner interface. Used by tests and
// scripted planners.
type Func func(ctx context.Context, query string, tree []domain.Node) (*domain.Plan, error)

// Plan implements Planner.
func (f Func) Plan(ctx context.Context, query string, tree []domain.Node) (*domain.Plan, error) {
	return f(ctx, query, tree)
}

// ParsePlan turns raw model output into a Plan. The model is asked for
// strict JSON but tends to wrap it in markdown fences, so those are
// stripped first. The loosely-typed task objects are decoded through
// mapstructure, which tolerates the numeric and nested shapes LLMs emit.
func ParsePlan(raw string) (*domain.Plan, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("planner returned an empty response")
	}

	var loose map[string]any
	if err := json.Unmarshal([]byte(text), &loose); err != nil {
		return nil, fmt.Errorf("planner response is not valid JSON: %w", err)
	}

	var plan domain.Plan
	if err := mapstructure.Decode(loose, &plan); err != nil {
		return nil, fmt.Errorf("planner response has unexpected shape: %w", err)
	}

	if plan.DirectAnswer != "" && len(plan.Tasks) > 0 {
		return nil, fmt.Errorf("planner returned both a direct answer and tasks")
	}
	for i, task := range plan.Tasks {
		if strings.TrimSpace(task.Label) == "" {
			return nil, fmt.Errorf("task %d has no label", i)
		}
	}
	return &plan, nil
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

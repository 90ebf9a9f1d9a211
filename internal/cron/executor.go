package cron

import (
	"context"
	"fmt"

	"github.com/asteroniris-dev/asteroniris/internal/tools"
)

// StepOutput is what a StepRunner reports for a single PlanStep.
type StepOutput struct {
	Success bool
	Output  string
	Err     string
}

// StepRunner executes one PlanStep and reports its outcome. A returned error
// means the runner itself failed (transport-level), distinct from the step
// failing on its own terms (Success=false).
type StepRunner interface {
	RunStep(ctx context.Context, step *PlanStep) (StepOutput, error)
}

// ToolStepRunner executes ToolCall steps against a tool registry; Prompt and
// Checkpoint steps are no-ops that always succeed, recording their text/label
// as output so the plan's audit trail stays readable.
type ToolStepRunner struct {
	registry *tools.Registry
}

// NewToolStepRunner builds a ToolStepRunner bound to registry.
func NewToolStepRunner(registry *tools.Registry) *ToolStepRunner {
	return &ToolStepRunner{registry: registry}
}

func (r *ToolStepRunner) RunStep(ctx context.Context, step *PlanStep) (StepOutput, error) {
	switch step.Action.Kind {
	case ActionToolCall:
		result := r.registry.Execute(ctx, step.Action.ToolName, step.Action.Args)
		out := StepOutput{Success: !result.IsError, Output: result.ForLLM}
		if result.Err != nil {
			out.Err = result.Err.Error()
		}
		return out, nil
	case ActionPrompt:
		return StepOutput{Success: true, Output: "[prompt] " + step.Action.Text}, nil
	case ActionCheckpoint:
		return StepOutput{Success: true, Output: "[checkpoint] " + step.Action.Label}, nil
	default:
		return StepOutput{}, fmt.Errorf("cron: unknown step action kind %q", step.Action.Kind)
	}
}

// ExecutionReport summarises one PlanExecutor.Execute pass.
type ExecutionReport struct {
	PlanID         string
	CompletedSteps []string
	FailedSteps    []string
	SkippedSteps   []string
	Success        bool
}

// Execute runs plan's steps in stable topological order. A step that fails
// marks every transitive downstream step Skipped rather than aborting the
// whole plan; only a runner error aborts outright, propagating with the
// partial report discarded (callers treat that as execution_error).
func Execute(ctx context.Context, plan *Plan, runner StepRunner) (*ExecutionReport, error) {
	order, err := plan.executionOrder()
	if err != nil {
		return nil, err
	}
	index := plan.stepIndex()

	downstream := make(map[string][]string, len(plan.Dag.Nodes))
	for _, e := range plan.Dag.Edges {
		downstream[e.From] = append(downstream[e.From], e.To)
	}

	report := &ExecutionReport{PlanID: plan.ID}
	skipped := make(map[string]bool)

	for _, stepID := range order {
		if skipped[stepID] {
			if i, ok := index[stepID]; ok {
				plan.Steps[i].Status = StepSkipped
				report.SkippedSteps = append(report.SkippedSteps, stepID)
			}
			continue
		}

		i, ok := index[stepID]
		if !ok {
			continue
		}
		plan.Steps[i].Status = StepRunning
		stepCopy := plan.Steps[i]
		output, err := runner.RunStep(ctx, &stepCopy)
		if err != nil {
			return nil, fmt.Errorf("cron: step %q runner error: %w", stepID, err)
		}

		if output.Success {
			plan.Steps[i].Status = StepCompleted
			plan.Steps[i].Output = &output.Output
			plan.Steps[i].Error = nil
			report.CompletedSteps = append(report.CompletedSteps, stepID)
			continue
		}

		plan.Steps[i].Status = StepFailed
		plan.Steps[i].Output = &output.Output
		if output.Err != "" {
			plan.Steps[i].Error = &output.Err
		}
		report.FailedSteps = append(report.FailedSteps, stepID)
		markDownstreamSkipped(stepID, downstream, skipped)
	}

	report.Success = len(report.FailedSteps) == 0
	return report, nil
}

func markDownstreamSkipped(root string, downstream map[string][]string, skipped map[string]bool) {
	queue := []string{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range downstream[current] {
			if !skipped[child] {
				skipped[child] = true
				queue = append(queue, child)
			}
		}
	}
}

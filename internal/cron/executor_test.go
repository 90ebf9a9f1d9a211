package cron

import (
	"context"
	"testing"
)

type scriptedRunner struct {
	outcomes map[string]StepOutput
	err      map[string]error
}

func (r *scriptedRunner) RunStep(_ context.Context, step *PlanStep) (StepOutput, error) {
	if err, ok := r.err[step.ID]; ok {
		return StepOutput{}, err
	}
	return r.outcomes[step.ID], nil
}

func linearPlan() *Plan {
	return &Plan{
		ID: "p1",
		Steps: []PlanStep{
			{ID: "a", Action: StepAction{Kind: ActionCheckpoint, Label: "a"}},
			{ID: "b", Action: StepAction{Kind: ActionCheckpoint, Label: "b"}, DependsOn: []string{"a"}},
			{ID: "c", Action: StepAction{Kind: ActionCheckpoint, Label: "c"}, DependsOn: []string{"b"}},
		},
		Dag: DagContract{
			Nodes: []DagNode{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			Edges: []DagEdge{{From: "a", To: "b"}, {From: "b", To: "c"}},
		},
	}
}

func TestExecuteAllSucceed(t *testing.T) {
	plan := linearPlan()
	runner := &scriptedRunner{outcomes: map[string]StepOutput{
		"a": {Success: true, Output: "ok"}, "b": {Success: true, Output: "ok"}, "c": {Success: true, Output: "ok"},
	}}
	report, err := Execute(context.Background(), plan, runner)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !report.Success || len(report.CompletedSteps) != 3 {
		t.Fatalf("got %+v", report)
	}
}

func TestExecuteFailureSkipsDownstream(t *testing.T) {
	plan := linearPlan()
	runner := &scriptedRunner{outcomes: map[string]StepOutput{
		"a": {Success: true, Output: "ok"},
		"b": {Success: false, Output: "boom", Err: "tool exploded"},
		"c": {Success: true, Output: "ok"},
	}}
	report, err := Execute(context.Background(), plan, runner)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Success {
		t.Fatalf("expected failure to propagate")
	}
	if len(report.FailedSteps) != 1 || report.FailedSteps[0] != "b" {
		t.Fatalf("got failed=%v", report.FailedSteps)
	}
	if len(report.SkippedSteps) != 1 || report.SkippedSteps[0] != "c" {
		t.Fatalf("got skipped=%v, want [c]", report.SkippedSteps)
	}
	if plan.Steps[2].Status != StepSkipped {
		t.Fatalf("expected step c marked Skipped, got %v", plan.Steps[2].Status)
	}
}

func TestExecuteRunnerErrorAborts(t *testing.T) {
	plan := linearPlan()
	runner := &scriptedRunner{
		outcomes: map[string]StepOutput{"a": {Success: true, Output: "ok"}},
		err:      map[string]error{"b": context.DeadlineExceeded},
	}
	if _, err := Execute(context.Background(), plan, runner); err == nil {
		t.Fatalf("expected runner error to abort execution")
	}
}

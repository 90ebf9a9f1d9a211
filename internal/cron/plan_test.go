package cron

import "testing"

func planJSON(withOrphanDag bool) string {
	if withOrphanDag {
		return `{"id":"p1","description":"t","steps":[
			{"id":"a","description":"a","action":{"kind":"Checkpoint","label":"start"}},
			{"id":"b","description":"b","action":{"kind":"Checkpoint","label":"end"},"depends_on":["a"]}
		]}`
	}
	return `{"id":"p1","description":"t","steps":[
		{"id":"a","description":"a","action":{"kind":"Checkpoint","label":"start"}},
		{"id":"b","description":"b","action":{"kind":"Checkpoint","label":"end"},"depends_on":["a"]}
	],"dag":{"nodes":[{"id":"a"},{"id":"b"}],"edges":[{"from":"a","to":"b"}]}}`
}

func TestParsePlanDerivesDagFromDependsOn(t *testing.T) {
	plan, err := ParsePlan(planJSON(true))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plan.Dag.Nodes) != 2 || len(plan.Dag.Edges) != 1 {
		t.Fatalf("expected derived dag with 2 nodes/1 edge, got %+v", plan.Dag)
	}
}

func TestExecutionOrderStableTopologicalSort(t *testing.T) {
	plan, err := ParsePlan(planJSON(false))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	order, err := plan.executionOrder()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("got %v, want [a b]", order)
	}
}

func TestExecutionOrderRejectsCycle(t *testing.T) {
	plan := &Plan{
		ID: "cyclic",
		Dag: DagContract{
			Nodes: []DagNode{{ID: "a"}, {ID: "b"}},
			Edges: []DagEdge{{From: "a", To: "b"}, {From: "b", To: "a"}},
		},
	}
	if _, err := plan.executionOrder(); err == nil {
		t.Fatalf("expected cycle to be rejected")
	}
}

func TestParsePlanRejectsMissingID(t *testing.T) {
	if _, err := ParsePlan(`{"steps":[]}`); err == nil {
		t.Fatalf("expected missing id to fail")
	}
}

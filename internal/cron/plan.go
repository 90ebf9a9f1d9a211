package cron

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/titanous/json5"
)

func newID() string { return uuid.New().String() }

// StepStatus tracks a PlanStep's lifecycle during execution.
type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepRunning   StepStatus = "Running"
	StepCompleted StepStatus = "Completed"
	StepFailed    StepStatus = "Failed"
	StepSkipped   StepStatus = "Skipped"
)

// ActionKind is the discriminant of StepAction's three fixed shapes.
type ActionKind string

const (
	ActionToolCall   ActionKind = "ToolCall"
	ActionPrompt     ActionKind = "Prompt"
	ActionCheckpoint ActionKind = "Checkpoint"
)

// StepAction is one of exactly three action kinds a plan step may carry.
// The planner is deliberately not a general workflow engine.
type StepAction struct {
	Kind ActionKind `json:"kind"`

	// ToolCall
	ToolName string                 `json:"tool_name,omitempty"`
	Args     map[string]interface{} `json:"args,omitempty"`

	// Prompt
	Text string `json:"text,omitempty"`

	// Checkpoint
	Label string `json:"label,omitempty"`
}

// PlanStep is one node of a Plan's DAG.
type PlanStep struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Action      StepAction `json:"action"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      StepStatus `json:"status"`
	Output      *string    `json:"output,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// DagEdge is a directed edge from a dependency to its dependent.
type DagEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DagNode names one node participating in the DAG contract.
type DagNode struct {
	ID string `json:"id"`
}

// DagContract is the explicit nodes/edges view of a Plan's dependency graph,
// carried alongside steps so execution order doesn't have to be re-derived
// from depends_on at parse time.
type DagContract struct {
	Nodes []DagNode `json:"nodes"`
	Edges []DagEdge `json:"edges"`
}

// Plan is a DAG of steps submitted via a `plan:<json>` cron job command.
type Plan struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Steps       []PlanStep `json:"steps"`
	Dag         DagContract `json:"dag"`
}

// stepIndex maps a step id to its position in Steps.
func (p *Plan) stepIndex() map[string]int {
	idx := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		idx[s.ID] = i
	}
	return idx
}

// executionOrder returns a stable topological order over the DAG: Kahn's
// algorithm with ties broken by node insertion order, so two plans with the
// same edges always execute identically.
func (p *Plan) executionOrder() ([]string, error) {
	indegree := make(map[string]int, len(p.Dag.Nodes))
	order := make([]string, 0, len(p.Dag.Nodes))
	adjacency := make(map[string][]string, len(p.Dag.Nodes))
	position := make(map[string]int, len(p.Dag.Nodes))
	for i, n := range p.Dag.Nodes {
		indegree[n.ID] = 0
		position[n.ID] = i
	}
	for _, e := range p.Dag.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
		indegree[e.To]++
	}

	var ready []string
	for _, n := range p.Dag.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	sortByInsertion(ready, position)

	visited := make(map[string]bool, len(p.Dag.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)

		var newlyReady []string
		for _, child := range adjacency[id] {
			indegree[child]--
			if indegree[child] == 0 {
				newlyReady = append(newlyReady, child)
			}
		}
		sortByInsertion(newlyReady, position)
		ready = append(ready, newlyReady...)
		sortByInsertion(ready, position)
	}

	if len(order) != len(p.Dag.Nodes) {
		return nil, fmt.Errorf("cron: plan dag contains a cycle")
	}
	return order, nil
}

func sortByInsertion(ids []string, position map[string]int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && position[ids[j-1]] > position[ids[j]]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// ParsePlan decodes a `plan:<json5>` cron job command body. json5 rather
// than encoding/json because plan bodies are hand-edited in cron add
// commands, and a trailing comma or unquoted comment shouldn't reject the
// whole job.
func ParsePlan(raw string) (*Plan, error) {
	var plan Plan
	if err := json5.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("cron: parse plan: %w", err)
	}
	if plan.ID == "" {
		return nil, fmt.Errorf("cron: plan missing id")
	}
	for i := range plan.Steps {
		if plan.Steps[i].Status == "" {
			plan.Steps[i].Status = StepPending
		}
	}
	if len(plan.Dag.Nodes) == 0 && len(plan.Steps) > 0 {
		plan.Dag = deriveDag(plan.Steps)
	}
	return &plan, nil
}

func deriveDag(steps []PlanStep) DagContract {
	dag := DagContract{Nodes: make([]DagNode, 0, len(steps))}
	for _, s := range steps {
		dag.Nodes = append(dag.Nodes, DagNode{ID: s.ID})
		for _, dep := range s.DependsOn {
			dag.Edges = append(dag.Edges, DagEdge{From: dep, To: s.ID})
		}
	}
	return dag
}

// ── plan_executions bookkeeping ─────────────────────────────────────────────

// BeginPlanExecution inserts a running plan_executions row for job and
// returns its generated execution id.
func (s *Store) BeginPlanExecution(jobID, planID, planJSON string) (string, error) {
	executionID := newID()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO plan_executions (id, job_id, plan_id, status, attempts, completed_steps,
		        failed_steps, skipped_steps, plan_json, created_at)
		 VALUES (?, ?, ?, 'running', 0, 0, 0, 0, ?, ?)`,
		executionID, jobID, planID, planJSON, formatTime(now),
	)
	if err != nil {
		return "", fmt.Errorf("cron: begin plan execution: %w", err)
	}
	return executionID, nil
}

// FinalizePlanExecution updates an existing plan_executions row with its
// terminal status and step counts.
func (s *Store) FinalizePlanExecution(executionID, status string, attempts, completed, failed, skipped int) error {
	_, err := s.db.Exec(
		`UPDATE plan_executions SET status = ?, attempts = ?, completed_steps = ?, failed_steps = ?, skipped_steps = ?
		 WHERE id = ?`,
		status, attempts, completed, failed, skipped, executionID,
	)
	if err != nil {
		return fmt.Errorf("cron: finalize plan execution: %w", err)
	}
	return nil
}

// PersistPlanExecution inserts a terminal plan_executions row directly, used
// when execution never reached BeginPlanExecution (e.g. parse_failed).
func (s *Store) PersistPlanExecution(jobID, status string, attempts, completed, failed, skipped int, planJSON string) error {
	planID := "unknown"
	if plan, err := ParsePlan(planJSON); err == nil {
		planID = plan.ID
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO plan_executions (id, job_id, plan_id, status, attempts, completed_steps,
		        failed_steps, skipped_steps, plan_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), jobID, planID, status, attempts, completed, failed, skipped, planJSON, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("cron: persist plan execution: %w", err)
	}
	return nil
}

type runningExecution struct {
	ExecutionID string
	JobID       string
	PlanJSON    string
}

// runningPlanExecutions returns every plan_executions row still marked
// "running", ordered by creation time ascending.
func (s *Store) runningPlanExecutions() ([]runningExecution, error) {
	rows, err := s.db.Query(`SELECT id, job_id, plan_json FROM plan_executions WHERE status = 'running' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("cron: query running executions: %w", err)
	}
	defer rows.Close()
	var out []runningExecution
	for rows.Next() {
		var r runningExecution
		if err := rows.Scan(&r.ExecutionID, &r.JobID, &r.PlanJSON); err != nil {
			return nil, fmt.Errorf("cron: scan running execution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// markExecutionRequeued flips a plan_executions row to "requeued", clamping
// attempts to at least 1.
func (s *Store) markExecutionRequeued(executionID string) error {
	_, err := s.db.Exec(
		`UPDATE plan_executions SET status = 'requeued', attempts = CASE WHEN attempts < 1 THEN 1 ELSE attempts END WHERE id = ?`,
		executionID,
	)
	if err != nil {
		return fmt.Errorf("cron: mark requeued: %w", err)
	}
	return nil
}

// RecoverInterruptedPlanJobs runs at scheduler startup: every plan_executions
// row left in "running" status (the process died mid-execution) is requeued,
// and its owning cron_jobs row is nudged back to recover-pending so the next
// poll picks the plan back up.
func (s *Store) RecoverInterruptedPlanJobs() (int, error) {
	rows, err := s.runningPlanExecutions()
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	recovered := 0
	for _, r := range rows {
		if err := s.UpsertRecoveredAgentJob(r.JobID, r.PlanJSON, now); err != nil {
			return recovered, err
		}
		if err := s.markExecutionRequeued(r.ExecutionID); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

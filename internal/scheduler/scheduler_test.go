package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/cron"
	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/security"
	"github.com/asteroniris-dev/asteroniris/internal/tools"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	jobs, err := cron.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("cron.Open: %v", err)
	}
	t.Cleanup(func() { jobs.Close() })

	mem, err := memory.Open(filepath.Join(dir, "brain.db"))
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	policy := security.New(config.SecurityConfig{
		Autonomy:        "full",
		AllowedCommands: []string{"echo", "git"},
		TemperatureMin:  0.2, TemperatureMax: 1.0,
	}, dir)
	registry := tools.NewRegistry()

	return New(jobs, mem, policy, registry, config.CronConfig{PollInterval: "5s", MaxRetries: 1}, dir)
}

func TestRunUserJobCommandShellSuccess(t *testing.T) {
	s := newTestScheduler(t)
	success, output := s.runUserJobCommand(context.Background(), cron.Job{ID: "j1", Command: "echo hello"})
	if !success {
		t.Fatalf("expected success, got output=%q", output)
	}
}

func TestRunUserJobCommandBlockedByPolicyIsNotRetried(t *testing.T) {
	s := newTestScheduler(t)
	success, output := s.executeJobWithRetry(context.Background(), cron.Job{ID: "j1", Command: "rm -rf /", Origin: cron.OriginUser, MaxAttempts: 1})
	if success {
		t.Fatalf("expected denial")
	}
	if !strings.Contains(output, "blocked by security policy:") {
		t.Fatalf("got output=%q, want policy denial marker", output)
	}
}

func TestRunUserJobCommandIngestionRoute(t *testing.T) {
	s := newTestScheduler(t)
	success, output := s.runUserJobCommand(context.Background(), cron.Job{ID: "j1", Command: "ingest:api user-1 feed-1 hello there"})
	if !success {
		t.Fatalf("expected ingestion to be accepted, got %q", output)
	}
}

func TestRunAgentJobCommandRejectsNonPlanCommand(t *testing.T) {
	s := newTestScheduler(t)
	success, output := runAgentJobCommand(context.Background(), s.jobs, s.registry, s.policy, cron.Job{ID: "a1", Command: "echo hi", Origin: cron.OriginAgent, MaxAttempts: 1})
	if success {
		t.Fatalf("expected agent non-plan command to be rejected")
	}
	if !strings.Contains(output, "agent jobs cannot execute direct shell path") {
		t.Fatalf("got %q", output)
	}
}

func TestRunAgentJobCommandExecutesPlan(t *testing.T) {
	s := newTestScheduler(t)
	plan := `{"id":"p1","description":"t","steps":[{"id":"a","description":"a","action":{"kind":"Checkpoint","label":"done"}}]}`
	success, output := runAgentJobCommand(context.Background(), s.jobs, s.registry, s.policy, cron.Job{ID: "a1", Command: "plan:" + plan, Origin: cron.OriginAgent, MaxAttempts: 1})
	if !success {
		t.Fatalf("expected plan execution to succeed, got %q", output)
	}
}

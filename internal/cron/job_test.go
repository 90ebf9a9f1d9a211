package cron

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestCronStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueAndDueJobs(t *testing.T) {
	s := newTestCronStore(t)
	now := time.Now().UTC()
	if err := s.Enqueue(Job{ID: "j1", Expression: "* * * * *", Command: "echo hi", CreatedAt: now, NextRun: now.Add(-time.Minute), Origin: OriginUser, MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := s.DueJobs(now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("got %+v", jobs)
	}
}

func TestAgentQueueCapRejectsBeyondLimit(t *testing.T) {
	s := newTestCronStore(t)
	now := time.Now().UTC()
	for i := 0; i < AgentPendingCap; i++ {
		id := "a" + string(rune('0'+i))
		if err := s.Enqueue(Job{ID: id, Expression: "* * * * *", Command: "plan:{}", CreatedAt: now, NextRun: now, Origin: OriginAgent, MaxAttempts: 1}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	err := s.Enqueue(Job{ID: "overflow", Expression: "* * * * *", Command: "plan:{}", CreatedAt: now, NextRun: now, Origin: OriginAgent, MaxAttempts: 1})
	if err == nil {
		t.Fatalf("expected cap to reject the 6th agent job")
	}
}

func TestExpiredAgentJobsDeletedBeforeDueJobsReturns(t *testing.T) {
	s := newTestCronStore(t)
	now := time.Now().UTC()
	expired := now.Add(-time.Hour)
	if err := s.Enqueue(Job{ID: "exp1", Expression: "* * * * *", Command: "plan:{}", CreatedAt: now, NextRun: now.Add(-time.Minute), Origin: OriginAgent, ExpiresAt: &expired, MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := s.DueJobs(now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	for _, j := range jobs {
		if j.ID == "exp1" {
			t.Fatalf("expected expired job to be purged before due_jobs returns")
		}
	}
}

func TestRecoverInterruptedPlanJobsRequeues(t *testing.T) {
	s := newTestCronStore(t)
	now := time.Now().UTC()
	if err := s.Enqueue(Job{ID: "agent1", Expression: "*/5 * * * *", Command: "plan:{}", CreatedAt: now, NextRun: now, Origin: OriginAgent, MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.BeginPlanExecution("agent1", "p1", `{"id":"p1"}`); err != nil {
		t.Fatalf("begin: %v", err)
	}
	recovered, err := s.RecoverInterruptedPlanJobs()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("got recovered=%d, want 1", recovered)
	}
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os/exec"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/cron"
	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/security"
	"github.com/asteroniris-dev/asteroniris/internal/tools"
)

const minPollSeconds = 5 * time.Second

// Scheduler polls persisted cron jobs and executes each according to its
// route (ingestion/trend/poll, agent plan, or direct shell), honoring the
// security policy and retry/backoff rules.
type Scheduler struct {
	jobs         *cron.Store
	mem          *memory.Store
	policy       *security.Policy
	registry     *tools.Registry
	workspaceDir string
	pollInterval time.Duration
	retries      int
	backoffMs    int64
}

// New builds a Scheduler. registry should already carry the default tool
// set and middleware the agent-plan route expects.
func New(jobs *cron.Store, mem *memory.Store, policy *security.Policy, registry *tools.Registry, cfg config.CronConfig, workspaceDir string) *Scheduler {
	poll := parseDurationOr(cfg.PollInterval, 15*time.Second)
	if poll < minPollSeconds {
		poll = minPollSeconds
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}
	backoffMs := int64(parseDurationOr(cfg.RetryBaseDelay, 2*time.Second) / time.Millisecond)
	if backoffMs < 200 {
		backoffMs = 200
	}
	return &Scheduler{
		jobs: jobs, mem: mem, policy: policy, registry: registry,
		workspaceDir: workspaceDir, pollInterval: poll, retries: retries, backoffMs: backoffMs,
	}
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// Run ticks until ctx is cancelled, polling due jobs and executing each with
// retry. Call once at process startup; it recovers interrupted plan
// executions before entering the poll loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if recovered, err := s.jobs.RecoverInterruptedPlanJobs(); err != nil {
		slog.Warn("scheduler: failed to recover interrupted plan executions", "error", err)
	} else if recovered > 0 {
		slog.Info("scheduler: recovered interrupted plan executions", "count", recovered)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runDuePass(ctx)
		}
	}
}

func (s *Scheduler) runDuePass(ctx context.Context) {
	jobs, err := s.jobs.DueJobs(time.Now().UTC())
	if err != nil {
		slog.Warn("scheduler: query failed", "error", err)
		return
	}

	for _, job := range jobs {
		success, output := s.executeJobWithRetry(ctx, job)
		if !success {
			slog.Warn("scheduler: job failed", "job_id", job.ID, "output", output)
		}

		next, nerr := nextRunAfter(job.Expression, time.Now().UTC())
		if nerr != nil {
			slog.Warn("scheduler: failed to compute next run", "job_id", job.ID, "error", nerr)
			next = time.Now().UTC().Add(s.pollInterval)
		}
		if err := s.jobs.RescheduleAfterRun(job, next, success, output); err != nil {
			slog.Warn("scheduler: failed to persist run result", "job_id", job.ID, "error", err)
		}
	}
}

func nextRunAfter(expression string, after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expression, after, false)
}

// effectiveRetryBudget bounds agent-origin retries by the job's own
// max_attempts (minus the attempt already spent) on top of the configured
// scheduler-wide retry count.
func (s *Scheduler) effectiveRetryBudget(job cron.Job) int {
	if job.Origin != cron.OriginAgent {
		return s.retries
	}
	remaining := job.MaxAttempts - 1
	if remaining < 0 {
		remaining = 0
	}
	if remaining < s.retries {
		return remaining
	}
	return s.retries
}

func (s *Scheduler) executeJobWithRetry(ctx context.Context, job cron.Job) (bool, string) {
	var lastOutput string
	retries := s.effectiveRetryBudget(job)
	backoffMs := s.backoffMs

	for attempt := 0; attempt <= retries; attempt++ {
		success, output := s.runJobCommand(ctx, job)
		lastOutput = output
		if success {
			return true, lastOutput
		}
		if strings.HasPrefix(lastOutput, "blocked by security policy:") || strings.Contains(lastOutput, "\nblocked by security policy:") {
			return false, lastOutput
		}
		if attempt < retries {
			jitter := time.Duration(rand.Int63n(250)) * time.Millisecond
			time.Sleep(time.Duration(backoffMs)*time.Millisecond + jitter)
			backoffMs *= 2
			if backoffMs > 30_000 {
				backoffMs = 30_000
			}
		}
	}
	return false, lastOutput
}

func (s *Scheduler) runJobCommand(ctx context.Context, job cron.Job) (bool, string) {
	if job.Origin == cron.OriginAgent {
		return runAgentJobCommand(ctx, s.jobs, s.registry, s.policy, job)
	}
	return s.runUserJobCommand(ctx, job)
}

func (s *Scheduler) runUserJobCommand(ctx context.Context, job cron.Job) (bool, string) {
	if routed, ok := parseRoutedJobCommand(job.Command); ok {
		switch {
		case routed.ingestion != nil:
			return runIngestionJobCommand(ctx, s.mem, s.policy, routed.ingestion)
		case routed.trendAggregation != nil:
			return runTrendAggregationJobCommand(ctx, s.mem, s.policy, routed.trendAggregation)
		case routed.xPoll != nil:
			return runXPollJobCommand(ctx, s.mem, s.policy, routed.xPoll)
		case routed.rssPoll != nil:
			return runRSSPollJobCommand(ctx, s.mem, s.policy, routed.rssPoll)
		}
	}

	if err := enforcePolicyInvariants(s.policy, job.Command, routeMarkerUserShell); err != nil {
		return false, err.Error()
	}

	cmd := exec.CommandContext(ctx, "sh", "-lc", job.Command)
	cmd.Dir = s.workspaceDir
	stdout, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return false, fmt.Sprintf("%s\nstatus=%s\nstdout:\n%s\nstderr:\n%s",
				routeMarkerUserShell, exitErr.String(), strings.TrimSpace(string(stdout)), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return false, fmt.Sprintf("%s\nspawn error: %v", routeMarkerUserShell, err)
	}
	return true, fmt.Sprintf("%s\nstatus=exit status 0\nstdout:\n%s\nstderr:\n", routeMarkerUserShell, strings.TrimSpace(string(stdout)))
}

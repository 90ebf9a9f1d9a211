package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/asteroniris-dev/asteroniris/internal/cron"
	"github.com/asteroniris-dev/asteroniris/internal/security"
	"github.com/asteroniris-dev/asteroniris/internal/tools"
)

// schedulerEntityID is the entity id budget consumption is attributed to for
// scheduler-originated actions (shell/plan gate checks) that have no
// user-channel counterparty to scope against.
const schedulerEntityID = "system:scheduler"

// runAgentJobCommand handles an agent-origin job. Only the "plan:<json>"
// command shape is permitted; anything else is refused outright since agent
// jobs must never reach the direct-shell path.
func runAgentJobCommand(ctx context.Context, jobStore *cron.Store, registry *tools.Registry, policy *security.Policy, job cron.Job) (bool, string) {
	rawPlan, isPlan := strings.CutPrefix(job.Command, "plan:")
	if !isPlan {
		if err := enforcePolicyInvariants(policy, job.Command, routeMarkerAgentBlocked); err != nil {
			return false, err.Error()
		}
		return false, fmt.Sprintf("%s\nblocked by security policy: agent jobs cannot execute direct shell path", routeMarkerAgentBlocked)
	}

	if err := policy.ConsumeActionAndCost(schedulerEntityID, 0); err != nil {
		return false, fmt.Sprintf("%s\nblocked by security policy: %s", routeMarkerAgentPlanner, err)
	}

	rawPlan = strings.TrimSpace(rawPlan)
	plan, err := cron.ParsePlan(rawPlan)
	if err != nil {
		_ = jobStore.PersistPlanExecution(job.ID, "parse_failed", 1, 0, 1, 0, rawPlan)
		return false, fmt.Sprintf("%s\nplan parse failed: %v", routeMarkerAgentPlanner, err)
	}

	runner := cron.NewToolStepRunner(registry)
	executionID, execErr := jobStore.BeginPlanExecution(job.ID, plan.ID, rawPlan)

	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 1
	report, err := cron.Execute(ctx, plan, runner)
	if err != nil {
		finalizeOrPersist(jobStore, job.ID, executionID, execErr, "execution_error", attempts, 0, 1, 0, rawPlan)
		return false, fmt.Sprintf("%s\nplan execution failed: %v", routeMarkerAgentPlanner, err)
	}

	for !report.Success && attempts < maxAttempts {
		attempts++
		retryPlan, perr := cron.ParsePlan(rawPlan)
		if perr != nil {
			break
		}
		retryReport, rerr := cron.Execute(ctx, retryPlan, runner)
		if rerr != nil {
			break
		}
		report = retryReport
	}

	retryLimitReached := !report.Success && attempts >= maxAttempts
	output := fmt.Sprintf(
		"%s\nsuccess=%t\nattempts=%d\nmax_attempts=%d\nretry_limit_reached=%t\ncompleted=%d\nfailed=%d\nskipped=%d",
		routeMarkerAgentPlanner, report.Success, attempts, maxAttempts, retryLimitReached,
		len(report.CompletedSteps), len(report.FailedSteps), len(report.SkippedSteps),
	)
	status := "failed"
	if report.Success {
		status = "completed"
	}
	finalizeOrPersist(jobStore, job.ID, executionID, execErr, status, attempts, len(report.CompletedSteps), len(report.FailedSteps), len(report.SkippedSteps), rawPlan)

	return report.Success, output
}

func finalizeOrPersist(jobStore *cron.Store, jobID, executionID string, beginErr error, status string, attempts, completed, failed, skipped int, rawPlan string) {
	if beginErr == nil && executionID != "" {
		_ = jobStore.FinalizePlanExecution(executionID, status, attempts, completed, failed, skipped)
		return
	}
	_ = jobStore.PersistPlanExecution(jobID, status, attempts, completed, failed, skipped, rawPlan)
}

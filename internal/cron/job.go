// Package cron persists scheduled jobs and plan executions (C7's storage
// layer): the cron_jobs/plan_executions tables, due-job selection, and the
// agent-origin queue cap/expiry rules the scheduler package polls against.
package cron

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asteroniris-dev/asteroniris/internal/schema"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Origin distinguishes a user-authored job from one an agent plan enqueued.
type Origin string

const (
	OriginUser  Origin = "user"
	OriginAgent Origin = "agent"
)

// AgentPendingCap bounds how many agent-origin jobs may be queued at once.
const AgentPendingCap = 5

// Job is one row of cron_jobs.
type Job struct {
	ID          string
	Expression  string
	Command     string
	CreatedAt   time.Time
	NextRun     time.Time
	LastRun     *time.Time
	LastStatus  string
	LastOutput  string
	JobKind     string
	Origin      Origin
	ExpiresAt   *time.Time
	MaxAttempts int
}

// Store owns the cron_jobs/plan_executions SQLite database. The scheduler is
// its single writer; modernc.org/sqlite's driver is not safe for concurrent
// writers from separate connections so the pool is capped at one.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) the SQLite database at path, creating its
// parent directory, and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cron: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cron: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := schema.Apply(db, migrationsFS, "migrations", "cron"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func nullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// pendingAgentCount reports how many agent-origin jobs are currently queued.
func (s *Store) pendingAgentCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM cron_jobs WHERE origin = ?`, string(OriginAgent)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cron: count agent jobs: %w", err)
	}
	return n, nil
}

// Enqueue inserts a new job. Agent-origin jobs are rejected once the queue
// already holds AgentPendingCap entries.
func (s *Store) Enqueue(job Job) error {
	if job.Origin == OriginAgent {
		n, err := s.pendingAgentCount()
		if err != nil {
			return err
		}
		if n >= AgentPendingCap {
			return fmt.Errorf("agent-origin queue cap reached (%d pending jobs)", AgentPendingCap)
		}
	}
	if job.MaxAttempts < 1 {
		job.MaxAttempts = 1
	}
	var expiresAt sql.NullString
	if job.ExpiresAt != nil {
		expiresAt = sql.NullString{String: formatTime(*job.ExpiresAt), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO cron_jobs (id, expression, command, created_at, next_run, job_kind, origin, expires_at, max_attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Expression, job.Command, formatTime(job.CreatedAt), formatTime(job.NextRun),
		job.JobKind, string(job.Origin), expiresAt, job.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("cron: enqueue: %w", err)
	}
	return nil
}

// expireAgentJobs deletes agent jobs whose expires_at has passed.
func (s *Store) expireAgentJobs(now time.Time) error {
	_, err := s.db.Exec(
		`DELETE FROM cron_jobs WHERE origin = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(OriginAgent), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("cron: expire agent jobs: %w", err)
	}
	return nil
}

// DueJobs expires stale agent jobs, then returns every job whose next_run
// has arrived, ordered by next_run ascending.
func (s *Store) DueJobs(now time.Time) ([]Job, error) {
	if err := s.expireAgentJobs(now); err != nil {
		return nil, err
	}
	return s.queryJobs(`SELECT id, expression, command, created_at, next_run, last_run, last_status, last_output,
		        job_kind, origin, expires_at, max_attempts
		 FROM cron_jobs WHERE next_run <= ? ORDER BY next_run ASC`, formatTime(now))
}

// AllJobs returns every job regardless of next_run, ordered by next_run
// ascending — for `cron list`, which shouldn't perturb scheduling state the
// way DueJobs's expireAgentJobs side effect would.
func (s *Store) AllJobs() ([]Job, error) {
	return s.queryJobs(`SELECT id, expression, command, created_at, next_run, last_run, last_status, last_output,
		        job_kind, origin, expires_at, max_attempts
		 FROM cron_jobs ORDER BY next_run ASC`)
}

func (s *Store) queryJobs(query string, args ...interface{}) ([]Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("cron: query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j                                         Job
			createdAt, nextRun                        string
			lastRun, lastStatus, lastOutput, expiresAt sql.NullString
			origin                                     string
		)
		if err := rows.Scan(&j.ID, &j.Expression, &j.Command, &createdAt, &nextRun, &lastRun,
			&lastStatus, &lastOutput, &j.JobKind, &origin, &expiresAt, &j.MaxAttempts); err != nil {
			return nil, fmt.Errorf("cron: scan due job: %w", err)
		}
		j.Origin = Origin(origin)
		if j.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("cron: parse created_at: %w", err)
		}
		if j.NextRun, err = parseTime(nextRun); err != nil {
			return nil, fmt.Errorf("cron: parse next_run: %w", err)
		}
		if j.LastRun, err = nullableTime(lastRun); err != nil {
			return nil, fmt.Errorf("cron: parse last_run: %w", err)
		}
		if j.ExpiresAt, err = nullableTime(expiresAt); err != nil {
			return nil, fmt.Errorf("cron: parse expires_at: %w", err)
		}
		j.LastStatus = lastStatus.String
		j.LastOutput = lastOutput.String
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RescheduleAfterRun records the outcome of a run and advances next_run
// according to the job's cron expression (caller-computed via nextRun).
func (s *Store) RescheduleAfterRun(job Job, nextRun time.Time, success bool, output string) error {
	now := time.Now().UTC()
	status := "failed"
	if success {
		status = "ok"
	}
	_, err := s.db.Exec(
		`UPDATE cron_jobs SET last_run = ?, last_status = ?, last_output = ?, next_run = ? WHERE id = ?`,
		formatTime(now), status, output, formatTime(nextRun), job.ID,
	)
	if err != nil {
		return fmt.Errorf("cron: reschedule: %w", err)
	}
	return nil
}

// UpsertRecoveredAgentJob either refreshes an existing agent job (by id) to
// recover-pending status, or inserts a fresh placeholder carrying the stored
// plan JSON, matching recover_interrupted_plan_jobs semantics.
func (s *Store) UpsertRecoveredAgentJob(id, planJSON string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE cron_jobs
		 SET next_run = ?, last_status = 'recover_pending', last_output = 'recovered_from_plan_execution',
		     max_attempts = CASE WHEN max_attempts < 1 THEN 3 ELSE max_attempts END
		 WHERE id = ? AND origin = ?`,
		formatTime(now), id, string(OriginAgent),
	)
	if err != nil {
		return fmt.Errorf("cron: recover update: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.Exec(
		`INSERT INTO cron_jobs (id, expression, command, created_at, next_run, last_run, last_status,
		        last_output, job_kind, origin, expires_at, max_attempts)
		 VALUES (?, '*/5 * * * *', ?, ?, ?, NULL, 'recover_pending', 'recovered_from_plan_execution', 'agent', 'agent', NULL, 3)`,
		newID(), "plan:"+planJSON, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("cron: recover insert: %w", err)
	}
	return nil
}

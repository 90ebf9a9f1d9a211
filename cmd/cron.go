package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronListCmd())
	return cmd
}

func openCronStore() (*cron.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	path := cfg.Cron.DBPath
	if path == "" {
		ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
		path = filepath.Join(ws, "cron", "jobs.db")
	}
	return cron.Open(path)
}

func cronAddCmd() *cobra.Command {
	var (
		expression  string
		command     string
		maxAttempts int
	)
	c := &cobra.Command{
		Use:   "add",
		Short: "Schedule a new cron job",
		Long:  "Add a cron job. --command is either a plain shell command, or plan:<json5> to enqueue a multi-step plan (see internal/cron.ParsePlan).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if expression == "" || command == "" {
				return fmt.Errorf("--expr and --command are required")
			}
			if !gronx.IsValid(expression) {
				return fmt.Errorf("invalid cron expression %q", expression)
			}
			if body, ok := planBody(command); ok {
				if _, err := cron.ParsePlan(body); err != nil {
					return fmt.Errorf("invalid plan body: %w", err)
				}
			}

			store, err := openCronStore()
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now().UTC()
			next, err := gronx.NextTickAfter(expression, now, false)
			if err != nil {
				return fmt.Errorf("compute next run: %w", err)
			}

			job := cron.Job{
				ID:          uuid.NewString(),
				Expression:  expression,
				Command:     command,
				CreatedAt:   now,
				NextRun:     next,
				JobKind:     "user",
				Origin:      cron.OriginUser,
				MaxAttempts: maxAttempts,
			}
			if err := store.Enqueue(job); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			fmt.Printf("scheduled job %s, next run %s\n", job.ID, next.Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().StringVar(&expression, "expr", "", "cron expression (5-field)")
	c.Flags().StringVar(&command, "command", "", "shell command, or plan:<json5>")
	c.Flags().IntVar(&maxAttempts, "max-attempts", 1, "retry attempts on failure")
	return c
}

func planBody(command string) (string, bool) {
	const prefix = "plan:"
	if len(command) > len(prefix) && command[:len(prefix)] == prefix {
		return command[len(prefix):], true
	}
	return "", false
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.AllJobs()
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Println("no scheduled jobs")
				return nil
			}
			for _, j := range jobs {
				status := j.LastStatus
				if status == "" {
					status = "pending"
				}
				fmt.Printf("  %-36s %-20s %-8s next=%s %s\n", j.ID, j.Expression, status, j.NextRun.Format(time.RFC3339), string(j.Origin))
			}
			return nil
		},
	}
}

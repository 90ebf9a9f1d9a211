package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/cron"
	"github.com/asteroniris-dev/asteroniris/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("asteroniris doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Security policy:")
	fmt.Printf("    %-20s %s\n", "Autonomy floor:", orDefault(cfg.Security.Autonomy, "read_only"))
	actionBudget := fmt.Sprintf("%d/hr", cfg.Security.ActionsPerHour())
	if cfg.Security.ActionsPerHour() < 0 {
		actionBudget = "unlimited"
	} else if cfg.Security.ActionsPerHour() == 0 {
		actionBudget = "0/hr (all actions denied)"
	}
	fmt.Printf("    %-20s %s\n", "Action budget:", actionBudget)
	fmt.Printf("    %-20s %d\n", "Cost budget (cents):", cfg.Security.CostRateLimitCents)
	fmt.Printf("    %-20s %d entries\n", "Allowed commands:", len(cfg.Security.AllowedCommands))
	fmt.Printf("    %-20s %d entries\n", "Allowed paths:", len(cfg.Security.AllowedPaths))

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	checkProvider("Mistral", cfg.Providers.Mistral.APIKey)
	checkProvider("XAI", cfg.Providers.XAI.APIKey)

	fmt.Println()
	fmt.Println("  Auth profiles:")
	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	authPath := filepath.Join(ws, "auth-profiles.json")
	if _, err := os.Stat(authPath); err != nil {
		fmt.Printf("    %-20s (none created yet, falls back to legacy config.api_key profiles)\n", "Store:")
	} else {
		fmt.Printf("    %-20s %s (OK)\n", "Store:", authPath)
	}
	fmt.Printf("    %-20s %ds\n", "Cooldown:", orDefaultInt(cfg.AuthProfile.CooldownSeconds, 300))

	fmt.Println()
	fmt.Println("  Memory store:")
	memPath := cfg.Memory.DBPath
	if memPath == "" {
		memPath = filepath.Join(ws, "memory", "brain.db")
	}
	if _, err := os.Stat(memPath); err != nil {
		fmt.Printf("    %-20s %s (NOT FOUND, created on first run)\n", "brain.db:", memPath)
	} else {
		fmt.Printf("    %-20s %s (OK)\n", "brain.db:", memPath)
	}

	fmt.Println()
	fmt.Println("  Cron scheduler:")
	cronPath := cfg.Cron.DBPath
	if cronPath == "" {
		cronPath = filepath.Join(ws, "cron", "jobs.db")
	}
	if _, err := os.Stat(cronPath); err != nil {
		fmt.Printf("    %-20s %s (NOT FOUND, created on first run)\n", "jobs.db:", cronPath)
	} else {
		fmt.Printf("    %-20s %s (OK)\n", "jobs.db:", cronPath)
	}
	fmt.Printf("    %-20s %s\n", "Poll interval:", orDefault(cfg.Cron.PollInterval, "15s"))
	fmt.Printf("    %-20s %d\n", "Agent pending cap:", orDefaultInt(cfg.Cron.AgentPendingCap, 5))

	if _, err := os.Stat(cronPath); err == nil {
		if jobsStore, err := cron.Open(cronPath); err == nil {
			if jobs, err := jobsStore.AllJobs(); err == nil {
				pendingAgent := 0
				for _, j := range jobs {
					if j.Origin == cron.OriginAgent {
						pendingAgent++
					}
				}
				fmt.Printf("    %-20s %d total, %d agent-origin\n", "Queued jobs:", len(jobs), pendingAgent)
			}
			jobsStore.Close()
		}
	}

	fmt.Println()
	fmt.Println("  State snapshots:")
	checkStateFile("memory hygiene", filepath.Join(ws, "state", "memory_hygiene_state.json"))
	checkStateFile("autonomy mode", filepath.Join(ws, "state", "autonomy_mode_state.json"))

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("curl")
	checkBinary("git")

	fmt.Println()
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func checkProvider(name, apiKey string) {
	if apiKey != "" {
		maskedKey := apiKey
		if len(apiKey) > 8 {
			maskedKey = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		}
		fmt.Printf("    %-12s %s\n", name+":", maskedKey)
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkStateFile(label, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-16s (absent)\n", label+":")
		return
	}
	fmt.Printf("    %-16s %s (OK)\n", label+":", path)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asteroniris-dev/asteroniris/internal/agent"
	"github.com/asteroniris-dev/asteroniris/internal/approval"
	"github.com/asteroniris-dev/asteroniris/internal/authstore"
	"github.com/asteroniris-dev/asteroniris/internal/bootstrap"
	"github.com/asteroniris-dev/asteroniris/internal/bus"
	"github.com/asteroniris-dev/asteroniris/internal/channels"
	"github.com/asteroniris-dev/asteroniris/internal/channels/discord"
	"github.com/asteroniris-dev/asteroniris/internal/channels/telegram"
	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/cron"
	"github.com/asteroniris-dev/asteroniris/internal/gateway"
	"github.com/asteroniris-dev/asteroniris/internal/mcp"
	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/providers"
	"github.com/asteroniris-dev/asteroniris/internal/scheduler"
	"github.com/asteroniris-dev/asteroniris/internal/secrets"
	"github.com/asteroniris-dev/asteroniris/internal/security"
	"github.com/asteroniris-dev/asteroniris/internal/skills"
	"github.com/asteroniris-dev/asteroniris/internal/store"
	"github.com/asteroniris-dev/asteroniris/internal/store/file"
	"github.com/asteroniris-dev/asteroniris/internal/store/pg"
	"github.com/asteroniris-dev/asteroniris/internal/supervisor"
	"github.com/asteroniris-dev/asteroniris/internal/tools"
	"github.com/asteroniris-dev/asteroniris/internal/tracing"
)

func runCmd() *cobra.Command {
	var watch bool
	c := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway: chat HTTP/WebSocket surface plus the cron scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(watch)
		},
	}
	c.Flags().BoolVar(&watch, "watch", false, "hot-reload config.toml on change")
	return c
}

func runGateway(watch bool) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if watch {
		w, err := config.WatchFile(cfgPath, cfg)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer w.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	// Provider keys resolve through the auth profile store first, falling
	// back to the flat config keys when no profile serves a provider.
	secretStore := secrets.New(ws, true)
	auth, err := authstore.Load(filepath.Join(ws, "auth-profiles.json"), secretStore, true)
	if err != nil {
		slog.Warn("run: auth profile store unavailable, using config keys", "error", err)
		auth = authstore.New()
	}
	resolveKey := func(provider, configKey string) string {
		return auth.ResolveProviderAPIKey(provider, configKey)
	}

	providerReg := providers.BuildRegistry(providers.ConfigSource{
		Anthropic:  providers.NamedKey{APIKey: resolveKey("anthropic", cfg.Providers.Anthropic.APIKey), APIBase: cfg.Providers.Anthropic.APIBase},
		OpenAI:     providers.NamedKey{APIKey: resolveKey("openai", cfg.Providers.OpenAI.APIKey), APIBase: cfg.Providers.OpenAI.APIBase},
		OpenRouter: providers.NamedKey{APIKey: resolveKey("openrouter", cfg.Providers.OpenRouter.APIKey), APIBase: cfg.Providers.OpenRouter.APIBase},
		Groq:       providers.NamedKey{APIKey: resolveKey("groq", cfg.Providers.Groq.APIKey), APIBase: cfg.Providers.Groq.APIBase},
		Gemini:     providers.NamedKey{APIKey: resolveKey("gemini", cfg.Providers.Gemini.APIKey), APIBase: cfg.Providers.Gemini.APIBase},
		DeepSeek:   providers.NamedKey{APIKey: resolveKey("deepseek", cfg.Providers.DeepSeek.APIKey), APIBase: cfg.Providers.DeepSeek.APIBase},
		Mistral:    providers.NamedKey{APIKey: resolveKey("mistral", cfg.Providers.Mistral.APIKey), APIBase: cfg.Providers.Mistral.APIBase},
		XAI:        providers.NamedKey{APIKey: resolveKey("xai", cfg.Providers.XAI.APIKey), APIBase: cfg.Providers.XAI.APIBase},
	})
	if len(providerReg.Names()) == 0 {
		slog.Warn("run: no providers configured, chat turns will fail until an auth profile is added")
	}

	memPath := cfg.Memory.DBPath
	if memPath == "" {
		memPath = filepath.Join(ws, "memory", "brain.db")
	}
	memStore, err := memory.Open(memPath)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	cronPath := cfg.Cron.DBPath
	if cronPath == "" {
		cronPath = filepath.Join(ws, "cron", "jobs.db")
	}
	cronStore, err := cron.Open(cronPath)
	if err != nil {
		return fmt.Errorf("open cron store: %w", err)
	}
	defer cronStore.Close()

	if created, err := bootstrap.EnsureWorkspaceFiles(ws); err != nil {
		slog.Warn("run: workspace seeding failed", "error", err)
	} else if len(created) > 0 {
		slog.Info("run: seeded workspace files", "files", created)
	}

	policy := security.New(cfg.Security, ws)
	permStore := supervisor.LoadPermissionStore(ws)
	approvalBroker := approval.BrokerForChannel("gateway", approval.ChannelApprovalContext{}, nil, nil)
	toolsReg := tools.NewRegistry(
		tools.NewSecurityMiddleware(policy),
		tools.NewApprovalMiddleware(policy, approvalBroker, permStore),
	)
	tools.RegisterBuiltins(toolsReg, cfg, providerReg, memStore, ws)

	mcpManager := mcp.NewManager(toolsReg, mcp.WithConfigs(cfg.Tools.McpServers))
	if err := mcpManager.Start(ctx); err != nil {
		slog.Warn("run: mcp servers failed to start", "error", err)
	}
	defer mcpManager.Stop()

	messageBus := bus.NewMessageBus(256)

	traceCollector, traceShutdown, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("run: telemetry setup failed, tracing disabled", "error", err)
		traceCollector, traceShutdown, _ = tracing.Setup(ctx, config.TelemetryConfig{})
	}
	defer traceShutdown(context.Background())

	skillsLoader := skills.NewLoader(filepath.Join(ws, "skills"))

	persona := agent.PersonaPolicy{}
	if pc := cfg.Agents.Defaults.Persona; pc != nil {
		persona.Enabled = pc.Enabled != nil && *pc.Enabled
		persona.ReflectModel = pc.ReflectModel
	}
	verifyRepair := agent.DefaultVerifyRepairPolicy()
	if vr := cfg.Agents.Defaults.VerifyRepair; vr != nil {
		if vr.MaxAttempts > 0 {
			verifyRepair.MaxAttempts = vr.MaxAttempts
		}
		if vr.MaxRepairDepth > 0 && vr.MaxRepairDepth < verifyRepair.MaxAttempts {
			verifyRepair.MaxRepairDepth = vr.MaxRepairDepth
		}
	}

	answerProvider, _ := providerReg.Get(cfg.Agents.Defaults.Provider)
	turn := &agent.Turn{
		AnswerProvider:    answerProvider,
		ReflectProvider:   answerProvider,
		Registry:          toolsReg,
		ToolPolicy:        tools.NewPolicyEngine(&cfg.Tools),
		MaxToolIterations: orDefaultInt(cfg.Agents.Defaults.MaxToolIterations, 8),
		Workspace:         ws,
		Skills:            skillsLoader,
		ContextFiles:      bootstrap.LoadWorkspaceFiles(ws),
		Tracing:           traceCollector,
		Policy:            policy,
		Memory:            memStore,
		Persona:           persona,
		VerifyRepair:      verifyRepair,
		Autosave:          true,
		Events:            messageBus,
		Consolidation:     cronStore,
	}

	process := supervisor.NewChannelProcess(turn, messageBus, "", cfg.Agents.Defaults.Model, cfg.Agents.Defaults.Temperature)

	// Per-channel processes carry each channel's autonomy floor and tool
	// allowlist; unregistered channels fall back to the default process.
	policyReg := supervisor.NewChannelPolicyRegistryFromConfig(cfg.Channels)
	processes := make(map[string]*supervisor.ChannelProcess)

	pairingStore, err := store.NewFilePairingStore(filepath.Join(ws, "pairings.json"))
	if err != nil {
		return fmt.Errorf("open pairing store: %w", err)
	}

	chanManager := channels.NewManager(messageBus)
	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, messageBus, pairingStore)
		if err != nil {
			slog.Error("run: telegram channel init failed", "error", err)
		} else {
			chanManager.RegisterChannel(tg.Name(), tg)
			processes[tg.Name()] = supervisor.NewChannelProcess(turn, messageBus, "", cfg.Agents.Defaults.Model, cfg.Agents.Defaults.Temperature).
				WithChannelPolicy(policyReg.PolicyFor(tg.Name()))
		}
	}
	if cfg.Channels.Discord.Enabled {
		dc, err := discord.New(cfg.Channels.Discord, messageBus, pairingStore)
		if err != nil {
			slog.Error("run: discord channel init failed", "error", err)
		} else {
			chanManager.RegisterChannel(dc.Name(), dc)
			processes[dc.Name()] = supervisor.NewChannelProcess(turn, messageBus, "", cfg.Agents.Defaults.Model, cfg.Agents.Defaults.Temperature).
				WithChannelPolicy(policyReg.PolicyFor(dc.Name()))
		}
	}
	if err := chanManager.StartAll(ctx); err != nil {
		slog.Error("run: channel startup failed", "error", err)
	}
	defer chanManager.StopAll(context.Background())

	go supervisor.RunInboundPump(ctx, messageBus, processes, process, 4)

	// Cortex bulletin: periodic recall of recent important context into a
	// shared cell the diagnostics surface reads.
	bulletin := &supervisor.BulletinCache{}
	go supervisor.RunCortexLoop(ctx, memStore, bulletin, "system", 5*time.Minute)

	go supervisor.RunHeartbeatLoop(ctx, process, cfg.Agents.Defaults.Heartbeat)

	supervisor.AttachIntentLogger(messageBus, supervisor.NewIntentLogger(ws))

	var sessions store.SessionStore
	if dsn := cfg.Store.Postgres.DSN; dsn != "" {
		pgStore, err := pg.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open postgres session store: %w", err)
		}
		defer pgStore.Close()
		sessions = pgStore
		slog.Info("run: sessions backed by postgres")
	} else {
		sessions = file.NewFileSessionStore(filepath.Join(ws, "sessions"))
	}

	srv := gateway.NewServer(cfg, messageBus, process, sessions, toolsReg).WithPairing(pairingStore)

	sched := scheduler.New(cronStore, memStore, policy, toolsReg, cfg.Cron, ws)

	go func() {
		if err := sched.Run(ctx); err != nil {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", orDefault(cfg.Gateway.Host, "127.0.0.1"), cfg.Gateway.Port)
	if gateway.RequiresTunnel(cfg.Gateway.Host, cfg.Gateway.RequireTunnel) {
		return runThroughTunnel(ctx, srv, cfg, addr)
	}

	slog.Info("run: gateway listening", "addr", addr)
	return srv.Start(ctx, addr)
}

// runThroughTunnel binds the gateway's mux to a Tailscale tsnet listener
// instead of a plain TCP socket, matching GatewayConfig.RequireTunnel's
// contract: a public host is never exposed without tailnet membership.
func runThroughTunnel(ctx context.Context, srv *gateway.Server, cfg *config.Config, addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("run: parse gateway addr %q: %w", addr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("run: parse gateway port %q: %w", portStr, err)
	}

	ln, tsSrv, err := gateway.TunnelListener(cfg.Tailscale, port)
	if err != nil {
		return fmt.Errorf("run: gateway.require_tunnel is set but tailnet join failed: %w", err)
	}
	defer tsSrv.Close()

	slog.Info("run: gateway bound to tailnet", "hostname", cfg.Tailscale.Hostname, "port", port)

	done := make(chan error, 1)
	go func() { done <- srv.ServeOn(ctx, ln) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

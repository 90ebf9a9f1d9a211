package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/asteroniris-dev/asteroniris/internal/authstore"
	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/secrets"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider auth profiles",
	}
	cmd.AddCommand(authListCmd())
	cmd.AddCommand(authStatusCmd())
	cmd.AddCommand(authLoginCmd())
	return cmd
}

func openAuthStore() (*authstore.Store, string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	path := filepath.Join(ws, "auth-profiles.json")
	secretStore := secrets.New(ws, true)
	store, err := authstore.Load(path, secretStore, true)
	if err != nil {
		return nil, "", fmt.Errorf("load auth profiles: %w", err)
	}
	return store, path, nil
}

func authListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured auth profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, path, err := openAuthStore()
			if err != nil {
				return err
			}
			if len(store.Profiles) == 0 {
				fmt.Printf("no auth profiles in %s\n", path)
				return nil
			}
			for _, p := range store.Profiles {
				status := "active"
				if p.Disabled {
					status = "disabled"
				}
				label := p.Label
				if label == "" {
					label = p.ID
				}
				fmt.Printf("  %-20s %-12s %-10s %s\n", p.ID, p.Provider, status, label)
			}
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	var provider string
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the active profile for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openAuthStore()
			if err != nil {
				return err
			}
			if provider == "" {
				return fmt.Errorf("--provider is required")
			}
			profile, ok := store.ActiveProfileForProvider(provider)
			if !ok {
				fmt.Printf("%s: no active profile (cooldown or none configured)\n", provider)
				return nil
			}
			fmt.Printf("%s: active profile %q (%s)\n", provider, profile.ID, orDefault(profile.Label, "no label"))
			return nil
		},
	}
	c.Flags().StringVar(&provider, "provider", "", "provider name (anthropic, openai, ...)")
	return c
}

func authLoginCmd() *cobra.Command {
	var (
		provider   string
		profileID  string
		label      string
		apiKey     string
		setDefault bool
	)
	c := &cobra.Command{
		Use:   "login",
		Short: "Add or update an auth profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				if err := promptLoginForm(&provider, &profileID, &label, &apiKey); err != nil {
					return fmt.Errorf("prompt: %w", err)
				}
			}
			if provider == "" || apiKey == "" {
				return fmt.Errorf("provider and api key are required")
			}
			if profileID == "" {
				profileID = provider + "-default"
			}

			store, path, err := openAuthStore()
			if err != nil {
				return err
			}
			profile := authstore.AuthProfile{
				ID:       profileID,
				Provider: provider,
				Label:    label,
				APIKey:   apiKey,
			}
			if _, err := store.UpsertProfile(profile, setDefault); err != nil {
				return fmt.Errorf("save profile: %w", err)
			}
			if err := store.Save(); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("saved profile %q for %s in %s\n", profileID, provider, path)
			return nil
		},
	}
	c.Flags().StringVar(&provider, "provider", "", "provider name (anthropic, openai, openrouter, ...)")
	c.Flags().StringVar(&profileID, "profile", "", "profile id (default: <provider>-default)")
	c.Flags().StringVar(&label, "label", "", "human-readable label")
	c.Flags().StringVar(&apiKey, "api-key", "", "API key (omit to be prompted on a TTY)")
	c.Flags().BoolVar(&setDefault, "default", true, "make this the default profile for the provider")
	return c
}

// promptLoginForm fills in missing login fields interactively. Used only
// when --api-key is omitted, since piping a secret through an interactive
// prompt in a non-TTY context (CI, a script) isn't something huh supports.
func promptLoginForm(provider, profileID, label, apiKey *string) error {
	if os.Getenv("CI") != "" {
		return fmt.Errorf("--api-key is required in non-interactive environments")
	}
	if fi, err := os.Stdin.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return fmt.Errorf("--api-key is required in non-interactive environments")
	}
	providerOptions := []huh.Option[string]{
		huh.NewOption("Anthropic", "anthropic"),
		huh.NewOption("OpenAI", "openai"),
		huh.NewOption("OpenRouter", "openrouter"),
		huh.NewOption("Gemini", "gemini"),
		huh.NewOption("Groq", "groq"),
		huh.NewOption("DeepSeek", "deepseek"),
		huh.NewOption("Mistral", "mistral"),
		huh.NewOption("XAI", "xai"),
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Provider").
				Options(providerOptions...).
				Value(provider),
			huh.NewInput().
				Title("Profile label").
				Placeholder("optional").
				Value(label),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(apiKey),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if *profileID == "" && *provider != "" {
		*profileID = *provider + "-default"
	}
	return nil
}

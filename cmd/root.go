package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/asteroniris-dev/asteroniris/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/asteroniris-dev/asteroniris/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "asteroniris",
	Short: "asteroniris — AI agent gateway",
	Long:  "asteroniris: a multi-agent runtime with WebSocket/HTTP RPC, tool execution, and channel integration.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.toml or $ASTERONIRIS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(cronCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("asteroniris %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("ASTERONIRIS_CONFIG"); v != "" {
		return v
	}
	return "config.toml"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package commands provides the CLI commands for botwire.
package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/botwire/botwire/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "botwire",
	Short: "botwire - MCP bridge for driving a chat bot from LLM/IDE tooling",
	Long: `botwire mounts an HTTP bridge inside the bot host process and exposes it
to LLM/IDE tooling over the Model Context Protocol.

Run 'botwire serve' to start the bridge, or 'botwire mcp-server' to run
the stdio MCP server standalone against an already running bridge.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Local .env files are a convenience for development setups.
		_ = godotenv.Load()
		if cmd.Name() != "mcp-server" {
			logging.Init(logging.Config{Level: logging.ParseLevel(logLevel), Pretty: true})
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("botwire %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpServerCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

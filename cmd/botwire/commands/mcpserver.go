package commands

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/botwire/botwire/internal/logging"
	"github.com/botwire/botwire/internal/mcpserver"
)

var (
	mcpBridgeURL      string
	mcpReadyTimeoutMs int
	mcpRetries        int
	mcpBackoffMs      int
	mcpLogLevel       string
)

var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Run the MCP stdio server against a running bridge",
	Long: `Speak MCP (newline-delimited JSON-RPC 2.0) on stdin/stdout and forward
tool calls to the bridge over HTTP.

All diagnostics go to stderr as JSON log lines; stdout carries only
protocol messages. Flags take precedence over BOTWIRE_* environment
variables.`,
	RunE: runMCPServer,
}

func init() {
	mcpServerCmd.Flags().StringVar(&mcpBridgeURL, "bridge-url", "", "Bridge base URL including the mount path")
	mcpServerCmd.Flags().IntVar(&mcpReadyTimeoutMs, "ready-timeout-ms", 0, "Health check timeout in milliseconds")
	mcpServerCmd.Flags().IntVar(&mcpRetries, "retries", 0, "Action call attempts")
	mcpServerCmd.Flags().IntVar(&mcpBackoffMs, "backoff-ms", 0, "Linear backoff unit in milliseconds")
	mcpServerCmd.Flags().StringVar(&mcpLogLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
}

func envOr(flag, key string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(key)
}

func envOrInt(flag int, key string) int {
	if flag > 0 {
		return flag
	}
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return 0
}

func runMCPServer(cmd *cobra.Command, args []string) (err error) {
	level := envOr(mcpLogLevel, "BOTWIRE_LOG_LEVEL")
	logging.InitStdioServer(logging.ParseLevel(level))

	// Unexpected failures must be logged before the non-zero exit; the
	// parent bridges these stderr lines into its own log.
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Any("panic", r).Msg("fatal error")
			os.Exit(2)
		}
	}()

	bridgeURL := envOr(mcpBridgeURL, "BOTWIRE_BRIDGE_URL")
	if bridgeURL == "" {
		bridgeURL = "http://127.0.0.1:7777/MCP"
	}

	client := mcpserver.NewClient(mcpserver.ClientConfig{
		BridgeURL:    bridgeURL,
		ReadyTimeout: time.Duration(envOrInt(mcpReadyTimeoutMs, "BOTWIRE_READY_TIMEOUT_MS")) * time.Millisecond,
		Retries:      envOrInt(mcpRetries, "BOTWIRE_RETRIES"),
		Backoff:      time.Duration(envOrInt(mcpBackoffMs, "BOTWIRE_BACKOFF_MS")) * time.Millisecond,
	})

	srv := mcpserver.New(client, mcpserver.Options{
		Version:         Version,
		DefaultUserID:   os.Getenv("BOTWIRE_DEFAULT_USER_ID"),
		DefaultNickname: os.Getenv("BOTWIRE_DEFAULT_NICKNAME"),
		ConfigRead:      os.Getenv("BOTWIRE_CONFIG_READ") == "1",
	}, os.Stdin, os.Stdout)

	logging.Info().Str("bridgeUrl", bridgeURL).Msg("mcp server ready")
	return srv.Run(cmd.Context())
}

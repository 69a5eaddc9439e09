package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/botwire/botwire/internal/bridge"
	"github.com/botwire/botwire/internal/config"
	"github.com/botwire/botwire/internal/event"
	"github.com/botwire/botwire/internal/logging"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveNoChild  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP bridge and the MCP stdio server child process",
	Long: `Start the bridge HTTP server, mount it under the configured path, and
spawn the MCP stdio server as a supervised child process.

Editing the project config file rebuilds the bridge instance in place;
requests to a retired mount path answer 410 with the active path.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Project directory (defaults to cwd)")
	serveCmd.Flags().BoolVar(&serveNoChild, "no-mcp-server", false, "Do not spawn the MCP stdio server child process")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir := serveDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workDir = wd
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	logging.Info().Str("version", Version).Str("dir", workDir).Msg("starting botwire")

	bus := event.NewBus()
	defer bus.Close()
	registry := bridge.NewRegistry()
	manager := bridge.NewManager()

	manager.Swap(buildBridge(cfg, bus, registry))
	defer manager.Close()

	// Config edits rebuild the whole bridge instance: new traces, buffers,
	// limiter buckets, supervisor, and possibly a new mount path.
	watcher, err := config.NewWatcher(config.ProjectConfigPath(workDir), func() {
		next, err := config.Load(workDir)
		if err != nil {
			logging.Error().Err(err).Msg("config reload failed, keeping current bridge")
			return
		}
		if servePort > 0 {
			next.Port = servePort
		}
		if next.Port != cfg.Port {
			logging.Warn().Int("port", next.Port).Msg("port changes require a restart, keeping current listener")
			next.Port = cfg.Port
		}
		manager.Swap(buildBridge(next, bus, registry))
		bus.Publish(context.Background(), event.Event{Type: event.BridgeReloaded, Data: next.MCPPath})
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher unavailable")
	}
	if watcher != nil {
		watcher.Start()
		defer watcher.Stop()
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", serveHostname, cfg.Port),
		Handler:     manager,
		ReadTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("mcpPath", manager.ActivePath()).Msg("bridge listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildBridge wires one bridge instance, including its supervised stdio
// server child.
func buildBridge(cfg *config.Config, bus *event.Bus, registry *bridge.Registry) *bridge.Bridge {
	bridgeURL := cfg.MCPServer.BridgeURL
	if bridgeURL == "" {
		bridgeURL = fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Port, cfg.MCPPath)
	}

	var sup *bridge.Supervisor
	if !serveNoChild {
		if exe, err := os.Executable(); err != nil {
			logging.Warn().Err(err).Msg("cannot resolve own binary, mcp server not spawned")
		} else {
			childArgs := []string{
				"mcp-server",
				"--bridge-url", bridgeURL,
				"--ready-timeout-ms", strconv.Itoa(cfg.MCPServer.ReadyTimeoutMs),
				"--retries", strconv.Itoa(cfg.MCPServer.Retries),
				"--backoff-ms", strconv.Itoa(cfg.MCPServer.BackoffMs),
				"--log-level", cfg.MCPServer.LogLevel,
			}
			env := map[string]string{
				"BOTWIRE_DEFAULT_USER_ID":  cfg.Defaults.UserID,
				"BOTWIRE_DEFAULT_NICKNAME": cfg.Defaults.Nickname,
			}
			if cfg.MCPTools.ConfigRead {
				env["BOTWIRE_CONFIG_READ"] = "1"
			}
			sup = bridge.NewSupervisor(exe, childArgs, env)
			if err := sup.Start(); err != nil {
				logging.Error().Err(err).Msg("mcp server failed to start")
			}
		}
	}

	return bridge.New(bridge.Options{
		Config:     cfg,
		Registry:   registry,
		Bus:        bus,
		Supervisor: sup,
		BaseURL:    bridgeURL,
	})
}

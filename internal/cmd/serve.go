package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/logging"
	"github.com/landingbay/rlbridge/internal/web"
)

// shutdownTimeout bounds the graceful drain of live sessions.
const shutdownTimeout = 10 * time.Second

var (
	serveListen   string
	serveBackend  string
	serveBasePath string
	serveNoWatch  bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the HTTP server that hosts the relay endpoint.

Routes (relative to the base path):
  api/ws       WebSocket relay to <backend>/ws/simulate
  api/health   Liveness and active session count
  api/py/...   REST pass-through to the backend (cookie -> bearer)

The configuration file is watched while the server runs: changes to the
log level and the allowed origins apply without a restart.

Example:
  rlbridge serve                                   # Use configuration defaults
  rlbridge serve --listen :3000                    # Listen on all interfaces
  rlbridge serve --backend http://sim:8000         # Point at another backend
  rlbridge serve --base-path /                     # Serve at the root`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: server.listen)")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Backend base URL (default: relay.backend_url or $"+config.EnvBackendURL+")")
	serveCmd.Flags().StringVar(&serveBasePath, "base-path", "", "Route prefix, starting and ending with / (default: server.base_path)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the configuration file when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings := *cfg
	if serveListen != "" {
		settings.Server.Listen = serveListen
	}
	if serveBackend != "" {
		settings.Relay.BackendURL = serveBackend
	}
	if serveBasePath != "" {
		settings.Server.BasePath = serveBasePath
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	srv, err := web.NewServer(web.Config{Settings: &settings})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if watchPath := resolveConfigFile(); watchPath != "" && !serveNoWatch {
		watcher, err := config.NewWatcher(watchPath, cfg, logging.ConfigLog())
		if err != nil {
			logging.ConfigLog().Warn("Config hot reload disabled", "path", watchPath, "error", err)
		} else {
			watcher.Subscribe(srv)
			watcher.Start()
			defer watcher.Close()
		}
	}

	listener, err := net.Listen("tcp", settings.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", settings.Server.Listen, err)
	}

	fmt.Printf("🚀 Starting relay server...\n")
	fmt.Printf("   URL: http://%s%s\n", listener.Addr(), srv.BasePath())
	fmt.Printf("   Backend: %s\n", srv.Relay().Endpoint())
	if settings.Relay.JWTSecret != "" {
		fmt.Printf("   Credentials: verified (HS256)\n")
	} else {
		fmt.Printf("   Credentials: forwarded as-is\n")
	}

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	shutdownErr := make(chan error, 1)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctx)
	}()

	fmt.Printf("\n   Press Ctrl+C to stop\n\n")

	if err := srv.Serve(listener); err != nil && !srv.IsShutdown() {
		return fmt.Errorf("server error: %w", err)
	}
	if err := <-shutdownErr; err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// resolveConfigFile returns the configuration file in effect, or "" when
// the defaults are used.
func resolveConfigFile() string {
	if configPath != "" {
		return configPath
	}
	path := config.DefaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

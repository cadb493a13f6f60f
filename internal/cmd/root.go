// Package cmd provides the CLI commands for rlbridge.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string
	logJSON       bool

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rlbridge",
	Short: "rlbridge - A real-time bridge between dashboards and an RL simulation backend",
	Long: `rlbridge relays WebSocket sessions between browser dashboards and a
reinforcement-learning simulation backend.

The server side ("rlbridge serve") authenticates the dashboard with its
session cookie, opens the matching backend connection and forwards frames
in both directions. The client side ("rlbridge play") drives a landing
episode from the terminal through the same relay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help, completion and version
		switch cmd.Name() {
		case "help", "completion", "version":
			return nil
		}

		var err error
		cfg, err = config.LoadOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Priority: --log-level flag > --debug flag > config file
		effectiveLogLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		components := cfg.Log.Components
		if logComponents != "" {
			components = splitList(logComponents)
		}
		file := cfg.Log.File
		if logFile != "" {
			file = logFile
		}

		if err := logging.Initialize(logging.Config{
			Level: effectiveLogLevel,
			FileLog: &logging.FileLogConfig{
				Path:       file,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			},
			JSON:       logJSON || cfg.Log.JSON,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (YAML, JSON or TOML; default: "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: from config, else info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to stderr)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'relay,session'). Empty means all components.")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

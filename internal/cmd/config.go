package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	embeddedconfig "github.com/landingbay/rlbridge/config"
	"github.com/landingbay/rlbridge/internal/config"
)

var (
	configOutputPath string
	configForce      bool
)

// configCmd represents the config parent command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage rlbridge configuration",
	Long: `Manage rlbridge configuration files.

Use the subcommands to create or inspect configuration files.`,
}

// configCreateCmd represents the config create subcommand
var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a default configuration file",
	Long: `Create a default configuration file.

This command writes the embedded default configuration to the given path,
or to the default location when --output is not set.

Examples:
  rlbridge config create                          # Create the default file
  rlbridge config create --output ./rlbridge.yaml
  rlbridge config create --force                  # Overwrite existing file`,
	RunE: runConfigCreate,
}

// configShowCmd represents the config show subcommand
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration in effect after defaults, the configuration
file and environment overrides are applied. Secrets are masked.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configShowCmd)

	configCreateCmd.Flags().StringVarP(&configOutputPath, "output", "o", "",
		"File to write (default: "+config.DefaultConfigPath()+")")
	configCreateCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite existing configuration file")
}

func runConfigCreate(cmd *cobra.Command, args []string) error {
	path := configOutputPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Printf("⚠️  Configuration file already exists: %s\n", path)
		fmt.Println("Use --force to overwrite the existing file.")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, embeddedconfig.DefaultConfigYAML, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	fmt.Printf("✅ Configuration file created: %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Set relay.backend_url to your simulation backend")
	fmt.Println("  2. Set relay.jwt_secret to verify dashboard credentials")
	fmt.Println("  3. Run 'rlbridge serve'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := *cfg
	out.Relay.JWTSecret = mask(out.Relay.JWTSecret)
	out.Client.Token = mask(out.Client.Token)

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&out)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

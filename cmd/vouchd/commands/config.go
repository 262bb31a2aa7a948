package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/vouch/config"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and validate vouch configuration",
	Long: `config — Show and validate vouch configuration

Configuration sources (in order of precedence):
1. Environment variables (VOUCH_* prefix)
2. Project config (./vouch.toml or ./config.toml, searched upward)
3. User config (~/.vouch/vouch.toml)
4. System config (/etc/vouch/config.toml)
5. Default values

Examples:
  vouchd config show               # Show effective configuration
  vouchd config show --format json # Show configuration in JSON format
  vouchd config get engine.max_concurrent_jobs
  vouchd config set engine.daily_user_limit 5
  vouchd config validate           # Validate current configuration
  vouchd config where              # Show which files are consulted`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the effective vouch configuration merged from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., db.path, engine.max_concurrent_jobs)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value to the user config",
	Long: `Persist a configuration value to the user config file.

Supported keys:
  engine.max_concurrent_jobs
  engine.daily_user_limit
  provider.base_url
  proxy.list_path

The running daemon picks up the change on restart.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long:  "List all configuration sources in order of precedence, showing which files exist.",
	RunE:  runConfigWhere,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# vouch configuration\n%s", string(data))

	case "toml":
		data, err := config.RenderTOML(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# vouch configuration\n%s", data)

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := config.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	fmt.Println(config.Get(key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	var err error
	switch key {
	case "engine.max_concurrent_jobs":
		var slots int
		if slots, err = strconv.Atoi(value); err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, value)
		}
		err = config.UpdateEngineMaxConcurrent(slots)
	case "engine.daily_user_limit":
		var limit int
		if limit, err = strconv.Atoi(value); err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, value)
		}
		err = config.UpdateEngineDailyLimit(limit)
	case "provider.base_url":
		err = config.UpdateProviderBaseURL(value)
	case "proxy.list_path":
		err = config.UpdateProxyListPath(value)
	default:
		return fmt.Errorf("unsupported key %q (supported: engine.max_concurrent_jobs, engine.daily_user_limit, provider.base_url, proxy.list_path)", key)
	}
	if err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}

	fmt.Printf("%s = %s (restart the daemon to apply)\n", key, value)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/vouch/config.toml")
	fmt.Println("  3. [USER]     ~/.vouch/vouch.toml")
	fmt.Println("  4. [PROJECT]  ./vouch.toml or ./config.toml (searches up directories)")
	fmt.Println("  5. [ENV]      VOUCH_* environment variables")
	fmt.Println()

	paths := []struct {
		label string
		path  string
	}{
		{"SYSTEM", "/etc/vouch/config.toml"},
		{"USER", config.UserConfigPath()},
	}

	// Project configs are searched upward from the working directory
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			struct {
				label string
				path  string
			}{"PROJECT", filepath.Join(wd, "vouch.toml")},
			struct {
				label string
				path  string
			}{"PROJECT", filepath.Join(wd, "config.toml")},
		)
	}

	fmt.Println("Files:")
	for _, p := range paths {
		if p.path == "" {
			continue
		}
		status := "missing"
		if _, err := os.Stat(p.path); err == nil {
			status = "found"
		}
		fmt.Printf("  [%s] %s (%s)\n", p.label, p.path, status)
	}
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/vouch/cmd/vouchd/commands"
	"github.com/teranos/vouch/logger"
)

var rootCmd = &cobra.Command{
	Use:   "vouchd",
	Short: "vouchd - verification job engine",
	Long: `vouchd - bulk identity verification job engine.

vouchd drives verification jobs through a remote provider: each job
claims a candidate record, submits it over a pooled proxy endpoint,
polls for the provider's decision, and when the provider asks for an
out-of-band confirmation code, retrieves it from a mailbox and
confirms.

Available commands:
  serve    - Start the daemon (job engine + HTTP API)
  records  - Manage the candidate record inventory
  proxies  - Inspect and maintain the proxy endpoint pool
  config   - Show and validate configuration
  db       - Show database statistics
  version  - Show version information

Examples:
  vouchd serve                     # Start the daemon
  vouchd records import navy.txt   # Load candidate records
  vouchd proxies list              # Show proxy pool health
  vouchd config show               # Show effective configuration
  vouchd db stats                  # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs
		// Skip for commands whose stdout must stay clean (like 'config show')
		if cmd.Name() == "show" || cmd.Name() == "get" {
			return nil
		}
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("json-logs")
		// -v/-vv shorthand applies when --log-level is left at its default
		if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity > 0 && !cmd.Flags().Changed("log-level") {
			level = logger.VerbosityToLevel(verbosity).String()
		}
		if err := logger.Initialize(level, jsonOut); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (-v info, -vv debug)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.RecordsCmd)
	rootCmd.AddCommand(commands.ProxiesCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/proxy"
)

// ProxiesCmd represents the proxies (egress pool) command
var ProxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Inspect and maintain the proxy endpoint pool",
	Long: `proxies — Inspect and maintain the proxy endpoint pool

The pool's membership comes from the configured list file
(proxy.list_path); health and quarantine state persist in the
database across restarts.

List lines have the form:

  host:port[:user:pass]

Examples:
  vouchd proxies list              # Show pool health
  vouchd proxies import pool.txt   # Validate a list file and make it the configured pool
  vouchd proxies reset             # Forget persisted health state`,
}

var proxiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show pool membership and persisted health",
	RunE:  runProxiesList,
}

var proxiesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Validate a proxy list file and make it the configured pool",
	Long: `Validate a proxy list file and persist its path to the user config.

The file stays authoritative for pool membership; the daemon re-reads
it on the next start. Malformed lines are reported but do not block
the import.`,
	Args: cobra.ExactArgs(1),
	RunE: runProxiesImport,
}

var proxiesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear persisted proxy health state",
	Long:  "Drop all persisted health and quarantine state. Every endpoint starts fresh on the next daemon start.",
	RunE:  runProxiesReset,
}

func init() {
	ProxiesCmd.AddCommand(proxiesListCmd)
	ProxiesCmd.AddCommand(proxiesImportCmd)
	ProxiesCmd.AddCommand(proxiesResetCmd)
}

func runProxiesList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	if cfg.Proxy.ListPath == "" {
		return errors.New("proxy.list_path is not configured")
	}

	f, err := os.Open(config.ExpandPath(cfg.Proxy.ListPath))
	if err != nil {
		return errors.Wrapf(err, "failed to open proxy list %s", cfg.Proxy.ListPath)
	}
	defer f.Close()

	endpoints, rejected, err := proxy.ParseReader(f)
	if err != nil {
		return errors.Wrap(err, "failed to read proxy list")
	}

	pool := proxy.NewPool(proxy.Config{
		DefaultHealth:       cfg.Proxy.DefaultHealth,
		QuarantineThreshold: cfg.Proxy.QuarantineThreshold,
		Cooldown:            cfg.Proxy.Cooldown,
	}, endpoints)

	database, err := openDatabase(cfg, "")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	states, err := proxy.NewStore(database).Load(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "failed to load proxy state")
	}
	pool.RestoreState(states)

	stats := pool.Stats()
	fmt.Printf("Proxy Pool (%s)\n", cfg.Proxy.ListPath)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Total: %d   Available: %d   Quarantined: %d\n\n", stats.Total, stats.Available, stats.Quarantined)

	fmt.Printf("%-28s %7s %9s  %s\n", "ADDRESS", "HEALTH", "FAILURES", "STATUS")
	for _, st := range pool.List() {
		status := "ok"
		if st.Quarantined {
			status = fmt.Sprintf("quarantined until %s", st.QuarantinedUntil.Format(time.RFC3339))
		}
		fmt.Printf("%-28s %7d %9d  %s\n", st.Address, st.Health, st.ConsecutiveFailures, status)
	}
	if len(rejected) > 0 {
		fmt.Println()
		pterm.Warning.Printf("%d malformed lines in list file\n", len(rejected))
	}
	return nil
}

func runProxiesImport(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", args[0])
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	endpoints, rejected, err := proxy.ParseReader(f)
	if err != nil {
		return errors.Wrap(err, "failed to read proxy list")
	}

	for _, pe := range rejected {
		pterm.Warning.Printf("  line %d: %v\n", pe.Line, pe.Err)
	}
	if len(endpoints) == 0 {
		return errors.Newf("no valid endpoints in %s", path)
	}

	if err := config.UpdateProxyListPath(path); err != nil {
		return errors.Wrap(err, "failed to persist proxy list path")
	}
	pterm.Success.Printf("Proxy list set to %s (%d endpoints, %d malformed lines skipped)\n",
		path, len(endpoints), len(rejected))
	return nil
}

func runProxiesReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// An empty snapshot drops every row
	if err := proxy.NewStore(database).Save(cmd.Context(), nil); err != nil {
		return errors.Wrap(err, "failed to clear proxy state")
	}
	pterm.Success.Println("Proxy health state cleared")
	return nil
}

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/inventory"
	"github.com/teranos/vouch/ledger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the vouch database",
	Long: `db — Manage vouch database operations

Examples:
  vouchd db stats              # Show database statistics
  vouchd db stats --limit 10   # Show last 10 ledger entries`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display inventory counts, ledger totals, and recent job outcomes",
	RunE:  runDbStats,
}

var statsLimitFlag int

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().IntVar(&statsLimitFlag, "limit", 20, "Number of recent ledger entries to show")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	ctx := cmd.Context()

	stock := inventory.NewStore(database)
	available, err := stock.CountAvailable(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to count available records")
	}
	consumed, err := stock.CountConsumed(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to count consumed records")
	}

	trail := ledger.NewStore(database)
	stats, err := trail.Stats(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load ledger stats")
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:     %s\n", cfg.GetDatabasePath())
	fmt.Printf("Records Available: %d\n", available)
	fmt.Printf("Records Consumed:  %d\n", consumed)
	fmt.Println()

	fmt.Printf("Job Ledger:\n")
	fmt.Printf("  Total:        %d\n", stats.Total)
	fmt.Printf("  Succeeded:    %d\n", stats.Succeeded)
	fmt.Printf("  Failed:       %d\n", stats.Failed)
	fmt.Printf("  Timed out:    %d\n", stats.TimedOut)
	fmt.Printf("  Cancelled:    %d\n", stats.Cancelled)
	fmt.Printf("  Success rate: %.1f%%\n", stats.SuccessRate*100)
	fmt.Printf("  Today:        %d\n", stats.Today)
	fmt.Println()

	entries, err := trail.Recent(ctx, statsLimitFlag)
	if err != nil {
		return errors.Wrap(err, "failed to load recent entries")
	}

	fmt.Printf("Recent Jobs (last %d):\n", statsLimitFlag)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	if len(entries) == 0 {
		fmt.Println("  No completed jobs recorded yet")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("  [%s] %-9s user=%s %s %s (%d attempts, %s)",
			e.CompletedAt.Format("2006-01-02 15:04:05"),
			e.Result, e.UserID, e.FirstName, e.LastName,
			e.Attempts, e.Duration.Round(time.Second),
		)
		if e.Reason != "" {
			line += " reason=" + e.Reason
		}
		fmt.Println(line)
	}

	return nil
}

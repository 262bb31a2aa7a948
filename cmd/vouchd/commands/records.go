package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/inventory"
	"github.com/teranos/vouch/record"
)

// RecordsCmd represents the records (candidate inventory) command
var RecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the candidate record inventory",
	Long: `records — Manage the candidate record inventory

Import candidate records and inspect how many remain available.
Records are consumed by jobs as they are claimed; a claimed record is
never returned to the pool once a provider call has been issued for it.

Import lines have the form:

  First|Last|Branch|StartDate[|EndDate]

Dates are YYYY-MM-DD. Duplicate lines are skipped on import.

Examples:
  vouchd records import navy.txt   # Load candidate records
  vouchd records stats             # Show available/consumed counts`,
}

var recordsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import candidate records from a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsImport,
}

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show inventory counts",
	RunE:  runRecordsStats,
}

func init() {
	RecordsCmd.AddCommand(recordsImportCmd)
	RecordsCmd.AddCommand(recordsStatsCmd)
}

func runRecordsImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", args[0])
	}
	defer f.Close()

	records, rejected, err := record.ParseReader(f)
	if err != nil {
		return errors.Wrap(err, "failed to read import file")
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	var inserted, skipped int
	if len(records) > 0 {
		inserted, skipped, err = inventory.NewStore(database).Add(cmd.Context(), records)
		if err != nil {
			return errors.Wrap(err, "failed to store records")
		}
	}

	pterm.Success.Printf("Imported %d records (%d duplicates skipped)\n", inserted, skipped)
	if len(rejected) > 0 {
		pterm.Warning.Printf("%d malformed lines rejected:\n", len(rejected))
		for _, pe := range rejected {
			pterm.Warning.Printf("  line %d: %v\n", pe.Line, pe.Err)
		}
	}
	return nil
}

func runRecordsStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	stock := inventory.NewStore(database)
	available, err := stock.CountAvailable(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "failed to count available records")
	}
	consumed, err := stock.CountConsumed(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "failed to count consumed records")
	}

	fmt.Printf("Record Inventory\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Available: %d\n", available)
	fmt.Printf("Consumed:  %d\n", consumed)
	fmt.Printf("Total:     %d\n", available+consumed)
	return nil
}

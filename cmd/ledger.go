package cmd

import (
	"github.com/spf13/cobra"

	"github.com/brensch/dwcsync/internal/db"
)

var ledgerLimit int
var ledgerEvent string

// ledgerCmd displays the run ledger.
var ledgerCmd = &cobra.Command{
	Use:   "ledger [source]",
	Short: "View the run ledger",
	Long: `Queries the DuckDB run ledger and displays the most recent events.
Pass a source (repository:tag, fauna or flora) to see only its history.
Use --event to filter by event type.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		source := ""
		if len(args) > 0 {
			source = args[0]
		}
		logger.Debug("Querying run ledger", "source_filter", source, "event_filter", ledgerEvent, "limit", ledgerLimit)

		if err := db.DisplayHistory(cmd.Context(), getDB(), cmd.OutOrStdout(), source, ledgerEvent, ledgerLimit); err != nil {
			logger.Error("Failed to display ledger history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 50, "Limit the number of records displayed")
	ledgerCmd.Flags().StringVarP(&ledgerEvent, "event", "e", "", "Filter records by event type (e.g., synced, error, gone)")
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one update pass and
// exits.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Fetch and store every race result not yet recorded",
		Long: `Reads the available meeting dates, skips dates in the future and races
already stored, fetches the rest concurrently, and stores the new results in
one batch. Configured exports and stream publishing run after the insert.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	summary, err := appInstance.Update(cmd.Context())
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	appInstance.Logger().Info("crawl command finished",
		zap.Int("dates", summary.Dates),
		zap.Int("races_scheduled", summary.RacesScheduled),
		zap.Int("races_failed", summary.RacesFailed),
		zap.Int("records_inserted", summary.RecordsInserted),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "inserted %d records from %d races across %d dates (%d failed)\n",
		summary.RecordsInserted, summary.RacesScheduled, summary.Dates, summary.RacesFailed)
	return nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which exposes the HTTP API
// until the process is signalled.
func newServeCmd() *cobra.Command {
	var crawlOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored race results over HTTP",
		Long: `Starts the HTTP API: stored results as JSON and PDF, Prometheus metrics,
health probes, and endpoints to trigger and watch a crawl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context(), crawlOnStart); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&crawlOnStart, "crawl-on-start", false, "start a crawl as soon as the server is up")
	return cmd
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every enabled search once",
		Long: `Plans the merged searches, runs them against every enabled provider,
notifies about in-stock products and prints the run report as JSON. The
command fails only when the configuration is invalid or every search failed.`,
		Args: cobra.NoArgs,
		RunE: withApp(runRunCommand),
	}
}

func runRunCommand(cmd *cobra.Command, appInstance App) error {
	report, runErr := appInstance.Scheduler().Run(cmd.Context())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", report.ID, runErr)
	}
	return nil
}

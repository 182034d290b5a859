package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lurk/internal/checkers"
	"github.com/JakeFAU/lurk/internal/scheduler"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print the merged searches",
		Long: `Loads the configuration, merges global searches with the per-checker
overrides and prints the resulting work list. No network calls are made.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE:        runValidateCommand,
	}
}

func runValidateCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}

	registry := checkers.Default()
	searches, err := scheduler.Plan(cfg.Search, cfg.Checkers, registry.Names(), nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "config is valid")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECKER\tSEARCH\tQUERY\tNOTIFY")
	for _, s := range searches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Checker, s.SearchID, s.Query, s.Notify)
	}
	return tw.Flush()
}

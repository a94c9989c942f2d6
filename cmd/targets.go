package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTargetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the configured crawl targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			targets, err := cfg.BuildTargets()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tACTIVE\tDEPTH\tPAGES\tINTERVAL\tDOMAINS")
			for _, t := range targets {
				fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%s\t%s\n",
					t.Name, t.Active, t.MaxDepth, t.MaxPages, t.CrawlInterval, strings.Join(t.AllowedDomains, ","))
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write targets: %w", err)
			}
			return nil
		},
	}
}

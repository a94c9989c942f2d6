package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newCrawlCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <target>",
		Short: "Crawl one configured target now and print the run result",
		Long: `Runs a single crawl of the named target, stores what it finds and
prints the run result as JSON. Ctrl-C aborts the run at its next politeness
delay; the partial result is still recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

			res, err := app.Scheduler().RunOne(ctx, args[0])
			if err != nil {
				return fmt.Errorf("crawl %q: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if !res.Success {
				return fmt.Errorf("crawl %q ended %s", args[0], res.State)
			}
			return nil
		},
	}
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management API and the crawl scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()
			return app.Run(cmd.Context())
		},
	}
}

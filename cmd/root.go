// Package cmd defines the CLI for the business-directory crawler.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/JakeFAU/bizdirectory-crawler/internal/config"
	"github.com/JakeFAU/bizdirectory-crawler/internal/logging"
	"github.com/JakeFAU/bizdirectory-crawler/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bizcrawler",
		Short: "Scheduled crawler that discovers businesses in online directories.",
		Long: `bizcrawler crawls business directories on a schedule, extracts business
listings (JSON-LD, microdata or CSS selectors) and stores them with a unique
BI-ID. Run "serve" for the scheduler and management API, or "crawl" for a
single run of one target.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newTargetsCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func (o *rootOptions) build(ctx context.Context) (*server.App, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-crawler/internal/server"
)

type crawlFlags struct {
	maxCycles   int
	sourcesFile string
	noServer    bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the crawl engine",
		Long: `Starts the crawl engine over every source in the sources file and,
unless disabled, the operator HTTP server. The engine stops after
--max-cycles cycles or on SIGINT/SIGTERM, finishing the URL in flight.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, flags)
		},
	}
	cmd.Flags().IntVar(&flags.maxCycles, "max-cycles", 0, "stop after this many cycles (0 runs until stopped)")
	cmd.Flags().StringVar(&flags.sourcesFile, "sources", "", "override crawler.sources_file")
	cmd.Flags().BoolVar(&flags.noServer, "no-server", false, "do not start the HTTP server")
	return cmd
}

func runCrawl(cmd *cobra.Command, flags crawlFlags) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-cycles") {
		cfg.Crawler.MaxCycles = flags.maxCycles
	}
	if flags.sourcesFile != "" {
		cfg.Crawler.SourcesFile = flags.sourcesFile
	}
	if flags.noServer {
		cfg.Server.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	app, err := server.Build(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	return nil
}

package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/server"
)

// newSourcesCmd creates the 'sources' subcommand tree.
func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspects and toggles registered listing sources",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists registered sources and their activation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSources(cmd, func(reg crawler.SourceRegistry) error {
				sources, err := reg.ListSources(cmd.Context())
				if err != nil {
					return fmt.Errorf("list sources: %w", err)
				}
				return printSources(cmd.OutOrStdout(), sources)
			})
		},
	})
	cmd.AddCommand(newActivationCmd("enable", true), newActivationCmd("disable", false))
	return cmd
}

func newActivationCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: fmt.Sprintf("Marks a source %sd for future cycles", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSources(cmd, func(reg crawler.SourceRegistry) error {
				if err := reg.SetSourceActive(cmd.Context(), args[0], active); err != nil {
					return fmt.Errorf("%s %s: %w", use, args[0], err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], use)
				return err
			})
		},
	}
}

// openSources is swapped in tests.
var openSources = func(cmd *cobra.Command) (crawler.SourceRegistry, func() error, error) {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	db, closeDB, err := server.OpenDatabase(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, func() error {
		_ = logger.Sync()
		return closeDB()
	}, nil
}

func withSources(cmd *cobra.Command, fn func(crawler.SourceRegistry) error) error {
	reg, closeFn, err := openSources(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			zap.L().Warn("close listing store failed", zap.Error(cerr))
		}
	}()
	return fn(reg)
}

func printSources(w io.Writer, sources []crawler.Source) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDISPLAY NAME\tACTIVE\tBASE URL")
	for _, s := range sources {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", s.ID, s.Name, s.DisplayName, s.Active, s.BaseURL)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write sources: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/ingest"
	"github.com/necyber/elephie/pkg/logger"
)

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var scan bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every stored document and rebuild the keyword index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReindex(ctx, cmd.OutOrStdout(), cfg, newLogger(cfg), scan)
		},
	}
	cmd.Flags().BoolVar(&scan, "scan", false, "Ingest the chat and note directories before reindexing")
	return cmd
}

func runReindex(ctx context.Context, w io.Writer, cfg *config.Config, log logger.Logger, scan bool) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Error closing storage", "error", err)
		}
	}()

	if scan {
		report, err := a.scan(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "ingested %d documents, %d failed\n", report.Succeeded, report.Failed)
	}

	report, err := a.store.Reindex(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	_, err = fmt.Fprintf(w, "reindexed %d documents (%d terms) in %s\n", report.Documents, report.Terms, report.Duration)
	return err
}

// scan ingests every markdown file under the chat and note directories.
func (a *app) scan(ctx context.Context) (ingest.Report, error) {
	changes, err := ingest.Scan(a.cfg.Ingest.ChatPath, a.cfg.Ingest.NotePath)
	if err != nil {
		return ingest.Report{}, err
	}
	return a.ingestor.Process(ctx, changes), nil
}

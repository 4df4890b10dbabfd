package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/bookrag/chat"
	"github.com/aluiziolira/bookrag/document"
	"github.com/aluiziolira/bookrag/index"
	"github.com/aluiziolira/bookrag/models"
	"github.com/aluiziolira/bookrag/pipeline"
	"github.com/aluiziolira/bookrag/provider"
	"github.com/aluiziolira/bookrag/scraper"
)

func chatCmd(a *app) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Load or build the index, then answer questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			stop := startMetricsServer(a.cfg.MetricsAddr, a.metrics)
			defer stop()

			manager, p, err := a.openIndex(ctx, rebuild)
			if err != nil {
				return err
			}

			engine := chat.NewEngine(manager, p.Completer, chat.Options{
				TopK:             a.cfg.TopK,
				CondenseQuestion: a.cfg.CondenseQuestion,
				HistoryTurns:     a.cfg.HistoryTurns,
				Metrics:          a.metrics,
			})
			err = chat.Loop(ctx, engine, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Crawl and rebuild the index even if one exists")
	return cmd
}

func indexCmd(a *app) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Load or build the index and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stop := startMetricsServer(a.cfg.MetricsAddr, a.metrics)
			defer stop()

			manager, _, err := a.openIndex(cmd.Context(), rebuild)
			if err != nil {
				return err
			}
			state := "loaded"
			if manager.Built() {
				state = "built"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index %s at %s: %d chunks\n", state, a.cfg.IndexDir, manager.Len())
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Crawl and rebuild the index even if one exists")
	return cmd
}

func crawlCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the catalog and export the books to CSV or JSONL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stop := startMetricsServer(a.cfg.MetricsAddr, a.metrics)
			defer stop()
			return a.crawl(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("output", "", "Output file path")
	cmd.Flags().String("format", "", "Output format: csv, json, or dual")
	return cmd
}

// openIndex wires the crawler, chunker and provider into an index manager
// and opens or rebuilds it.
func (a *app) openIndex(ctx context.Context, rebuild bool) (*index.Manager, *provider.Provider, error) {
	if err := a.cfg.ValidateCredentials(); err != nil {
		return nil, nil, err
	}

	p, err := provider.New(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	s, err := scraper.NewScraper(a.cfg, scraper.WithMetrics(a.metrics))
	if err != nil {
		return nil, nil, fmt.Errorf("initialising scraper: %w", err)
	}
	builder := document.NewBuilder(
		document.WithChunkSize(a.cfg.ChunkSize),
		document.WithOverlap(a.cfg.ChunkOverlap),
	)

	manager := index.NewManager(index.Options{
		Dir:            a.cfg.IndexDir,
		EmbeddingModel: p.EmbeddingModel,
		EmbedRPS:       a.cfg.EmbedRPS,
		Metrics:        a.metrics,
	}, s, builder, p.Embedder)

	slog.Info("opening index",
		slog.String("dir", a.cfg.IndexDir),
		slog.String("provider", p.Name),
		slog.String("embedding_model", p.EmbeddingModel),
		slog.Bool("rebuild", rebuild),
	)
	if rebuild {
		err = manager.Rebuild(ctx)
	} else {
		err = manager.Open(ctx)
	}
	if errors.Is(err, index.ErrCorrupt) || errors.Is(err, index.ErrModelMismatch) {
		return nil, nil, fmt.Errorf("%w (run again with --rebuild to replace it)", err)
	}
	if err != nil {
		return nil, nil, err
	}
	return manager, p, nil
}

func (a *app) crawl(ctx context.Context, out io.Writer) error {
	slog.Info("starting crawl",
		slog.String("base_url", a.cfg.BaseURL),
		slog.Int("pages", a.cfg.MaxPages),
		slog.Duration("delay", a.cfg.Delay),
	)

	s, err := scraper.NewScraper(a.cfg, scraper.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	writer, err := pipeline.NewWriter(a.cfg.OutputFormat, a.cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	p, err := pipeline.NewPipeline(writer, pipeline.Options{
		BatchSize:     a.cfg.BatchSize,
		DedupeMaxSize: a.cfg.DedupeMaxSize,
	})
	if err != nil {
		writer.Close()
		return err
	}

	startTime := time.Now()
	result, runErr := s.Run(ctx)
	if result != nil {
		if err := p.Process(result.Books); err != nil {
			p.Close()
			return err
		}
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("crawl interrupted: %w", runErr)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	printSummary(out, result, p.Stats(), time.Since(startTime), a.cfg.OutputFile)
	return nil
}

func printSummary(out io.Writer, result *models.ScraperResult, stats pipeline.Stats, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(out, "\n"+separator)
	if result.Aborted {
		fmt.Fprintln(out, "Crawl stopped early (listing page failed)")
	} else {
		fmt.Fprintln(out, "Crawl complete")
	}

	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(stats.Written) / duration.Seconds()
	}

	fmt.Fprintf(out, "  Pages:         %d\n", result.PageCount)
	fmt.Fprintf(out, "  Total items:   %d\n", stats.Written)
	fmt.Fprintf(out, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(out, "  Errors:        %d\n", result.ErrorCount)
	fmt.Fprintf(out, "  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(out, "  Error types:   %v\n", result.ErrorsByType)
	}
	if len(stats.ValidationErrors) > 0 {
		fmt.Fprintf(out, "  Validation:    %v\n", stats.ValidationErrors)
	}
	fmt.Fprintf(out, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Fprintf(out, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(out, separator)
}

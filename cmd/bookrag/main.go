package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/bookrag/config"
	"github.com/aluiziolira/bookrag/metrics"
)

var version = "dev"

// app carries what every subcommand shares once flags are parsed.
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "bookrag",
		Short: "Crawl a book catalog and ask questions about it",
		Long: `bookrag crawls a books.toscrape.com style catalog, indexes the books with
an embedding model and answers questions about them in a chat loop.

Environment variables:
  GEMINI_API_KEY   Gemini credential (provider "gemini", the default)
  OPENAI_API_KEY   OpenAI credential (provider "openai")
  BOOKRAG_*        Any configuration field, e.g. BOOKRAG_INDEX_DIR`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, _ := newLogger(cfg.Verbose, cmd.ErrOrStderr())
			slog.SetDefault(logger)

			a.cfg = cfg
			a.metrics = metrics.New()
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("base-url", "", "Catalog base URL")
	flags.Int("pages", 0, "Maximum listing pages to crawl")
	flags.Duration("delay", 0, "Pause after every request")
	flags.String("index-dir", "", "Index directory")
	flags.String("provider", "", "Model provider: gemini or openai")
	flags.Int("top-k", 0, "Chunks retrieved per question")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(chatCmd(a))
	rootCmd.AddCommand(indexCmd(a))
	rootCmd.AddCommand(crawlCmd(a))
	return rootCmd
}

// applyFlags overrides cfg with every flag set on the command line. Lookup
// errors cannot happen for flags registered by newRootCmd.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("pages") {
		cfg.MaxPages, _ = flags.GetInt("pages")
	}
	if flags.Changed("delay") {
		cfg.Delay, _ = flags.GetDuration("delay")
	}
	if flags.Changed("index-dir") {
		cfg.IndexDir, _ = flags.GetString("index-dir")
	}
	if flags.Changed("provider") {
		provider, _ := flags.GetString("provider")
		cfg.Provider = strings.ToLower(provider)
	}
	if flags.Changed("top-k") {
		cfg.TopK, _ = flags.GetInt("top-k")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("output") {
		cfg.OutputFile, _ = flags.GetString("output")
	}
	if flags.Changed("format") {
		format, _ := flags.GetString("format")
		cfg.OutputFormat = strings.ToLower(format)
	}
}

// startMetricsServer serves m on addr until the returned func is called.
// An empty addr serves nothing.
func startMetricsServer(addr string, m *metrics.Metrics) func() {
	if addr == "" || m == nil {
		return func() {}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

// newLogger logs to w, which is stderr in practice so that stdout stays the
// chat channel.
func newLogger(verbose bool, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

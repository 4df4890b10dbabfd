package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/bookrag/config"
	"github.com/aluiziolira/bookrag/models"
	"github.com/aluiziolira/bookrag/pipeline"
)

func TestApplyFlags(t *testing.T) {
	root := newRootCmd()
	crawl, _, err := root.Find([]string{"crawl"})
	require.NoError(t, err)
	require.NoError(t, crawl.ParseFlags([]string{
		"--pages", "2",
		"--delay", "250ms",
		"--provider", "OpenAI",
		"--index-dir", "/tmp/idx",
		"--format", "DUAL",
		"-v",
	}))

	cfg := config.DefaultConfig()
	applyFlags(crawl, cfg)

	assert.Equal(t, 2, cfg.MaxPages)
	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, config.ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "/tmp/idx", cfg.IndexDir)
	assert.Equal(t, "dual", cfg.OutputFormat)
	assert.True(t, cfg.Verbose)
	// Flags left alone keep the loaded values.
	assert.Equal(t, config.DefaultConfig().BaseURL, cfg.BaseURL)
	assert.Equal(t, config.DefaultConfig().TopK, cfg.TopK)
	assert.Equal(t, config.DefaultConfig().OutputFile, cfg.OutputFile)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"chat", "index", "crawl"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	chat, _, _ := root.Find([]string{"chat"})
	assert.NotNil(t, chat.Flags().Lookup("rebuild"))
}

func TestNewLoggerWritesJSONToNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, level := newLogger(true, &buf)

	logger.Debug("index loaded", slog.Int("chunks", 3))

	assert.Equal(t, slog.LevelDebug, level.Level())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "index loaded", entry["msg"])
	assert.Equal(t, float64(3), entry["chunks"])
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	result := &models.ScraperResult{
		PageCount:    2,
		RequestCount: 10,
		ErrorCount:   1,
		FailedURLs:   []string{"http://example.test/catalogue/x/index.html"},
		ErrorsByType: map[string]int{"not_found": 1},
	}
	stats := pipeline.Stats{Processed: 8, Written: 8, ValidationErrors: map[string]int{"duplicate_url": 1}}

	printSummary(&out, result, stats, 2*time.Second, "output/books.csv")

	text := out.String()
	assert.Contains(t, text, "Crawl complete")
	assert.Contains(t, text, "Total items:   8")
	assert.Contains(t, text, "Success rate:  90.00%")
	assert.Contains(t, text, "map[not_found:1]")
	assert.Contains(t, text, "Items/sec:     4.00")
	assert.True(t, strings.HasSuffix(text, "--------------------------------------------------\n"))
}

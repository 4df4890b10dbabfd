package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "BOOKRAG"

// Supported model providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds crawler, index and query configuration.
type Config struct {
	BaseURL          string        `split_words:"true"`
	MaxPages         int           `split_words:"true"`
	Delay            time.Duration `split_words:"true"`
	Timeout          time.Duration `split_words:"true"`
	RespectRobotsTxt bool          `split_words:"true"`

	// Outbound request headers, presented identically on every request.
	UserAgent      string `split_words:"true"`
	AcceptLanguage string `split_words:"true"`
	AcceptEncoding string `split_words:"true"`
	Connection     string `split_words:"true"`

	IndexDir     string `split_words:"true"`
	ChunkSize    int    `split_words:"true"`
	ChunkOverlap int    `split_words:"true"`
	TopK         int    `split_words:"true"`

	Provider         string  `split_words:"true"`
	GeminiAPIKey     string  `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey     string  `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel   string  `split_words:"true"`
	ChatModel        string  `split_words:"true"`
	EmbedRPS         float64 `split_words:"true"`
	EmbedCacheSize   int     `split_words:"true"`
	CondenseQuestion bool    `split_words:"true"`
	HistoryTurns     int     `split_words:"true"` // past turns folded into the retrieval query

	OutputFile    string `split_words:"true"`
	OutputFormat  string `split_words:"true"` // csv, json, or dual
	BatchSize     int    `split_words:"true"`
	DedupeMaxSize int    `split_words:"true"`

	MetricsAddr string `split_words:"true"`
	Verbose     bool   `split_words:"true"`
}

// DefaultConfig returns polite defaults for the demo catalog.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://books.toscrape.com/",
		MaxPages:         4,
		Delay:            time.Second,
		Timeout:          10 * time.Second,
		RespectRobotsTxt: false,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		AcceptLanguage:   "en-US,en;q=0.9",
		AcceptEncoding:   "gzip",
		Connection:       "keep-alive",
		IndexDir:         "index_db",
		ChunkSize:        1000,
		ChunkOverlap:     200,
		TopK:             4,
		HistoryTurns:     3,
		Provider:         ProviderGemini,
		EmbedRPS:         0,
		EmbedCacheSize:   256,
		OutputFile:       "output/books.csv",
		OutputFormat:     "csv",
		BatchSize:        64,
		DedupeMaxSize:    10000,
	}
}

// Load builds a Config from defaults, an optional .env file and the
// environment. Variables are read as BOOKRAG_<FIELD_NAME>; provider keys
// also fall back to their unprefixed names (GEMINI_API_KEY, OPENAI_API_KEY).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return cfg, nil
}

// Headers returns the fixed header set sent with every crawl request.
func (c *Config) Headers() http.Header {
	h := make(http.Header, 4)
	h.Set("User-Agent", c.UserAgent)
	h.Set("Accept-Language", c.AcceptLanguage)
	h.Set("Accept-Encoding", c.AcceptEncoding)
	h.Set("Connection", c.Connection)
	return h
}

// NormalizedBaseURL returns BaseURL with exactly one trailing slash.
func (c *Config) NormalizedBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/"
}

// APIKey returns the credential for the configured provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	default:
		return c.GeminiAPIKey
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.IndexDir == "" {
		return fmt.Errorf("index dir cannot be empty")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be in [0, chunk size %d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top k must be positive")
	}
	if c.Provider != ProviderGemini && c.Provider != ProviderOpenAI {
		return fmt.Errorf("provider must be gemini or openai")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("history turns cannot be negative")
	}
	if c.EmbedRPS < 0 {
		return fmt.Errorf("embed rps cannot be negative")
	}
	if c.EmbedCacheSize < 0 {
		return fmt.Errorf("embed cache size cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}

// ValidateCredentials reports a missing provider key. The crawl command
// skips it.
func (c *Config) ValidateCredentials() error {
	if c.APIKey() != "" {
		return nil
	}
	switch c.Provider {
	case ProviderOpenAI:
		return fmt.Errorf("OPENAI_API_KEY is not set")
	default:
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
}

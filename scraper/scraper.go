package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/bookrag/config"
	"github.com/aluiziolira/bookrag/metrics"
	"github.com/aluiziolira/bookrag/models"
	"github.com/aluiziolira/bookrag/parser"
)

// Scraper walks the catalog listing pages one at a time and extracts every
// item they link to.
type Scraper struct {
	cfg       *config.Config
	fetcher   *Fetcher
	extractor *Extractor
	pacer     Pacer
	Metrics   *metrics.Metrics
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithPacer replaces the fixed-delay pacer built from the config.
func WithPacer(p Pacer) Option {
	return func(s *Scraper) {
		s.pacer = p
	}
}

// WithMetrics records crawl metrics on m instead of a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scraper) {
		s.Metrics = m
	}
}

// WithTransport routes all requests through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) {
		s.fetcher.WithTransport(rt)
	}
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	fetcher, err := NewFetcher(cfg, nil)
	if err != nil {
		return nil, err
	}

	s := &Scraper{
		cfg:     cfg,
		fetcher: fetcher,
		pacer:   NewFixedDelay(cfg.Delay),
		Metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fetcher.metrics = s.Metrics
	s.extractor = NewExtractor(s.fetcher)
	return s, nil
}

// Run crawls pages 1..MaxPages, stopping early at the first page without
// item entries. A failed listing page ends the crawl and the books gathered
// so far are returned with Aborted set. Item failures are logged and
// skipped. A cancelled context returns the partial result and ctx's error.
func (s *Scraper) Run(ctx context.Context) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.ScraperResult{
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	defer func() {
		result.EndTime = time.Now()
		result.TotalCount = len(result.Books)
	}()

	baseURL := s.cfg.NormalizedBaseURL()
	for page := 1; page <= s.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pageURL := parser.PageURL(baseURL, page)
		result.RequestCount++
		doc, err := s.fetcher.Fetch(ctx, pageURL, "page")
		if err != nil {
			s.recordFailure(result, pageURL, err)
			result.Aborted = true
			slog.Error("listing page failed, stopping crawl",
				slog.String("url", pageURL),
				slog.Int("page", page),
				slog.Int("books", len(result.Books)),
				slog.Any("error", err),
			)
			return result, nil
		}

		hrefs := parser.ParseListing(doc)
		if len(hrefs) == 0 {
			slog.Info("empty listing page, end of catalog", slog.Int("page", page))
			break
		}
		result.PageCount++

		for _, href := range hrefs {
			bookURL, err := parser.ResolveBookURL(baseURL, href)
			if err != nil {
				s.recordFailure(result, pageURL, &ParseError{URL: pageURL, Field: "link", Err: err})
				slog.Warn("skipping item without usable link",
					slog.String("page", pageURL),
					slog.String("href", href),
					slog.Any("error", err),
				)
				continue
			}

			result.RequestCount++
			book, err := s.extractor.Extract(ctx, bookURL)
			if waitErr := s.pacer.Wait(ctx); waitErr != nil {
				return result, waitErr
			}
			if err != nil {
				s.recordFailure(result, bookURL, err)
				slog.Warn("skipping item",
					slog.String("url", bookURL),
					slog.String("kind", KindOf(err).String()),
					slog.Any("error", err),
				)
				continue
			}

			s.Metrics.IncItems()
			result.Books = append(result.Books, book)
		}

		slog.Info("listing page done",
			slog.Int("page", page),
			slog.Int("items", len(hrefs)),
			slog.Int("books", len(result.Books)),
		)
		if err := s.pacer.Wait(ctx); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (s *Scraper) recordFailure(result *models.ScraperResult, rawURL string, err error) {
	category := errorTypeLabel(err)
	if KindOf(err) == KindParse {
		s.Metrics.IncError(category)
	}
	result.ErrorCount++
	result.ErrorsByType[category]++
	result.FailedURLs = append(result.FailedURLs, rawURL)
}

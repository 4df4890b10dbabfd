package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/bookrag/config"
	"github.com/aluiziolira/bookrag/metrics"
)

// Fetcher downloads and parses one page at a time through a synchronous
// colly collector. Every request carries the configured header set.
type Fetcher struct {
	collector *colly.Collector
	headers   http.Header
	metrics   *metrics.Metrics
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, m *metrics.Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Fetcher{
		collector: collector,
		headers:   cfg.Headers(),
		metrics:   m,
	}, nil
}

// WithTransport swaps the HTTP transport, e.g. for an httpmock transport.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch issues one GET for rawURL. Transport failures and non-2xx responses
// come back as *NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, phase string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	// Callbacks are per fetch; Clone shares the transport but not handlers.
	c := f.collector.Clone()
	c.OnRequest(func(r *colly.Request) {
		for key := range f.headers {
			r.Headers.Set(key, f.headers.Get(key))
		}
	})

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	f.metrics.IncRequest(phase)
	start := time.Now()
	err := c.Visit(rawURL)
	f.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		netErr := &NetworkError{URL: rawURL, Status: status, Err: err}
		f.metrics.IncError(netErr.Category())
		return nil, netErr
	}
	if status < 200 || status > 299 {
		netErr := &NetworkError{URL: rawURL, Status: status, Err: fmt.Errorf("unexpected status")}
		f.metrics.IncError(netErr.Category())
		return nil, netErr
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: rawURL, Field: "document", Err: err}
	}
	slog.Debug("fetched page",
		slog.String("url", rawURL),
		slog.String("phase", phase),
		slog.Int("status", status),
		slog.Int("bytes", len(body)),
	)
	return doc, nil
}

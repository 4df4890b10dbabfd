package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/bookrag/config"
	"github.com/aluiziolira/bookrag/models"
)

const testBaseURL = "http://example.test/"

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

func testConfig(maxPages int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.MaxPages = maxPages
	return cfg
}

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	}
}

// catalog registers P listing pages with perPage items each, plus an empty
// page P+1, on a mock transport.
func catalog(pages, perPage int) *httpmock.MockTransport {
	transport := httpmock.NewMockTransport()
	for page := 1; page <= pages; page++ {
		ids := make([]int, 0, perPage)
		for i := 1; i <= perPage; i++ {
			ids = append(ids, (page-1)*perPage+i)
		}
		transport.RegisterResponder("GET", pageURL(page), htmlResponder(listingPage(page, ids)))
		for _, id := range ids {
			transport.RegisterResponder("GET", bookURL(id), htmlResponder(detailPage(id)))
		}
	}
	transport.RegisterResponder("GET", pageURL(pages+1), htmlResponder(listingPage(pages+1, nil)))
	return transport
}

func pageURL(page int) string {
	if page == 1 {
		return testBaseURL + "index.html"
	}
	return fmt.Sprintf("%scatalogue/page-%d.html", testBaseURL, page)
}

func bookURL(id int) string {
	return fmt.Sprintf("%scatalogue/book-%d_%d/index.html", testBaseURL, id, id)
}

func listingPage(page int, ids []int) string {
	var b strings.Builder
	b.WriteString(`<html><body><section><ol class="row">`)
	for _, id := range ids {
		href := fmt.Sprintf("book-%d_%d/index.html", id, id)
		if page == 1 {
			href = "catalogue/" + href
		}
		b.WriteString(`<li><article class="product_pod">`)
		fmt.Fprintf(&b, `<div class="image_container"><a href="%s"><img src="x.jpg"></a></div>`, href)
		fmt.Fprintf(&b, `<h3><a href="%s" title="Book %d">Book %d</a></h3>`, href, id, id)
		b.WriteString(`</article></li>`)
	}
	b.WriteString(`</ol></section></body></html>`)
	return b.String()
}

func detailPage(id int) string {
	return fmt.Sprintf(`<html><body>
<ul class="breadcrumb"><li><a href="/">Home</a></li><li><a href="/books">Books</a></li><li><a href="/poetry">Poetry</a></li><li class="active">Book %d</li></ul>
<article class="product_page">
<div class="product_main"><h1>Book %d</h1>
<p class="price_color">£%d.00</p>
<p class="instock availability">In stock (%d available)</p>
<p class="star-rating Two"></p></div>
<div id="product_description"><h2>Product Description</h2></div>
<p>Description of book %d.</p>
<table class="table table-striped">
<tr><th>UPC</th><td>upc-%d</td></tr>
<tr><th>Number of reviews</th><td>0</td></tr>
</table>
</article></body></html>`, id, id, id, id, id, id)
}

func newTestScraper(t *testing.T, cfg *config.Config, transport http.RoundTripper, clock *fakeClock) *Scraper {
	t.Helper()
	s, err := NewScraper(cfg,
		WithTransport(transport),
		WithPacer(&FixedDelay{Delay: cfg.Delay, Clock: clock}),
	)
	require.NoError(t, err)
	return s
}

func titles(books []*models.Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}

func TestScraperRun_StopsAtEmptyPage(t *testing.T) {
	transport := catalog(2, 3)
	clock := &fakeClock{}
	s := newTestScraper(t, testConfig(5), transport, clock)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Book 1", "Book 2", "Book 3", "Book 4", "Book 5", "Book 6"}, titles(result.Books))
	assert.Equal(t, 2, result.PageCount)
	assert.False(t, result.Aborted)
	// 3 listing pages (the third one empty) and 6 detail pages; page 4 never requested.
	assert.Equal(t, 9, transport.GetTotalCallCount())
	assert.Zero(t, transport.GetCallCountInfo()["GET "+pageURL(4)])
	// One pause per item plus one per non-empty page.
	assert.Equal(t, 8, clock.count())
	for _, d := range clock.sleeps {
		assert.Equal(t, time.Second, d)
	}
}

func TestScraperRun_RespectsMaxPages(t *testing.T) {
	transport := catalog(3, 2)
	s := newTestScraper(t, testConfig(2), transport, &fakeClock{})

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Book 1", "Book 2", "Book 3", "Book 4"}, titles(result.Books))
	assert.Equal(t, 2, result.PageCount)
	assert.Zero(t, transport.GetCallCountInfo()["GET "+pageURL(3)])
}

func TestScraperRun_ExtractsCanonicalRecords(t *testing.T) {
	s := newTestScraper(t, testConfig(1), catalog(1, 1), &fakeClock{})

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Books, 1)

	book := result.Books[0]
	assert.Equal(t, bookURL(1), book.URL)
	assert.Equal(t, "Book 1", book.Title)
	assert.Equal(t, "£1.00", book.Price)
	assert.Equal(t, "Poetry", book.Category)
	assert.Equal(t, "Description of book 1.", book.Description)
	assert.Equal(t, "upc-1", book.UPC)
	assert.Equal(t, models.Unknown, book.Tax)
}

func TestScraperRun_SkipsFailedItems(t *testing.T) {
	transport := catalog(1, 4)
	transport.RegisterResponder("GET", bookURL(2), httpmock.NewStringResponder(http.StatusNotFound, "gone"))
	transport.RegisterResponder("GET", bookURL(3), htmlResponder("<html><body><p>redesigned</p></body></html>"))

	s := newTestScraper(t, testConfig(1), transport, &fakeClock{})

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Book 1", "Book 4"}, titles(result.Books))
	assert.Equal(t, 2, result.ErrorCount)
	assert.Equal(t, 1, result.ErrorsByType["not_found"])
	assert.Equal(t, 1, result.ErrorsByType["parse"])
	assert.ElementsMatch(t, []string{bookURL(2), bookURL(3)}, result.FailedURLs)
	// Failed items are not retried.
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET "+bookURL(2)])
}

func TestScraperRun_PageFailureReturnsPartialResult(t *testing.T) {
	transport := catalog(3, 2)
	transport.RegisterResponder("GET", pageURL(2), httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	s := newTestScraper(t, testConfig(3), transport, &fakeClock{})

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Aborted)
	assert.Equal(t, []string{"Book 1", "Book 2"}, titles(result.Books))
	assert.Equal(t, 1, result.ErrorsByType["status"])
	assert.Contains(t, result.FailedURLs, pageURL(2))
	assert.Zero(t, transport.GetCallCountInfo()["GET "+pageURL(3)])
}

func TestScraperRun_SendsConfiguredHeaders(t *testing.T) {
	cfg := testConfig(1)
	cfg.UserAgent = "bookrag-test/1.0"
	cfg.AcceptLanguage = "en-GB"

	var mu sync.Mutex
	seen := map[string]http.Header{}
	record := func(body string) httpmock.Responder {
		return func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			seen[req.URL.String()] = req.Header.Clone()
			mu.Unlock()
			return htmlResponder(body)(req)
		}
	}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", pageURL(1), record(listingPage(1, []int{1})))
	transport.RegisterResponder("GET", bookURL(1), record(detailPage(1)))

	s := newTestScraper(t, cfg, transport, &fakeClock{})
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 2)
	for u, h := range seen {
		assert.Equal(t, "bookrag-test/1.0", h.Get("User-Agent"), u)
		assert.Equal(t, "en-GB", h.Get("Accept-Language"), u)
		assert.Equal(t, cfg.AcceptEncoding, h.Get("Accept-Encoding"), u)
	}
}

func TestScraperRun_CancelledContext(t *testing.T) {
	transport := catalog(1, 1)
	s := newTestScraper(t, testConfig(1), transport, &fakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Books)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestExtractor_FailureKinds(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", bookURL(1), httpmock.NewStringResponder(http.StatusInternalServerError, ""))
	transport.RegisterResponder("GET", bookURL(2), htmlResponder("<html><body></body></html>"))
	transport.RegisterResponder("GET", bookURL(3), htmlResponder(detailPage(3)))

	fetcher, err := NewFetcher(testConfig(1), nil)
	require.NoError(t, err)
	fetcher.WithTransport(transport)
	extractor := NewExtractor(fetcher)

	_, err = extractor.Extract(context.Background(), bookURL(1))
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Contains(t, err.Error(), bookURL(1))
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.Status)

	_, err = extractor.Extract(context.Background(), bookURL(2))
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "title", parseErr.Field)

	book, err := extractor.Extract(context.Background(), bookURL(3))
	require.NoError(t, err)
	assert.Equal(t, "Book 3", book.Title)
	assert.Equal(t, bookURL(3), book.URL)
}

func TestFixedDelayUsesClock(t *testing.T) {
	clock := &fakeClock{}
	p := &FixedDelay{Delay: 3 * time.Second, Clock: clock}

	require.NoError(t, p.Wait(context.Background()))
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clock.sleeps)
}

func TestRealClockHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := NewFixedDelay(time.Hour).Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNetwork, KindOf(fmt.Errorf("wrapped: %w", &NetworkError{URL: "u", Err: errors.New("x")})))
	assert.Equal(t, KindParse, KindOf(&ParseError{URL: "u", Err: errors.New("x")}))
	assert.Equal(t, KindNone, KindOf(errors.New("x")))
	assert.Equal(t, "network", KindNetwork.String())
	assert.Equal(t, "parse", KindParse.String())
}

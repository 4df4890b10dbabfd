// Package index builds, persists and searches the embedded chunk index.
//
// An index directory is written in full under a sibling temporary name and
// renamed into place once every chunk is embedded and committed, so the
// final location only ever holds a complete index.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/bookrag/document"
	"github.com/aluiziolira/bookrag/metrics"
	"github.com/aluiziolira/bookrag/models"
	"github.com/aluiziolira/bookrag/provider"
)

var (
	// ErrCorrupt marks an index directory that is incomplete or unreadable.
	ErrCorrupt = errors.New("index is incomplete or corrupt")
	// ErrModelMismatch marks an index embedded with a different model.
	ErrModelMismatch = errors.New("index was built with a different embedding model")
	// ErrEmptyCrawl is returned when the crawl yields nothing to index.
	ErrEmptyCrawl = errors.New("crawl produced no chunks")
	// ErrNotLoaded is returned by searches before Open or Rebuild succeeded.
	ErrNotLoaded = errors.New("index not loaded")
)

// Error reports a failed index operation. Op is "build" or "load".
type Error struct {
	Op  string
	Dir string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("index %s %s: %v", e.Op, e.Dir, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Source produces the records an index is built from.
type Source interface {
	Run(ctx context.Context) (*models.ScraperResult, error)
}

// Options configures a Manager.
type Options struct {
	Dir            string
	EmbeddingModel string
	// EmbedRPS caps embedding requests per second; zero means unlimited.
	EmbedRPS float64
	Metrics  *metrics.Metrics
}

// Result is one search hit.
type Result struct {
	Chunk models.Chunk
	Score float64
}

// Manager owns one index directory.
type Manager struct {
	dir      string
	model    string
	source   Source
	builder  *document.Builder
	embedder provider.Embedder
	limiter  *rate.Limiter
	metrics  *metrics.Metrics

	entries []entry
	built   bool
}

// NewManager creates a manager. Nothing touches the disk until Open or Rebuild.
func NewManager(opts Options, source Source, builder *document.Builder, embedder provider.Embedder) *Manager {
	limit := rate.Inf
	if opts.EmbedRPS > 0 {
		limit = rate.Limit(opts.EmbedRPS)
	}
	return &Manager{
		dir:      opts.Dir,
		model:    opts.EmbeddingModel,
		source:   source,
		builder:  builder,
		embedder: embedder,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  opts.Metrics,
	}
}

// Open loads the index if the directory has contents and builds it
// otherwise. A directory that exists but fails validation is not rebuilt
// implicitly; the *Error wraps ErrCorrupt or ErrModelMismatch.
func (m *Manager) Open(ctx context.Context) error {
	present, err := hasContents(m.dir)
	if err != nil {
		return &Error{Op: "load", Dir: m.dir, Err: err}
	}
	if present {
		return m.load(ctx)
	}
	return m.build(ctx)
}

// Rebuild crawls, embeds and replaces whatever is at the index directory.
// The previous index stays in place if the build fails.
func (m *Manager) Rebuild(ctx context.Context) error {
	return m.build(ctx)
}

// Built reports whether the loaded index was built by this process.
func (m *Manager) Built() bool {
	return m.built
}

// Len returns the number of indexed chunks.
func (m *Manager) Len() int {
	return len(m.entries)
}

func (m *Manager) load(ctx context.Context) error {
	start := time.Now()
	entries, err := readIndex(ctx, m.dir, m.model)
	if err != nil {
		return &Error{Op: "load", Dir: m.dir, Err: err}
	}
	m.entries = entries
	m.built = false
	slog.Info("index loaded",
		slog.String("dir", m.dir),
		slog.Int("chunks", len(entries)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (m *Manager) build(ctx context.Context) error {
	start := time.Now()
	entries, err := m.embedAll(ctx)
	if err != nil {
		return &Error{Op: "build", Dir: m.dir, Err: err}
	}
	if err := m.persist(ctx, entries); err != nil {
		return &Error{Op: "build", Dir: m.dir, Err: err}
	}

	m.entries = entries
	m.built = true
	m.metrics.AddChunks(len(entries))
	slog.Info("index built",
		slog.String("dir", m.dir),
		slog.Int("chunks", len(entries)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (m *Manager) embedAll(ctx context.Context) ([]entry, error) {
	result, err := m.source.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("crawl: %w", err)
	}
	if result.Aborted {
		slog.Warn("crawl stopped early, indexing partial result",
			slog.Int("books", len(result.Books)),
			slog.Int("pages", result.PageCount),
		)
	}

	chunks := m.builder.Build(result.Books)
	if len(chunks) == 0 {
		return nil, ErrEmptyCrawl
	}

	entries := make([]entry, 0, len(chunks))
	dims := 0
	for _, c := range chunks {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vec, err := m.embedder.Embed(ctx, c.Content)
		if err != nil {
			m.metrics.IncEmbedding("error")
			return nil, fmt.Errorf("embed chunk %d of %s: %w", c.Index, c.RecordID, err)
		}
		m.metrics.IncEmbedding("ok")
		if dims == 0 {
			dims = len(vec)
		}
		if len(vec) == 0 || len(vec) != dims {
			return nil, fmt.Errorf("embed chunk %d of %s: got %d dimensions, want %d", c.Index, c.RecordID, len(vec), dims)
		}
		entries = append(entries, entry{chunk: c, vec: vec})
	}
	return entries, nil
}

// persist writes entries to a temporary sibling directory and swaps it into
// place. On failure the temporary directory is removed.
func (m *Manager) persist(ctx context.Context, entries []entry) error {
	parent := filepath.Dir(filepath.Clean(m.dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(m.dir)+".build-*")
	if err != nil {
		return fmt.Errorf("creating build directory: %w", err)
	}

	if err := writeIndex(ctx, tmp, m.model, entries); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := swapDir(tmp, m.dir); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	return nil
}

// swapDir moves src to dst, replacing anything already at dst.
func swapDir(src, dst string) error {
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		return os.Rename(src, dst)
	}

	old := dst + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("clearing %s: %w", old, err)
	}
	if err := os.Rename(dst, old); err != nil {
		return fmt.Errorf("moving previous index aside: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		if restoreErr := os.Rename(old, dst); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		return err
	}
	return os.RemoveAll(old)
}

func hasContents(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// Search returns the k chunks most similar to query, best first. Equal
// scores keep build order.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if len(m.entries) == 0 {
		return nil, ErrNotLoaded
	}
	if k <= 0 {
		return nil, nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	qvec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		m.metrics.IncEmbedding("error")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	m.metrics.IncEmbedding("ok")

	results := make([]Result, len(m.entries))
	for i, e := range m.entries {
		results[i] = Result{Chunk: e.chunk, Score: cosine(qvec, e.vec)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Retrieve returns the texts of the k chunks most similar to query.
func (m *Manager) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	results, err := m.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Content
	}
	return texts, nil
}

// cosine is zero when either vector has no magnitude or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

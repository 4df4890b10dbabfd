// Package pipeline exports crawled books to CSV and JSONL files.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/bookrag/models"
	"github.com/aluiziolira/bookrag/parser"
)

// ErrPipelineClosed is returned when Process is called after Close.
var ErrPipelineClosed = errors.New("pipeline: closed")

// Defaults used when Options leaves a field at zero.
const (
	DefaultBatchSize     = 64
	DefaultDedupeMaxSize = 10000
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(books []*models.Book) error
	Close() error
	Validate() error
}

// Options configures a Pipeline.
type Options struct {
	BatchSize int
	// DedupeMaxSize bounds how many URLs are remembered for de-duplication.
	DedupeMaxSize int
}

// Stats is a snapshot of what the pipeline did.
type Stats struct {
	Processed        int64
	Written          int64
	ValidationErrors map[string]int
}

// Pipeline validates, de-duplicates and normalises books, then writes them
// in batches. It is not safe for concurrent use.
type Pipeline struct {
	writer    OutputWriter
	batchSize int
	seen      *lru.Cache[string, struct{}]
	batch     []*models.Book

	stats  Stats
	closed bool
	err    error
}

// NewPipeline builds a pipeline writing to writer.
func NewPipeline(writer OutputWriter, opts Options) (*Pipeline, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.DedupeMaxSize <= 0 {
		opts.DedupeMaxSize = DefaultDedupeMaxSize
	}

	seen, err := lru.New[string, struct{}](opts.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Pipeline{
		writer:    writer,
		batchSize: opts.BatchSize,
		seen:      seen,
		batch:     make([]*models.Book, 0, opts.BatchSize),
		stats:     Stats{ValidationErrors: make(map[string]int)},
	}, nil
}

// Process prepares books and writes every full batch. The first write error
// is sticky: later calls return it without writing.
func (p *Pipeline) Process(books []*models.Book) error {
	if p.closed {
		return ErrPipelineClosed
	}
	if p.err != nil {
		return p.err
	}

	for _, book := range books {
		prepared := p.prepare(book)
		if prepared == nil {
			continue
		}
		p.batch = append(p.batch, prepared)
		if len(p.batch) >= p.batchSize {
			if err := p.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close writes the last partial batch and closes the writer.
func (p *Pipeline) Close() error {
	if p.closed {
		return p.err
	}
	p.closed = true

	flushErr := p.err
	if flushErr == nil {
		flushErr = p.flush()
	}
	if err := p.writer.Close(); err != nil && flushErr == nil {
		p.err = fmt.Errorf("close writer: %w", err)
	}

	slog.Info("export finished",
		slog.Int64("processed", p.stats.Processed),
		slog.Int64("written", p.stats.Written),
		slog.Any("validation_errors", p.stats.ValidationErrors),
	)
	return p.err
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	return p.err
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	out := p.stats
	out.ValidationErrors = make(map[string]int, len(p.stats.ValidationErrors))
	for k, v := range p.stats.ValidationErrors {
		out.ValidationErrors[k] = v
	}
	return out
}

func (p *Pipeline) flush() error {
	if len(p.batch) == 0 {
		return nil
	}
	if err := p.writer.Write(p.batch); err != nil {
		p.err = fmt.Errorf("write batch: %w", err)
		return p.err
	}
	p.stats.Written += int64(len(p.batch))
	p.batch = p.batch[:0]
	return nil
}

// prepare returns a normalised copy of book, or nil when it is invalid or
// already seen. The crawled record itself is not modified.
func (p *Pipeline) prepare(book *models.Book) *models.Book {
	if err := parser.ValidateBook(book); err != nil {
		p.stats.ValidationErrors["invalid_record"]++
		slog.Debug("dropping invalid record", slog.Any("error", err))
		return nil
	}

	if p.seen.Contains(book.URL) {
		p.stats.ValidationErrors["duplicate_url"]++
		return nil
	}
	p.seen.Add(book.URL, struct{}{})

	out := *book
	out.Price = parser.NormalizePrice(out.Price)
	out.PriceExclTax = parser.NormalizePrice(out.PriceExclTax)
	out.PriceInclTax = parser.NormalizePrice(out.PriceInclTax)
	out.Tax = parser.NormalizePrice(out.Tax)
	out.Availability = parser.NormalizeAvailability(out.Availability)

	p.stats.Processed++
	return &out
}

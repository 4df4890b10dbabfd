package scraper

import (
	"context"
	"errors"

	"github.com/aluiziolira/bookrag/models"
	"github.com/aluiziolira/bookrag/parser"
)

// Extractor turns one item detail page into a Book.
type Extractor struct {
	fetcher *Fetcher
}

// NewExtractor returns an extractor sharing f's collector and headers.
func NewExtractor(f *Fetcher) *Extractor {
	return &Extractor{fetcher: f}
}

// Extract fetches pageURL once and parses it. Failures are *NetworkError
// or *ParseError; see KindOf.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*models.Book, error) {
	doc, err := e.fetcher.Fetch(ctx, pageURL, "item")
	if err != nil {
		return nil, err
	}

	book, err := parser.ParseBook(doc, pageURL)
	if err != nil {
		field := ""
		var fieldErr *parser.FieldError
		if errors.As(err, &fieldErr) {
			field = fieldErr.Field
		}
		return nil, &ParseError{URL: pageURL, Field: field, Err: err}
	}
	return book, nil
}

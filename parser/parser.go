package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/bookrag/models"
)

// ErrFieldNotFound is wrapped by every FieldError.
var ErrFieldNotFound = errors.New("field not found")

// FieldError reports a selector that matched nothing on a page.
type FieldError struct {
	Field    string
	Selector string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s (selector %q)", ErrFieldNotFound, e.Field, e.Selector)
}

func (e *FieldError) Unwrap() error {
	return ErrFieldNotFound
}

func missing(field, selector string) error {
	return &FieldError{Field: field, Selector: selector}
}

// ValidateBook ensures the extractor captured the identifying fields.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	if strings.TrimSpace(b.URL) == "" {
		return fmt.Errorf("book missing url for %s", b.Title)
	}
	return nil
}

// NormalizePrice removes the currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "Â", "")
	price = strings.ReplaceAll(price, "£", "")
	return strings.TrimSpace(price)
}

// NormalizeAvailability collapses the whitespace runs the catalog renders
// inside availability paragraphs.
func NormalizeAvailability(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

package document

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aluiziolira/bookrag/models"
)

// Render returns the canonical text block for a book.
func Render(book *models.Book) string {
	return fmt.Sprintf("Title: %s\nDescription: %s\nPrice: %s\nCategory: %s\nAvailability: %s",
		book.Title,
		book.Description,
		book.Price,
		book.Category,
		book.Availability,
	)
}

// ChunkID derives a stable identifier from the record URL and window index.
func ChunkID(recordURL string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordURL+"#"+strconv.Itoa(index))).String()
}

// Builder turns crawled books into index-ready chunks.
type Builder struct {
	splitter *Splitter
}

// NewBuilder creates a builder whose splitter is configured with opts.
func NewBuilder(opts ...Option) *Builder {
	return &Builder{splitter: NewSplitter(opts...)}
}

// Build renders and splits every book, preserving crawl order. Positions are
// numbered across the whole build. A URL seen earlier in the same build is
// skipped, so chunk IDs stay unique.
func (b *Builder) Build(books []*models.Book) []models.Chunk {
	var chunks []models.Chunk
	seen := make(map[string]struct{}, len(books))
	duplicates := 0
	for _, book := range books {
		if book == nil {
			continue
		}
		if _, ok := seen[book.URL]; ok {
			duplicates++
			continue
		}
		seen[book.URL] = struct{}{}

		for i, content := range b.split(book) {
			chunks = append(chunks, models.Chunk{
				ID:       ChunkID(book.URL, i),
				RecordID: book.URL,
				Position: len(chunks),
				Index:    i,
				Content:  content,
			})
		}
	}
	slog.Debug("documents chunked",
		slog.Int("books", len(books)),
		slog.Int("duplicates", duplicates),
		slog.Int("chunks", len(chunks)),
	)
	return chunks
}

// split windows the rendered book and heads every window with the title
// line, so a window holding only price or category still names its book.
func (b *Builder) split(book *models.Book) []string {
	parts := b.splitter.Split(Render(book))
	heading := "Title: " + book.Title
	if len(parts) > 1 && parts[0] == heading {
		parts = parts[1:]
	}
	for i, part := range parts {
		if part != heading && !strings.HasPrefix(part, heading+"\n") {
			parts[i] = heading + "\n" + part
		}
	}
	return parts
}

// Package document renders books to text and cuts the text into overlapping
// chunks for indexing.
package document

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default number of runes per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of runes shared by neighbouring chunks.
const DefaultChunkOverlap = 200

// defaultSeparators are tried in order: paragraph, line, sentence, word,
// then a hard cut between runes.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into windows of at most chunkSize runes, preferring the
// coarsest boundary that keeps every window within the limit.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the window size in runes.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between windows in runes.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// NewSplitter creates a splitter with the given options.
func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: defaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Overlap must leave room for new text in every window.
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// Split returns the trimmed, non-empty chunks of text. The result depends
// only on text and the splitter's parameters.
func (s *Splitter) Split(text string) []string {
	raw := s.split(text, s.separators)
	chunks := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var (
		out  []string
		fits []string
	)
	for _, piece := range pieces(text, sep) {
		if runeLen(piece) <= s.chunkSize {
			fits = append(fits, piece)
			continue
		}
		if len(fits) > 0 {
			out = append(out, s.merge(fits)...)
			fits = nil
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(fits) > 0 {
		out = append(out, s.merge(fits)...)
	}
	return out
}

// merge packs pieces into windows of at most chunkSize runes. When a window
// is emitted, pieces are dropped from its front until at most overlap runes
// remain to seed the next one.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize && len(current) > 0 {
			out = append(out, strings.Join(current, ""))
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, ""))
	}
	return out
}

// pieces splits text after each occurrence of sep, keeping the separator on
// the preceding piece. An empty sep splits between runes.
func pieces(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

package document

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/bookrag/models"
)

func TestNewSplitter(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := NewSplitter()
		assert.Equal(t, DefaultChunkSize, s.chunkSize)
		assert.Equal(t, DefaultChunkOverlap, s.overlap)
	})

	t.Run("invalid values ignored", func(t *testing.T) {
		s := NewSplitter(WithChunkSize(0), WithOverlap(-1))
		assert.Equal(t, DefaultChunkSize, s.chunkSize)
		assert.Equal(t, DefaultChunkOverlap, s.overlap)
	})

	t.Run("overlap reduced below chunk size", func(t *testing.T) {
		s := NewSplitter(WithChunkSize(100), WithOverlap(150))
		assert.Equal(t, 25, s.overlap)
	})
}

func TestSplit_HardCutOverlap(t *testing.T) {
	text := strings.Repeat("a", 2400)

	chunks := NewSplitter().Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, 1000, len(chunks[0]))
	assert.Equal(t, 1000, len(chunks[1]))
	assert.Equal(t, 800, len(chunks[2]))

	// Build a distinguishable text so overlaps can be located.
	var b strings.Builder
	for i := 0; i < 2400; i++ {
		b.WriteByte(byte('a' + i%26))
	}
	text = b.String()
	chunks = NewSplitter().Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, text[0:1000], chunks[0])
	assert.Equal(t, text[800:1800], chunks[1])
	assert.Equal(t, text[1600:2400], chunks[2])
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1][800:], chunks[i][:200])
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	text := "aaaaaaaa bbbbbbbb\n\ncccccccc dddddddd"

	chunks := NewSplitter(WithChunkSize(20), WithOverlap(0)).Split(text)

	assert.Equal(t, []string{"aaaaaaaa bbbbbbbb", "cccccccc dddddddd"}, chunks)
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	text := "One two three. Four five six. Seven eight nine."

	chunks := NewSplitter(WithChunkSize(30), WithOverlap(0)).Split(text)

	assert.Equal(t, []string{"One two three. Four five six.", "Seven eight nine."}, chunks)
}

func TestSplit_WordOverlap(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta"

	chunks := NewSplitter(WithChunkSize(20), WithOverlap(10)).Split(text)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 20, c)
	}
	// Each window after the first starts with words from its predecessor.
	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1], first)
	}
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 25)

	chunks := NewSplitter(WithChunkSize(10), WithOverlap(0)).Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("é", 10), chunks[0])
	assert.Equal(t, strings.Repeat("é", 5), chunks[2])
}

func TestSplit_BoundedAndDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("word")
		switch {
		case i%40 == 39:
			b.WriteString(".\n\n")
		case i%9 == 8:
			b.WriteString(". ")
		default:
			b.WriteString(" ")
		}
	}
	text := b.String()

	s := NewSplitter(WithChunkSize(120), WithOverlap(30))
	first := s.Split(text)
	second := s.Split(text)

	assert.Equal(t, first, second)
	require.Greater(t, len(first), 1)
	for _, c := range first {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 120)
		assert.Equal(t, strings.TrimSpace(c), c)
		assert.NotEmpty(t, c)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	assert.Empty(t, NewSplitter().Split(""))
	assert.Empty(t, NewSplitter().Split("  \n\n  "))
}

func TestRender(t *testing.T) {
	book := &models.Book{
		Title:        "Sharp Objects",
		Description:  "WICKED above her hipbone.",
		Price:        "£47.82",
		Category:     "Mystery",
		Availability: "In stock (20 available)",
		UPC:          "e00eb4fd7b871a48",
	}

	want := "Title: Sharp Objects\n" +
		"Description: WICKED above her hipbone.\n" +
		"Price: £47.82\n" +
		"Category: Mystery\n" +
		"Availability: In stock (20 available)"
	assert.Equal(t, want, Render(book))
}

func TestBuilder_Build(t *testing.T) {
	books := []*models.Book{
		{Title: "A", Description: strings.Repeat("x", 150), Price: "£1", Category: "Poetry", Availability: "In stock", URL: "https://example.test/catalogue/a_1/index.html"},
		nil,
		{Title: "B", Description: "short", Price: "£2", Category: "Travel", Availability: "In stock", URL: "https://example.test/catalogue/b_2/index.html"},
	}

	chunks := NewBuilder(WithChunkSize(100), WithOverlap(20)).Build(books)

	require.Greater(t, len(chunks), 2)
	last := chunks[len(chunks)-1]
	heading := "Title: A\n"
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		if c.RecordID == books[0].URL {
			assert.Equal(t, i, c.Index)
			assert.True(t, strings.HasPrefix(c.Content, heading), c.Content)
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 100+len(heading))
		}
	}
	assert.Equal(t, books[0].URL, chunks[0].RecordID)
	assert.Equal(t, books[2].URL, last.RecordID)
	assert.Equal(t, 0, last.Index)
	assert.Equal(t, Render(books[2]), last.Content)
	assert.Equal(t, books[0].URL, chunks[len(chunks)-2].RecordID)

	again := NewBuilder(WithChunkSize(100), WithOverlap(20)).Build(books)
	assert.Equal(t, chunks, again)
	assert.Equal(t, ChunkID(books[0].URL, 1), chunks[1].ID)
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
}

func TestBuilder_BuildSkipsRepeatedURL(t *testing.T) {
	first := &models.Book{Title: "A", Description: "first", Price: "£1", Category: "Poetry", Availability: "In stock", URL: "https://example.test/catalogue/a_1/index.html"}
	again := *first
	again.Description = "second"
	other := &models.Book{Title: "B", Description: "short", Price: "£2", Category: "Travel", Availability: "In stock", URL: "https://example.test/catalogue/b_2/index.html"}

	chunks := NewBuilder().Build([]*models.Book{first, other, &again})

	require.Len(t, chunks, 2)
	assert.Equal(t, Render(first), chunks[0].Content)
	assert.Equal(t, other.URL, chunks[1].RecordID)
	assert.Equal(t, 1, chunks[1].Position)
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
}

func TestBuilder_BuildEmpty(t *testing.T) {
	assert.Empty(t, NewBuilder().Build(nil))
}

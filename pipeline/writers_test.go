package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/bookrag/models"
)

func writerTestBook() *models.Book {
	return &models.Book{
		Title:              "Test Book",
		Price:              "10.00",
		Availability:       "In stock (22 available)",
		Description:        "A book, with a comma.",
		Category:           "Poetry",
		URL:                "http://example.test/catalogue/test-book_1/index.html",
		UPC:                "a897fe39b1053632",
		ProductType:        "Books",
		PriceExclTax:       "10.00",
		PriceInclTax:       "10.00",
		Tax:                "0.00",
		AvailabilityNumber: "In stock (22 available)",
		ReviewCount:        "0",
		ScrapedAt:          time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "books.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]*models.Book{writerTestBook()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if len(records[0]) != len(csvHeader) || records[0][0] != "title" || records[0][13] != "scraped_at" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	row := records[1]
	if row[3] != "A book, with a comma." || row[4] != "Poetry" || row[6] != "a897fe39b1053632" {
		t.Fatalf("unexpected row: %v", row)
	}
	if row[13] != "2025-11-04T13:09:13Z" {
		t.Fatalf("scraped_at = %q", row[13])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write([]*models.Book{writerTestBook(), writerTestBook()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.Book
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.Category != "Poetry" {
			t.Fatalf("category = %q, want Poetry", decoded.Category)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 2 {
		t.Fatalf("json lines=%d, want 2", count)
	}
}

func TestJSONWriterValidateEmpty(t *testing.T) {
	writer, err := NewJSONWriter(filepath.Join(t.TempDir(), "books.jsonl"))
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Validate(); err == nil {
		t.Fatalf("expected empty file to fail validation")
	}
}

func TestNewWriterDual(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewWriter("dual", filepath.Join(dir, "books.csv"))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]*models.Book{writerTestBook()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	for _, name := range []string{"books.csv", "books.jsonl"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", name)
		}
	}
}

func TestNewWriterUnknownFormat(t *testing.T) {
	if _, err := NewWriter("xml", filepath.Join(t.TempDir(), "books.xml")); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

// Package models defines data structures shared by the crawler, index and
// query engine.
package models

import "time"

// Sentinels used when a page omits an optional field.
const (
	Unknown       = "unknown"
	NoDescription = "No description available"
)

// Book represents one catalog item extracted from its detail page.
type Book struct {
	Title              string    `csv:"title" json:"title"`
	Price              string    `csv:"price" json:"price"`
	Availability       string    `csv:"availability" json:"availability"`
	Description        string    `csv:"description" json:"description"`
	Category           string    `csv:"category" json:"category"`
	URL                string    `csv:"url" json:"url"`
	UPC                string    `csv:"upc" json:"upc"`
	ProductType        string    `csv:"product_type" json:"product_type"`
	PriceExclTax       string    `csv:"price_excl_tax" json:"price_excl_tax"`
	PriceInclTax       string    `csv:"price_incl_tax" json:"price_incl_tax"`
	Tax                string    `csv:"tax" json:"tax"`
	AvailabilityNumber string    `csv:"availability_number" json:"availability_number"`
	ReviewCount        string    `csv:"review_count" json:"review_count"`
	ScrapedAt          time.Time `csv:"scraped_at" json:"scraped_at"`
}

// ScraperResult holds the overall result of a crawl.
type ScraperResult struct {
	Books        []*Book
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RequestCount int
	PageCount    int
	// Aborted is set when a listing page failed and the crawl stopped early.
	Aborted bool
}

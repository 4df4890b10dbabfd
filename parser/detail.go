package parser

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/bookrag/models"
)

// Selectors for the item detail page.
const (
	titleSelector        = "div.product_main h1"
	priceSelector        = "p.price_color"
	availabilitySelector = "p.instock.availability"
	paragraphSelector    = "article.product_page p"
	tableRowSelector     = "table.table-striped tr"
	breadcrumbSelector   = "ul.breadcrumb a"
)

// descriptionIndex is the position of the description among the article's
// paragraphs (price, availability and rating come first).
const descriptionIndex = 3

// categoryIndex is the breadcrumb anchor holding the category
// (Home / Books / <category>).
const categoryIndex = 2

// Labels of the product information table.
const (
	labelUPC          = "UPC"
	labelProductType  = "Product Type"
	labelPriceExclTax = "Price (excl. tax)"
	labelPriceInclTax = "Price (incl. tax)"
	labelTax          = "Tax"
	labelAvailability = "Availability"
	labelReviews      = "Number of reviews"
)

// ParseBook extracts a book from a parsed detail page. Title, price,
// availability and category are required; a miss on any of them returns a
// *FieldError. Description and the product table fall back to sentinels.
func ParseBook(doc *goquery.Document, pageURL string) (*models.Book, error) {
	title, err := requiredText(doc.Selection, "title", titleSelector)
	if err != nil {
		return nil, err
	}
	price, err := requiredText(doc.Selection, "price", priceSelector)
	if err != nil {
		return nil, err
	}
	availability, err := requiredText(doc.Selection, "availability", availabilitySelector)
	if err != nil {
		return nil, err
	}
	category, err := parseCategory(doc.Selection)
	if err != nil {
		return nil, err
	}

	info := parseProductTable(doc.Selection)

	return &models.Book{
		Title:              title,
		Price:              price,
		Availability:       NormalizeAvailability(availability),
		Description:        parseDescription(doc.Selection),
		Category:           category,
		URL:                pageURL,
		UPC:                lookup(info, labelUPC),
		ProductType:        lookup(info, labelProductType),
		PriceExclTax:       lookup(info, labelPriceExclTax),
		PriceInclTax:       lookup(info, labelPriceInclTax),
		Tax:                lookup(info, labelTax),
		AvailabilityNumber: lookup(info, labelAvailability),
		ReviewCount:        lookup(info, labelReviews),
		ScrapedAt:          time.Now(),
	}, nil
}

func requiredText(s *goquery.Selection, field, selector string) (string, error) {
	found := s.Find(selector).First()
	if found.Length() == 0 {
		return "", missing(field, selector)
	}
	return strings.TrimSpace(found.Text()), nil
}

func parseCategory(s *goquery.Selection) (string, error) {
	links := s.Find(breadcrumbSelector)
	if links.Length() <= categoryIndex {
		return "", missing("category", breadcrumbSelector)
	}
	return strings.TrimSpace(links.Eq(categoryIndex).Text()), nil
}

func parseDescription(s *goquery.Selection) string {
	paragraphs := s.Find(paragraphSelector)
	if paragraphs.Length() <= descriptionIndex {
		return models.NoDescription
	}
	text := strings.TrimSpace(paragraphs.Eq(descriptionIndex).Text())
	if text == "" {
		return models.NoDescription
	}
	return text
}

// parseProductTable reads label/value rows. Only rows made of exactly one
// header cell and one data cell are kept.
func parseProductTable(s *goquery.Selection) map[string]string {
	info := make(map[string]string)
	s.Find(tableRowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Children().Filter("th, td")
		header := cells.Filter("th")
		value := cells.Filter("td")
		if cells.Length() != 2 || header.Length() != 1 || value.Length() != 1 {
			return
		}
		info[strings.TrimSpace(header.Text())] = strings.TrimSpace(value.Text())
	})
	return info
}

func lookup(info map[string]string, label string) string {
	if v, ok := info[label]; ok && v != "" {
		return v
	}
	return models.Unknown
}

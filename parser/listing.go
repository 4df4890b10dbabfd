package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	productSelector = "article.product_pod"
	linkSelector    = "a"
)

// PageURL returns the listing URL for a 1-based page number. Page 1 is the
// catalog root; later pages live under catalogue/.
func PageURL(baseURL string, page int) string {
	base := strings.TrimRight(baseURL, "/") + "/"
	if page <= 1 {
		return base + "index.html"
	}
	return base + "catalogue/page-" + strconv.Itoa(page) + ".html"
}

// ParseListing returns the href of every item entry on a listing page, in
// document order. Entries without a link yield an empty string so callers
// can count and report them.
func ParseListing(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find(productSelector).Each(func(_ int, item *goquery.Selection) {
		href, _ := item.Find(linkSelector).First().Attr("href")
		hrefs = append(hrefs, strings.TrimSpace(href))
	})
	return hrefs
}

// ResolveBookURL turns a listing href into the canonical detail URL
// <base>catalogue/<slug>/index.html. Listing pages link either as
// "catalogue/<slug>/index.html" (root page) or "../<slug>/index.html"
// (catalogue pages); the slug is the link's parent segment.
func ResolveBookURL(baseURL, href string) (string, error) {
	if href == "" {
		return "", missing("link", productSelector+" "+linkSelector)
	}
	cleaned := strings.ReplaceAll(href, "../", "")
	parts := strings.Split(cleaned, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" {
		return "", fmt.Errorf("resolve item link %q: %w", href, missing("slug", productSelector+" "+linkSelector))
	}
	slug := parts[len(parts)-2]
	return strings.TrimRight(baseURL, "/") + "/catalogue/" + slug + "/index.html", nil
}

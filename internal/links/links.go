// Package links pulls anchors out of stored HTML and turns them into new
// crawl addresses.
package links

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// GetLinks returns every anchor carrying an href attribute, in document
// order, with nested inline markup flattened into the text label.
func GetLinks(html string) ([]crawler.Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []crawler.Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		out = append(out, crawler.Link{
			Href: href,
			Text: strings.Join(strings.Fields(sel.Text()), " "),
		})
	})
	return out, nil
}

// BodyHTML returns the inner HTML of the document body.
func BodyHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body, err := doc.Find("body").First().Html()
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return body, nil
}

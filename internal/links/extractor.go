// Package links extracts outbound anchors from HTML documents.
package links

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor returns absolute anchor hrefs in document order. Relative links
// are ignored; only hrefs beginning with "http" are followed.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses body and returns every a[href] value that starts with "http".
func (Extractor) Extract(_ string, body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if strings.HasPrefix(href, "http") {
			out = append(out, href)
		}
	})
	return out, nil
}

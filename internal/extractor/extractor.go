// Package extractor applies CSS selectors to rendered HTML, producing text
// fragments and outbound links.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rufuslabs/rufus/internal/crawler"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// GoqueryExtractor implements crawler.Extractor on top of goquery. It is a
// pure function of its inputs: no network access, no shared state.
type GoqueryExtractor struct{}

// New returns a GoqueryExtractor.
func New() *GoqueryExtractor {
	return &GoqueryExtractor{}
}

// Extract applies each selector in the order given; fragment order follows
// selector order, then document order within a selector's matches. Links
// come from anchor hrefs, resolved to absolute form against pageURL;
// malformed ones are dropped, not propagated as errors.
func (e *GoqueryExtractor) Extract(pageURL string, body []byte, selectors []string) (crawler.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	var extraction crawler.Extraction
	for _, selector := range selectors {
		if strings.TrimSpace(selector) == "" {
			continue
		}
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text := collapseWhitespace(sel.Text())
			if text != "" {
				extraction.Fragments = append(extraction.Fragments, text)
			}
		})
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		// Without a valid base no relative link can be resolved; absolute
		// links still make it through.
		base = nil
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if resolved := resolveLink(base, href); resolved != "" {
			extraction.Links = append(extraction.Links, resolved)
		}
	})

	return extraction, nil
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	if ref.Host == "" {
		return ""
	}
	return ref.String()
}

package crawler

import (
	"net/http"
	"time"
)

// Page is a fetched and (optionally) rendered document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	UsedJS     bool
}

// ContentLength returns the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// Fragment is a unit of text matched by a CSS selector on one page.
// Score is set only when a relevance filter scored the fragment.
type Fragment struct {
	URL   string   `json:"url"`
	Text  string   `json:"text"`
	Score *float64 `json:"score,omitempty"`
}

// PageError records a non-fatal per-page failure. Stage identifies which
// pipeline step failed (fetch, extract, or filter).
type PageError struct {
	URL    string `json:"url"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Pipeline stage names used in PageError.Stage.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageFilter  = "filter"
)

// Result accumulates everything a crawl run produced. Fragments preserve
// retention order; Errors preserve discovery order.
type Result struct {
	RunID     string      `json:"run_id"`
	StartedAt time.Time   `json:"started_at"`
	Fragments []Fragment  `json:"fragments"`
	Errors    []PageError `json:"errors,omitempty"`
	Pages     int         `json:"pages_fetched"`
}

// Extraction is what the extractor pulls out of one page: matched text
// fragments in selector-then-document order, plus absolute outbound links.
type Extraction struct {
	Fragments []string
	Links     []string
}

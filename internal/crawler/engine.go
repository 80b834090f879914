package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds the settings for one crawl run. It is decoupled from Viper so
// the engine can be constructed and tested without any configuration file.
type Config struct {
	Seeds          []string
	Selectors      []string
	MaxDepth       int
	MaxPages       int
	Concurrency    int
	ScoreThreshold float64
	DedupeText     bool
}

// Validate checks for configuration that must abort a run before any fetch.
func (c Config) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("%w: at least one seed URL is required", ErrInvalidConfig)
	}
	for _, seed := range c.Seeds {
		if _, err := NormalizeURL(seed); err != nil {
			return fmt.Errorf("%w: seed %q: %v", ErrInvalidConfig, seed, err)
		}
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max depth must be >= 0", ErrInvalidConfig)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("%w: max pages must be > 0", ErrInvalidConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be > 0", ErrInvalidConfig)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score threshold must be in [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// Engine orchestrates the fetch/extract/filter pipeline across a
// breadth-first frontier of URLs. The frontier and visited set are owned
// exclusively by the coordinator loop inside Run; fetch workers only ever
// receive work and report outcomes over channels.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	extractor Extractor
	scorer    Scorer
	robots    RobotsPolicy
	retry     RetryPolicy
	pause     pauseController
	ids       IDGenerator
	clock     Clock
	logger    *zap.Logger
}

// NewEngine constructs an Engine. scorer and robots may be nil, which
// retains every fragment and allows every URL respectively. A nil retry
// policy means a single fetch attempt per page.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	extractor Extractor,
	scorer Scorer,
	robots RobotsPolicy,
	retry RetryPolicy,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		scorer:    scorer,
		robots:    robots,
		retry:     retry,
		pause:     &timerPauseController{},
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// pageOutcome is what one worker reports back for one frontier entry.
type pageOutcome struct {
	entry     frontierEntry
	fragments []Fragment
	links     []string
	pageErr   *PageError
	filterErr *PageError
}

// Run executes the crawl and returns everything retained plus the list of
// pages that failed and why. A single page failure never aborts the run;
// only configuration problems or context cancellation do. When Concurrency
// is 1 the output fragment order is strict breadth-first extraction order;
// with more workers fragments stay grouped per page but pages land in
// completion order.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if err := e.cfg.Validate(); err != nil {
		return Result{}, err
	}

	result := Result{
		RunID:     e.newRunID(),
		StartedAt: e.now(),
	}

	front := newFrontier(e.cfg.MaxDepth)
	for _, seed := range e.cfg.Seeds {
		normalized, err := NormalizeURL(seed)
		if err != nil {
			return Result{}, fmt.Errorf("%w: seed %q: %v", ErrInvalidConfig, seed, err)
		}
		front.Push(normalized, 0)
	}

	outcomes := make(chan pageOutcome)
	seenText := make(map[string]struct{})
	inflight := 0
	dispatched := 0

	for {
		for inflight < e.cfg.Concurrency && dispatched < e.cfg.MaxPages && ctx.Err() == nil {
			entry, ok := front.Pop()
			if !ok {
				break
			}
			dispatched++
			inflight++
			TotalPagesFetched.Inc()
			go e.processPage(ctx, entry, outcomes)
		}
		if inflight == 0 {
			break
		}

		out := <-outcomes
		inflight--
		e.mergeOutcome(&result, front, seenText, out)
	}

	result.Pages = dispatched
	if err := ctx.Err(); err != nil {
		e.logger.Warn("Crawl canceled",
			zap.String("run_id", result.RunID),
			zap.Int("pages", dispatched),
		)
		return result, err
	}

	e.logger.Info("Crawl finished",
		zap.String("run_id", result.RunID),
		zap.Int("pages", dispatched),
		zap.Int("fragments", len(result.Fragments)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// mergeOutcome folds one page outcome into the result and enqueues the
// page's outbound links. Runs only on the coordinator goroutine, so the
// frontier and dedupe set need no locking.
func (e *Engine) mergeOutcome(result *Result, front *frontier, seenText map[string]struct{}, out pageOutcome) {
	if out.pageErr != nil {
		result.Errors = append(result.Errors, *out.pageErr)
	}
	if out.filterErr != nil {
		result.Errors = append(result.Errors, *out.filterErr)
	}

	for _, frag := range out.fragments {
		if e.cfg.DedupeText {
			if _, dup := seenText[frag.Text]; dup {
				TotalFragmentsDropped.Inc()
				continue
			}
			seenText[frag.Text] = struct{}{}
		}
		TotalFragmentsRetained.Inc()
		result.Fragments = append(result.Fragments, frag)
	}

	nextDepth := out.entry.depth + 1
	for _, link := range out.links {
		front.Push(link, nextDepth)
	}
}

// processPage runs the full pipeline for one URL and always reports an
// outcome, including on cancellation, so the coordinator never leaks an
// in-flight slot.
func (e *Engine) processPage(ctx context.Context, entry frontierEntry, outcomes chan<- pageOutcome) {
	out := pageOutcome{entry: entry}
	defer func() { outcomes <- out }()

	if e.robots != nil && !e.robots.Allowed(ctx, entry.url) {
		out.pageErr = &PageError{URL: entry.url, Stage: StageFetch, Reason: "disallowed by robots.txt"}
		return
	}

	page, err := e.fetchWithRetry(ctx, entry.url)
	if err != nil {
		TotalFetchErrors.Inc()
		out.pageErr = &PageError{URL: entry.url, Stage: StageFetch, Reason: err.Error()}
		e.logger.Warn("Page failed",
			zap.String("url", entry.url),
			zap.Int("depth", entry.depth),
			zap.Error(err),
		)
		return
	}

	extraction, err := e.extractor.Extract(pageBase(page), page.Body, e.cfg.Selectors)
	if err != nil {
		out.pageErr = &PageError{URL: entry.url, Stage: StageExtract, Reason: err.Error()}
		return
	}
	out.links = normalizeLinks(extraction.Links)
	out.fragments, out.filterErr = e.filterFragments(ctx, entry.url, extraction.Fragments)
}

// fetchWithRetry attempts the fetch under the retry policy. Transient
// failures are retried with backoff; everything else fails immediately.
func (e *Engine) fetchWithRetry(ctx context.Context, url string) (Page, error) {
	attempt := 1
	for {
		page, err := e.fetcher.Fetch(ctx, url)
		if err == nil {
			return page, nil
		}
		if e.retry == nil || !e.retry.ShouldRetry(err, attempt) {
			return Page{}, err
		}
		TotalRetries.Inc()
		delay := e.retry.Backoff(attempt)
		e.logger.Debug("Retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)
		e.pause.Pause(ctx, delay)
		if ctx.Err() != nil {
			return Page{}, NewFetchError(url, ctx.Err())
		}
		attempt++
	}
}

// filterFragments scores fragments against the threshold when a scorer is
// configured. A scorer failure retains the fragment unscored and surfaces a
// single filter error for the page.
func (e *Engine) filterFragments(ctx context.Context, pageURL string, texts []string) ([]Fragment, *PageError) {
	fragments := make([]Fragment, 0, len(texts))
	var filterErr *PageError

	for _, text := range texts {
		if text == "" {
			continue
		}
		if e.scorer == nil {
			fragments = append(fragments, Fragment{URL: pageURL, Text: text})
			continue
		}
		score, err := e.scorer.Score(ctx, text)
		if err != nil {
			// Classifier unavailable: retain rather than silently drop.
			if filterErr == nil {
				filterErr = &PageError{URL: pageURL, Stage: StageFilter, Reason: err.Error()}
			}
			fragments = append(fragments, Fragment{URL: pageURL, Text: text})
			continue
		}
		if score < e.cfg.ScoreThreshold {
			TotalFragmentsDropped.Inc()
			continue
		}
		s := score
		fragments = append(fragments, Fragment{URL: pageURL, Text: text, Score: &s})
	}
	return fragments, filterErr
}

func (e *Engine) newRunID() string {
	if e.ids == nil {
		return ""
	}
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Warn("Run ID generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}

// pageBase is the URL links should resolve against: the post-redirect URL
// when the fetcher reported one.
func pageBase(page Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}

// normalizeLinks canonicalizes extracted links and drops the malformed ones.
func normalizeLinks(links []string) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		normalized, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

// Package colly provides the fast-path HTTP fetcher used before headless
// promotion.
package colly

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/rufuslabs/rufus/internal/crawler"
)

// Config controls the plain HTTP fetcher.
type Config struct {
	UserAgent          string
	RequestTimeout     time.Duration
	Concurrency        int
	RateLimitPerDomain int
}

// Fetcher implements crawler.Fetcher using the Colly collector. It never
// executes JavaScript; pages that need rendering are promoted to the
// headless fetcher by the detector.
type Fetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New constructs a configured Colly-based Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	delay := time.Duration(0)
	if cfg.RateLimitPerDomain > 0 {
		delay = time.Second / time.Duration(cfg.RateLimitPerDomain)
	}
	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
		Delay:       delay,
	}); err != nil {
		return nil, err
	}

	return &Fetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page via the configured Colly collector.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		page := crawler.Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte{}, r.Body...),
		}
		send(fetchResult{page: page})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: classify(r, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return crawler.Page{}, crawler.NewFetchError(rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return crawler.Page{}, crawler.NewFetchError(rawURL, err)
		}
		if res.err != nil {
			return crawler.Page{}, crawler.NewFetchError(rawURL, res.err)
		}
		return res.page, nil
	default:
		return crawler.Page{}, crawler.NewFetchError(rawURL, errors.New("colly fetch produced no result"))
	}
}

// classify maps HTTP-level failures onto the crawler's taxonomy so the retry
// policy skips 4xx responses but retries timeouts.
func classify(r *colly.Response, err error) error {
	if r != nil && r.StatusCode >= http.StatusBadRequest && r.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", crawler.ErrPermanent, r.StatusCode)
	}
	if crawler.IsTransient(err) {
		return err
	}
	var netLike interface{ Timeout() bool }
	if errors.As(err, &netLike) && netLike.Timeout() {
		return fmt.Errorf("%w: %v", crawler.ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", crawler.ErrNavigation, err)
}

type fetchResult struct {
	page crawler.Page
	err  error
}

// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rufuslabs/rufus/internal/crawler"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	DomainQPS         float64
	// ScrollToBottom triggers lazy-loaded content before the DOM snapshot.
	ScrollToBottom bool
	SettleDelay    time.Duration
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
// The browser process is acquired once and shared by every fetch until
// Close; tabs are per-fetch.
type Fetcher struct {
	cfg            Config
	limiter        chan struct{}
	domainLimiters sync.Map
	allocator      context.Context
	allocCancel    context.CancelFunc
	browserCtx     context.Context
	browserCancel  context.CancelFunc
	logger         *zap.Logger
	closed         chan struct{}
	closeOnce      sync.Once
}

// NewChromedp creates a headless fetcher backed by chromedp and warms up the
// shared browser so the first page fetch does not pay the launch cost.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		allocator:     allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
		closed:        make(chan struct{}),
	}, nil
}

// Close tears down the shared browser. Safe to call more than once; fetches
// issued after Close fail with a session-closed error.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.browserCancel()
		f.allocCancel()
	})
}

// Fetch navigates a fresh tab to rawURL and returns the rendered DOM.
// Failures are classified so the retry policy can distinguish timeouts and
// session loss (transient) from permanent responses.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	if f.isClosed() {
		return crawler.Page{}, crawler.NewFetchError(rawURL, crawler.ErrSessionClosed)
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.Page{}, crawler.NewFetchError(rawURL, err)
	}
	defer f.release()

	if err := f.waitDomainBudget(ctx, rawURL); err != nil {
		return crawler.Page{}, crawler.NewFetchError(rawURL, err)
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	html, finalURL, err := f.runChromedp(taskCtx, rawURL)
	if err != nil {
		return crawler.Page{}, crawler.NewFetchError(rawURL, f.classify(ctx, taskCtx, err))
	}

	status, headers := meta.snapshot()
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return crawler.Page{}, crawler.NewFetchError(rawURL,
			fmt.Errorf("%w: status %d", crawler.ErrPermanent, status))
	}
	if finalURL == "" {
		finalURL = rawURL
	}

	return crawler.Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		UsedJS:     true,
	}, nil
}

func (f *Fetcher) runChromedp(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.UserAgent != "" {
		actions = append([]chromedp.Action{emulation.SetUserAgentOverride(f.cfg.UserAgent)}, actions...)
	}
	if f.cfg.ScrollToBottom {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		)
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", err
	}
	return html, finalURL, nil
}

// classify maps a raw chromedp error onto the crawler's failure taxonomy.
func (f *Fetcher) classify(parent, task context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		// Caller gave up; do not dress this up as a retryable failure.
		return parent.Err()
	case f.isClosed():
		return fmt.Errorf("%w: %v", crawler.ErrSessionClosed, err)
	case errors.Is(task.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", crawler.ErrFetchTimeout, err)
	case strings.Contains(err.Error(), "net::ERR_NAME_NOT_RESOLVED"):
		return fmt.Errorf("%w: %v", crawler.ErrPermanent, err)
	default:
		return fmt.Errorf("%w: %v", crawler.ErrNavigation, err)
	}
}

func (f *Fetcher) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) waitDomainBudget(ctx context.Context, rawURL string) error {
	if f.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse fetch url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := f.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
	seen    bool
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen {
		return
	}
	m.seen = true
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	for key, value := range resp.Response.Headers {
		m.headers.Add(key, fmt.Sprint(value))
	}
}

func (m *responseMeta) snapshot() (int, http.Header) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := http.Header{}
	for k, v := range m.headers {
		headers[k] = append([]string(nil), v...)
	}
	return status, headers
}

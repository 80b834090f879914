package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(Page), args.Error(1)
}

// MockExtractor is a mock implementation of the Extractor interface.
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(pageURL string, body []byte, selectors []string) (Extraction, error) {
	args := m.Called(pageURL, body, selectors)
	return args.Get(0).(Extraction), args.Error(1)
}

// MockScorer is a mock implementation of the Scorer interface.
type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Score(ctx context.Context, text string) (float64, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(float64), args.Error(1)
}

// MockRobotsPolicy is a mock implementation of the RobotsPolicy interface.
type MockRobotsPolicy struct {
	mock.Mock
}

func (m *MockRobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	args := m.Called(ctx, rawURL)
	return args.Bool(0)
}

// countingFetcher fails with a transient error a fixed number of times, then
// succeeds.
type countingFetcher struct {
	mu       sync.Mutex
	attempts map[string]int
	fails    map[string]int
	pages    map[string]Page
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		attempts: make(map[string]int),
		fails:    make(map[string]int),
		pages:    make(map[string]Page),
	}
}

func (f *countingFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[rawURL]++
	if f.attempts[rawURL] <= f.fails[rawURL] {
		return Page{}, NewFetchError(rawURL, ErrFetchTimeout)
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return Page{}, NewFetchError(rawURL, ErrPermanent)
	}
	return page, nil
}

// linkExtractor returns canned fragments and links per page URL.
type linkExtractor struct {
	fragments map[string][]string
	links     map[string][]string
}

func (e *linkExtractor) Extract(pageURL string, _ []byte, _ []string) (Extraction, error) {
	return Extraction{
		Fragments: e.fragments[pageURL],
		Links:     e.links[pageURL],
	}, nil
}

func fastRetry(maxAttempts int) *ExponentialRetryPolicy {
	return NewRetryPolicy(maxAttempts, time.Millisecond, 2, 10*time.Millisecond)
}

func baseConfig() Config {
	return Config{
		Seeds:       []string{"http://a.test/"},
		Selectors:   []string{"p"},
		MaxDepth:    1,
		MaxPages:    10,
		Concurrency: 1,
	}
}

func TestEngine_Run(t *testing.T) {
	t.Run("simple crawl retains fragments in order", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 0

		fetcher := new(MockFetcher)
		ext := new(MockExtractor)
		engine := NewEngine(cfg, fetcher, ext, nil, nil, nil, nil, nil, nil)

		page := Page{URL: "http://a.test/", FinalURL: "http://a.test/", StatusCode: 200, Body: []byte("<html></html>")}
		fetcher.On("Fetch", mock.Anything, "http://a.test/").Return(page, nil)
		ext.On("Extract", "http://a.test/", page.Body, cfg.Selectors).
			Return(Extraction{Fragments: []string{"first", "second"}}, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Equal(t, 1, result.Pages)
		require.Empty(t, result.Errors)
		require.Equal(t, []Fragment{
			{URL: "http://a.test/", Text: "first"},
			{URL: "http://a.test/", Text: "second"},
		}, result.Fragments)
		fetcher.AssertExpectations(t)
	})

	t.Run("breadth-first link following stops at max depth", func(t *testing.T) {
		// A links to B and C at depth 1; B and C link onward, but depth 1 is
		// the limit so their links must never be enqueued.
		cfg := baseConfig()

		fetcher := newCountingFetcher()
		for _, u := range []string{"http://a.test/", "http://a.test/b", "http://a.test/c"} {
			fetcher.pages[u] = Page{URL: u, FinalURL: u, StatusCode: 200}
		}
		ext := &linkExtractor{
			fragments: map[string][]string{
				"http://a.test/":  {"title A"},
				"http://a.test/b": {"title B"},
				"http://a.test/c": {"title C"},
			},
			links: map[string][]string{
				"http://a.test/":  {"http://a.test/b", "http://a.test/c"},
				"http://a.test/b": {"http://a.test/deeper"},
				"http://a.test/c": {"http://a.test/even-deeper"},
			},
		}
		engine := NewEngine(cfg, fetcher, ext, nil, nil, nil, nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Equal(t, 3, result.Pages)
		require.Equal(t, []Fragment{
			{URL: "http://a.test/", Text: "title A"},
			{URL: "http://a.test/b", Text: "title B"},
			{URL: "http://a.test/c", Text: "title C"},
		}, result.Fragments)
		require.Zero(t, fetcher.attempts["http://a.test/deeper"])
		require.Zero(t, fetcher.attempts["http://a.test/even-deeper"])
	})

	t.Run("no URL is fetched twice", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 5

		fetcher := newCountingFetcher()
		fetcher.pages["http://a.test/"] = Page{URL: "http://a.test/", FinalURL: "http://a.test/", StatusCode: 200}
		fetcher.pages["http://a.test/b"] = Page{URL: "http://a.test/b", FinalURL: "http://a.test/b", StatusCode: 200}
		ext := &linkExtractor{
			links: map[string][]string{
				// Mutual links plus self links and a differently spelled dup.
				"http://a.test/":  {"http://a.test/b", "http://a.test/", "http://A.test/b#frag"},
				"http://a.test/b": {"http://a.test/", "http://a.test/b"},
			},
		}
		engine := NewEngine(cfg, fetcher, ext, nil, nil, nil, nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Equal(t, 2, result.Pages)
		require.Equal(t, 1, fetcher.attempts["http://a.test/"])
		require.Equal(t, 1, fetcher.attempts["http://a.test/b"])
	})

	t.Run("max pages bounds the crawl", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 10
		cfg.MaxPages = 2

		fetcher := newCountingFetcher()
		links := map[string][]string{}
		for i := 0; i < 5; i++ {
			u := fmt.Sprintf("http://a.test/p%d", i)
			fetcher.pages[u] = Page{URL: u, FinalURL: u, StatusCode: 200}
			links[u] = []string{fmt.Sprintf("http://a.test/p%d", i+1)}
		}
		cfg.Seeds = []string{"http://a.test/p0"}
		engine := NewEngine(cfg, fetcher, &linkExtractor{links: links}, nil, nil, nil, nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Equal(t, 2, result.Pages)
		total := 0
		for _, n := range fetcher.attempts {
			total += n
		}
		require.Equal(t, 2, total)
	})

	t.Run("transient failures are retried then succeed", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 0

		fetcher := newCountingFetcher()
		fetcher.pages["http://a.test/"] = Page{URL: "http://a.test/", FinalURL: "http://a.test/", StatusCode: 200}
		fetcher.fails["http://a.test/"] = 2 // two timeouts, third attempt succeeds

		ext := &linkExtractor{fragments: map[string][]string{"http://a.test/": {"made it"}}}
		engine := NewEngine(cfg, fetcher, ext, nil, nil, fastRetry(3), nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Empty(t, result.Errors)
		require.Len(t, result.Fragments, 1)
		require.Equal(t, 3, fetcher.attempts["http://a.test/"])
	})

	t.Run("terminal fetch failure is recorded and the run continues", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Seeds = []string{"http://a.test/", "http://b.test/"}
		cfg.MaxDepth = 0

		fetcher := newCountingFetcher()
		fetcher.pages["http://b.test/"] = Page{URL: "http://b.test/", FinalURL: "http://b.test/", StatusCode: 200}
		fetcher.fails["http://a.test/"] = 100 // never recovers

		ext := &linkExtractor{fragments: map[string][]string{"http://b.test/": {"survivor"}}}
		engine := NewEngine(cfg, fetcher, ext, nil, nil, fastRetry(3), nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Len(t, result.Errors, 1)
		require.Equal(t, "http://a.test/", result.Errors[0].URL)
		require.Equal(t, StageFetch, result.Errors[0].Stage)
		require.Equal(t, 3, fetcher.attempts["http://a.test/"])
		require.Equal(t, []Fragment{{URL: "http://b.test/", Text: "survivor"}}, result.Fragments)
	})

	t.Run("permanent failures do not consume retry budget", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 0

		fetcher := newCountingFetcher() // unknown URL yields ErrPermanent
		engine := NewEngine(cfg, fetcher, &linkExtractor{}, nil, nil, fastRetry(3), nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Len(t, result.Errors, 1)
		require.Equal(t, 1, fetcher.attempts["http://a.test/"])
	})

	t.Run("filter threshold retains only scoring fragments", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 0
		cfg.ScoreThreshold = 0.5

		fetcher := new(MockFetcher)
		ext := new(MockExtractor)
		scorer := new(MockScorer)
		engine := NewEngine(cfg, fetcher, ext, scorer, nil, nil, nil, nil, nil)

		page := Page{URL: "http://a.test/", FinalURL: "http://a.test/", StatusCode: 200}
		fetcher.On("Fetch", mock.Anything, "http://a.test/").Return(page, nil)
		ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).
			Return(Extraction{Fragments: []string{"hot", "cold", "warm"}}, nil)
		scorer.On("Score", mock.Anything, "hot").Return(0.9, nil)
		scorer.On("Score", mock.Anything, "cold").Return(0.3, nil)
		scorer.On("Score", mock.Anything, "warm").Return(0.6, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Len(t, result.Fragments, 2)
		require.Equal(t, "hot", result.Fragments[0].Text)
		require.Equal(t, 0.9, *result.Fragments[0].Score)
		require.Equal(t, "warm", result.Fragments[1].Text)
		require.Equal(t, 0.6, *result.Fragments[1].Score)
	})

	t.Run("scorer failure retains the fragment and records a filter error", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 0
		cfg.ScoreThreshold = 0.5

		fetcher := new(MockFetcher)
		ext := new(MockExtractor)
		scorer := new(MockScorer)
		engine := NewEngine(cfg, fetcher, ext, scorer, nil, nil, nil, nil, nil)

		page := Page{URL: "http://a.test/", FinalURL: "http://a.test/", StatusCode: 200}
		fetcher.On("Fetch", mock.Anything, "http://a.test/").Return(page, nil)
		ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).
			Return(Extraction{Fragments: []string{"unscorable"}}, nil)
		scorer.On("Score", mock.Anything, "unscorable").Return(0.0, errors.New("model unavailable"))

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Len(t, result.Fragments, 1)
		require.Nil(t, result.Fragments[0].Score)
		require.Len(t, result.Errors, 1)
		require.Equal(t, StageFilter, result.Errors[0].Stage)
	})

	t.Run("duplicate fragment text across pages is dropped", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Seeds = []string{"http://a.test/", "http://b.test/"}
		cfg.MaxDepth = 0
		cfg.DedupeText = true

		fetcher := newCountingFetcher()
		fetcher.pages["http://a.test/"] = Page{URL: "http://a.test/", FinalURL: "http://a.test/", StatusCode: 200}
		fetcher.pages["http://b.test/"] = Page{URL: "http://b.test/", FinalURL: "http://b.test/", StatusCode: 200}
		ext := &linkExtractor{fragments: map[string][]string{
			"http://a.test/": {"shared boilerplate", "unique to a"},
			"http://b.test/": {"shared boilerplate", "unique to b"},
		}}
		engine := NewEngine(cfg, fetcher, ext, nil, nil, nil, nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Equal(t, []Fragment{
			{URL: "http://a.test/", Text: "shared boilerplate"},
			{URL: "http://a.test/", Text: "unique to a"},
			{URL: "http://b.test/", Text: "unique to b"},
		}, result.Fragments)
	})

	t.Run("robots disallow records an error without fetching", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 0

		fetcher := new(MockFetcher)
		robots := new(MockRobotsPolicy)
		engine := NewEngine(cfg, fetcher, new(MockExtractor), nil, robots, nil, nil, nil, nil)

		robots.On("Allowed", mock.Anything, "http://a.test/").Return(false)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Len(t, result.Errors, 1)
		fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})

	t.Run("empty seeds abort before any fetch", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Seeds = nil
		engine := NewEngine(cfg, new(MockFetcher), new(MockExtractor), nil, nil, nil, nil, nil, nil)

		_, err := engine.Run(context.Background())

		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("malformed seed aborts before any fetch", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Seeds = []string{"not-a-url"}
		fetcher := new(MockFetcher)
		engine := NewEngine(cfg, fetcher, new(MockExtractor), nil, nil, nil, nil, nil, nil)

		_, err := engine.Run(context.Background())

		require.ErrorIs(t, err, ErrInvalidConfig)
		fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})

	t.Run("cancellation returns partial results", func(t *testing.T) {
		cfg := baseConfig()
		engine := NewEngine(cfg, new(MockFetcher), new(MockExtractor), nil, nil, nil, nil, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := engine.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("bounded parallelism keeps exactly-once and max-pages semantics", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxDepth = 3
		cfg.MaxPages = 8
		cfg.Concurrency = 4

		fetcher := newCountingFetcher()
		links := map[string][]string{}
		for i := 0; i < 20; i++ {
			u := fmt.Sprintf("http://a.test/p%d", i)
			fetcher.pages[u] = Page{URL: u, FinalURL: u, StatusCode: 200}
			links[u] = []string{
				fmt.Sprintf("http://a.test/p%d", (i+1)%20),
				fmt.Sprintf("http://a.test/p%d", (i+2)%20),
			}
		}
		cfg.Seeds = []string{"http://a.test/p0"}
		engine := NewEngine(cfg, fetcher, &linkExtractor{links: links}, nil, nil, nil, nil, nil, nil)

		result, err := engine.Run(context.Background())

		require.NoError(t, err)
		require.Equal(t, 8, result.Pages)
		for u, n := range fetcher.attempts {
			require.Equalf(t, 1, n, "url %s fetched %d times", u, n)
		}
	})
}

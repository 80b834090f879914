package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rufuslabs/rufus/internal/crawler"
)

type stubFetcher struct {
	page  crawler.Page
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, string) (crawler.Page, error) {
	s.calls++
	return s.page, s.err
}

type stubDetector struct{ needs bool }

func (s *stubDetector) NeedsJS(crawler.Page) bool { return s.needs }

func TestPromoting_StaticResponseSufficient(t *testing.T) {
	probe := &stubFetcher{page: crawler.Page{URL: "http://a.test/", Body: []byte("static")}}
	headless := &stubFetcher{}
	p := NewPromoting(probe, headless, &stubDetector{needs: false}, nil)

	page, err := p.Fetch(context.Background(), "http://a.test/")

	require.NoError(t, err)
	assert.Equal(t, []byte("static"), page.Body)
	assert.Equal(t, 1, probe.calls)
	assert.Zero(t, headless.calls)
}

func TestPromoting_PromotesWhenDetectorFlags(t *testing.T) {
	probe := &stubFetcher{page: crawler.Page{Body: []byte("shell")}}
	headless := &stubFetcher{page: crawler.Page{Body: []byte("rendered"), UsedJS: true}}
	p := NewPromoting(probe, headless, &stubDetector{needs: true}, nil)

	page, err := p.Fetch(context.Background(), "http://a.test/")

	require.NoError(t, err)
	assert.Equal(t, []byte("rendered"), page.Body)
	assert.True(t, page.UsedJS)
	assert.Equal(t, 1, headless.calls)
}

func TestPromoting_HeadlessFailureKeepsStatic(t *testing.T) {
	probe := &stubFetcher{page: crawler.Page{Body: []byte("shell")}}
	headless := &stubFetcher{err: crawler.ErrNavigation}
	p := NewPromoting(probe, headless, &stubDetector{needs: true}, nil)

	page, err := p.Fetch(context.Background(), "http://a.test/")

	require.NoError(t, err)
	assert.Equal(t, []byte("shell"), page.Body)
}

func TestPromoting_ProbeFailurePropagates(t *testing.T) {
	probe := &stubFetcher{err: crawler.NewFetchError("http://a.test/", crawler.ErrFetchTimeout)}
	headless := &stubFetcher{}
	p := NewPromoting(probe, headless, &stubDetector{needs: true}, nil)

	_, err := p.Fetch(context.Background(), "http://a.test/")

	require.ErrorIs(t, err, crawler.ErrFetchTimeout)
	assert.Zero(t, headless.calls, "probe failures are not promoted")
}

func TestPromoting_NilProbeGoesStraightToHeadless(t *testing.T) {
	headless := &stubFetcher{page: crawler.Page{Body: []byte("rendered")}}
	p := NewPromoting(nil, headless, nil, nil)

	page, err := p.Fetch(context.Background(), "http://a.test/")

	require.NoError(t, err)
	assert.Equal(t, []byte("rendered"), page.Body)
	assert.Equal(t, 1, headless.calls)
}

func TestPromoting_NilDetectorNeverPromotes(t *testing.T) {
	probe := &stubFetcher{page: crawler.Page{Body: []byte("static")}}
	headless := &stubFetcher{}
	p := NewPromoting(probe, headless, nil, nil)

	_, err := p.Fetch(context.Background(), "http://a.test/")

	require.NoError(t, err)
	assert.Zero(t, headless.calls)
}

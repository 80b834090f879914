package fetcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/rufuslabs/rufus/internal/crawler"
)

// Detector decides whether a probe fetch needs a headless re-fetch.
type Detector interface {
	NeedsJS(page crawler.Page) bool
}

// Promoting fetches through the fast HTTP path first and escalates to the
// headless fetcher only when the detector flags the response. With a nil
// probe every fetch goes straight to headless.
type Promoting struct {
	probe    crawler.Fetcher
	headless crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting wires the two fetchers behind a single crawler.Fetcher.
func NewPromoting(probe, headless crawler.Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch implements crawler.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, rawURL string) (crawler.Page, error) {
	if p.probe == nil {
		return p.headless.Fetch(ctx, rawURL)
	}

	page, err := p.probe.Fetch(ctx, rawURL)
	if err != nil {
		return crawler.Page{}, err
	}
	if p.headless == nil || p.detector == nil || !p.detector.NeedsJS(page) {
		return page, nil
	}

	rendered, err := p.headless.Fetch(ctx, rawURL)
	if err != nil {
		// The static response is still usable; promotion is best effort.
		p.logger.Warn("Headless promotion failed; keeping static response",
			zap.String("url", rawURL), zap.Error(err))
		return page, nil
	}
	return rendered, nil
}

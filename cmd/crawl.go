package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rufuslabs/rufus/internal/api"
	"github.com/rufuslabs/rufus/internal/clock/system"
	"github.com/rufuslabs/rufus/internal/config"
	"github.com/rufuslabs/rufus/internal/crawler"
	"github.com/rufuslabs/rufus/internal/extractor"
	"github.com/rufuslabs/rufus/internal/fetcher"
	collyfetcher "github.com/rufuslabs/rufus/internal/fetcher/colly"
	"github.com/rufuslabs/rufus/internal/fetcher/headless"
	"github.com/rufuslabs/rufus/internal/filter"
	"github.com/rufuslabs/rufus/internal/id/uuid"
	"github.com/rufuslabs/rufus/internal/index"
	"github.com/rufuslabs/rufus/internal/logging"
	"github.com/rufuslabs/rufus/internal/sink"
	"github.com/rufuslabs/rufus/internal/storage/postgres"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a crawl and exports the retained fragments",
		Long: `Crawls breadth-first from the configured seed URLs, extracts text
fragments with the configured CSS selectors, and writes the retained
fragments plus per-page errors to the output file. When enabled, the
relevance filter drops off-topic fragments and the index step embeds
everything that survived into the vector store.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metricsSrv := api.New(cfg.Metrics.Port, logger)
		metricsSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(serr))
			}
		}()
	}

	engine, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, runErr := engine.Run(ctx)
	switch {
	case runErr == nil:
	case errors.Is(runErr, crawler.ErrInvalidConfig):
		return runErr
	case errors.Is(runErr, context.Canceled):
		logger.Warn("Crawl interrupted; exporting partial results")
	default:
		return fmt.Errorf("run crawl: %w", runErr)
	}

	if err := exportResult(ctx, cfg, logger, result); err != nil {
		return err
	}

	logger.Info("Crawl command finished",
		zap.Int("pages", result.Pages),
		zap.Int("fragments", len(result.Fragments)),
		zap.Int("page_errors", len(result.Errors)),
	)
	return nil
}

// buildEngine assembles the fetch/extract/filter pipeline from config. The
// returned cleanup releases the browser session and must run on every exit
// path.
func buildEngine(cfg config.Config, logger *zap.Logger) (*crawler.Engine, func(), error) {
	cleanup := func() {}

	var pageFetcher crawler.Fetcher
	probe, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:          cfg.Crawler.UserAgent,
		RequestTimeout:     cfg.RequestTimeout(),
		Concurrency:        cfg.Crawler.Concurrency,
		RateLimitPerDomain: cfg.HTTP.RateLimitPerDomain,
	}, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("init http fetcher: %w", err)
	}
	pageFetcher = probe

	if cfg.Headless.Enabled {
		browser, herr := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout(),
			DomainQPS:         cfg.Headless.DomainQPS,
			ScrollToBottom:    cfg.Headless.ScrollToBottom,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		}, logger)
		if herr != nil {
			return nil, cleanup, fmt.Errorf("init headless fetcher: %w", herr)
		}
		cleanup = browser.Close
		detector := fetcher.NewHeuristicDetector(
			cfg.Detector.MinHTMLBytes,
			cfg.Detector.SelectorMust,
			cfg.Detector.Keywords,
		)
		pageFetcher = fetcher.NewPromoting(probe, browser, detector, logger)
	}

	var scorer crawler.Scorer
	if cfg.Filter.Enabled {
		keywordScorer, ferr := filter.NewKeywordScorer(cfg.Filter.Keywords)
		if ferr != nil {
			return nil, cleanup, fmt.Errorf("%w: %v", crawler.ErrInvalidConfig, ferr)
		}
		scorer = keywordScorer
	}

	engine := crawler.NewEngine(
		crawler.Config{
			Seeds:          cfg.Crawler.Seeds,
			Selectors:      cfg.Crawler.Selectors,
			MaxDepth:       cfg.Crawler.MaxDepth,
			MaxPages:       cfg.Crawler.MaxPages,
			Concurrency:    cfg.Crawler.Concurrency,
			ScoreThreshold: cfg.Filter.Threshold,
			DedupeText:     cfg.Crawler.DedupeText,
		},
		pageFetcher,
		extractor.New(),
		scorer,
		crawler.NewRobotsEnforcer(cfg.Crawler.RespectRobots, cfg.Crawler.UserAgent, logger),
		crawler.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.BackoffInitial(), cfg.Retry.Multiplier, cfg.BackoffMax()),
		uuid.NewUUIDGenerator(),
		system.New(),
		logger,
	)
	return engine, cleanup, nil
}

// exportResult writes the JSON document and runs the optional archive and
// index steps. Index failures never invalidate the exported fragments.
func exportResult(ctx context.Context, cfg config.Config, logger *zap.Logger, result crawler.Result) error {
	if err := sink.NewJSONSink(logger).Write(cfg.Output.Path, result); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	if cfg.Storage.Provider == "postgres" {
		store, err := postgres.NewFragmentStore(ctx, postgres.FragmentStoreConfig{
			DSN:   cfg.Storage.DSN,
			Table: cfg.Storage.Table,
		})
		if err != nil {
			logger.Error("Fragment archive unavailable", zap.Error(err))
		} else {
			defer store.Close()
			if err := store.SaveResult(ctx, result); err != nil {
				logger.Error("Fragment archive failed", zap.Error(err))
			}
		}
	}

	if cfg.Index.Enabled {
		store, err := index.Open(index.Config{
			Path:             cfg.Index.Path,
			EmbeddingBaseURL: cfg.Index.EmbeddingBaseURL,
			EmbeddingAPIKey:  cfg.Index.EmbeddingAPIKey,
			EmbeddingModel:   cfg.Index.EmbeddingModel,
		}, nil, logger)
		if err != nil {
			logger.Error("Index build skipped", zap.Error(err))
			return nil
		}
		if err := store.Build(ctx, result.Fragments); err != nil {
			logger.Error("Index build failed; exported fragments are unaffected", zap.Error(err))
		}
	}
	return nil
}

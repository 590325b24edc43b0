package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/app"
	"github.com/JakeFAU/docmirror/internal/clock/system"
	"github.com/JakeFAU/docmirror/internal/config"
	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/extract"
	collyfetcher "github.com/JakeFAU/docmirror/internal/fetcher/colly"
	"github.com/JakeFAU/docmirror/internal/fetcher/httpclient"
	"github.com/JakeFAU/docmirror/internal/fetcher/transport"
	"github.com/JakeFAU/docmirror/internal/hash/sha256"
	"github.com/JakeFAU/docmirror/internal/id/uuid"
	"github.com/JakeFAU/docmirror/internal/planner"
	"github.com/JakeFAU/docmirror/internal/policy/ratelimit"
	"github.com/JakeFAU/docmirror/internal/storage/local"
	"github.com/JakeFAU/docmirror/internal/store"
)

// pipeline holds the collaborators of a sync run.
type pipeline struct {
	crawler   *crawler.SiteCrawler
	planner   *planner.Planner
	files     *local.DocumentStore
	snapshots *store.Store
	runner    *app.Runner
	closers   []closer
	logger    *zap.Logger
}

type closer struct {
	name string
	fn   func() error
}

// buildPipeline wires fetchers, politeness, storage and the runner from cfg.
// Sinks are only connected when withSinks is set.
func buildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, withSinks bool) (*pipeline, error) {
	userAgent := cfg.Site.UserAgent
	limiter := ratelimit.New(ratelimit.Config{MinInterval: cfg.MinInterval()})
	retry := crawler.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries + 1)

	robotsClient := transport.NewClient(transport.New(transport.Config{Logger: logger}), cfg.ProbeTimeout())
	robots := crawler.NewRobotsEnforcer(cfg.Site.RespectRobots, userAgent, robotsClient, logger)

	extractor, err := extract.New(cfg.ExtractConfig(), logger)
	if err != nil {
		return nil, err
	}
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:   userAgent,
		Timeout:     cfg.Timeout(),
		MaxBodySize: cfg.HTTP.MaxPageBytes,
		Logger:      logger,
	})
	site, err := crawler.NewSiteCrawler(crawler.SiteCrawlerOptions{
		Fetcher:   pages,
		Extractor: extractor,
		Limiter:   limiter,
		Robots:    robots,
		Retry:     retry,
		MaxPages:  cfg.Site.MaxPages,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	prober := httpclient.New(httpclient.Config{UserAgent: userAgent, Timeout: cfg.ProbeTimeout(), Logger: logger})
	downloader := httpclient.New(httpclient.Config{
		UserAgent: userAgent,
		Timeout:   cfg.Timeout(),
		MaxBytes:  cfg.HTTP.MaxDownloadBytes,
		Logger:    logger,
	})

	files, err := local.New(local.Config{BaseDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	clock := system.New()
	plan, err := planner.New(planner.Options{
		Prober:     prober,
		Downloader: downloader,
		Files:      files,
		Hasher:     sha256.New(),
		Clock:      clock,
		Limiter:    limiter,
		Robots:     robots,
		Retry:      retry,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	snapshots, err := store.New(cfg.MetadataPath(), logger)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		crawler:   site,
		planner:   plan,
		files:     files,
		snapshots: snapshots,
		logger:    logger,
	}
	var sinks []app.Sink
	if withSinks {
		sinks, p.closers = buildSinks(ctx, cfg, logger)
	}

	p.runner, err = app.NewRunner(app.Options{
		StartURL: cfg.Site.StartURL,
		Crawler:  site,
		Planner:  plan,
		Files:    files,
		Store:    snapshots,
		Clock:    clock,
		IDs:      uuid.New(),
		Sinks:    sinks,
		Logger:   logger,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Close releases sink connections in reverse order.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			p.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	p.closers = nil
}

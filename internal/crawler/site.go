package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/JakeFAU/docmirror/internal/metrics"
	"go.uber.org/zap"
)

// SiteCrawlerOptions wires the collaborators of a SiteCrawler.
type SiteCrawlerOptions struct {
	Fetcher   PageFetcher
	Extractor Extractor
	Limiter   Limiter
	Robots    RobotsPolicy
	Retry     RetryPolicy
	// MaxPages bounds the number of pages processed. Zero means unbounded.
	MaxPages int
	Logger   *zap.Logger
}

// SiteCrawler walks the documents page and every follow link it yields,
// breadth first, one page at a time.
type SiteCrawler struct {
	fetcher   PageFetcher
	extractor Extractor
	limiter   Limiter
	robots    RobotsPolicy
	retry     RetryPolicy
	maxPages  int
	logger    *zap.Logger
}

// NewSiteCrawler validates opts and builds a crawler.
func NewSiteCrawler(opts SiteCrawlerOptions) (*SiteCrawler, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("site crawler: fetcher is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("site crawler: extractor is required")
	}
	c := &SiteCrawler{
		fetcher:   opts.Fetcher,
		extractor: opts.Extractor,
		limiter:   opts.Limiter,
		robots:    opts.Robots,
		retry:     opts.Retry,
		maxPages:  opts.MaxPages,
		logger:    opts.Logger,
	}
	if c.limiter == nil {
		c.limiter = noopLimiter{}
	}
	if c.robots == nil {
		c.robots = AllowAll()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("site_crawler")
	return c, nil
}

// Crawl visits startURL and every page reachable through follow links.
// Page failures are logged and skipped. A cancelled context aborts the crawl.
func (c *SiteCrawler) Crawl(ctx context.Context, startURL string) (CrawlResult, error) {
	start, err := NormalizeURL(startURL)
	if err != nil {
		return CrawlResult{}, fmt.Errorf("normalize start url: %w", err)
	}

	queue := []string{start}
	queued := map[string]struct{}{start: {}}
	visited := make(map[string]struct{})
	fetched := 0
	docs := make(map[string]SourceDocument)
	result := CrawlResult{ExpectedKeys: make(map[string]struct{})}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return CrawlResult{}, fmt.Errorf("crawl interrupted: %w", err)
		}
		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		if c.maxPages > 0 && fetched >= c.maxPages {
			c.logger.Warn("page limit reached; stopping crawl",
				zap.Int("max_pages", c.maxPages),
				zap.Int("queued", len(queue)+1),
			)
			break
		}

		fetched++
		page, extraction, err := c.visit(ctx, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return CrawlResult{}, fmt.Errorf("crawl interrupted: %w", ctxErr)
			}
			result.PagesFailed++
			status := "error"
			if errors.Is(err, ErrDisallowed) {
				status = "disallowed"
			}
			metrics.ObservePage(status)
			c.logger.Warn("page skipped", zap.String("url", current), zap.Error(err))
			continue
		}
		result.PagesVisited++
		metrics.ObservePage("ok")

		if final, err := NormalizeURL(page.BaseURL()); err == nil && final != current {
			visited[final] = struct{}{}
			queued[final] = struct{}{}
		}

		for _, doc := range extraction.Documents {
			docs[doc.EntryKey] = doc
			result.ExpectedKeys[doc.EntryKey] = struct{}{}
		}
		added := 0
		for _, link := range extraction.FollowURLs {
			norm, err := NormalizeURL(link)
			if err != nil {
				c.logger.Debug("follow link ignored", zap.String("url", link), zap.Error(err))
				continue
			}
			if _, ok := queued[norm]; ok {
				continue
			}
			queued[norm] = struct{}{}
			queue = append(queue, norm)
			added++
		}
		c.logger.Info("page processed",
			zap.String("url", current),
			zap.Int("documents", len(extraction.Documents)),
			zap.Int("follow_links", added),
		)
	}

	result.Documents = make([]SourceDocument, 0, len(docs))
	for _, doc := range docs {
		result.Documents = append(result.Documents, doc)
	}
	sort.Slice(result.Documents, func(i, j int) bool {
		return result.Documents[i].EntryKey < result.Documents[j].EntryKey
	})
	return result, nil
}

func (c *SiteCrawler) visit(ctx context.Context, target string) (Page, Extraction, error) {
	if !c.robots.Allowed(ctx, target) {
		return Page{}, Extraction{}, fmt.Errorf("fetch %s: %w", target, ErrDisallowed)
	}
	page, err := Retry(ctx, c.retry, func(ctx context.Context) (Page, error) {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return Page{}, err
		}
		return c.fetcher.FetchPage(ctx, target)
	})
	if err != nil {
		return Page{}, Extraction{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	extraction, err := c.extractor.Extract(page)
	if err != nil {
		return Page{}, Extraction{}, fmt.Errorf("extract %s: %w", target, err)
	}
	return page, extraction, nil
}

type noopLimiter struct{}

func (noopLimiter) Wait(context.Context, string) error { return nil }

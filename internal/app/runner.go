// Package app sequences one sync run: load the prior snapshot, crawl, plan and
// fetch every document, remove vanished entries, save, then hand the outcome
// to the configured sinks.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/identity"
	"github.com/JakeFAU/docmirror/internal/metrics"
	"github.com/JakeFAU/docmirror/internal/planner"
)

// ErrNothingCrawled aborts a run when no page could be fetched. Continuing
// would treat every known document as removed.
var ErrNothingCrawled = errors.New("no page could be crawled")

// ErrNoDocuments aborts a run whose crawl listed no documents while the
// mirror still holds some.
var ErrNoDocuments = errors.New("crawl found no documents")

var tracer = otel.Tracer("github.com/JakeFAU/docmirror/internal/app")

// SiteCrawler produces the current document set.
type SiteCrawler interface {
	Crawl(ctx context.Context, startURL string) (crawler.CrawlResult, error)
}

// DocumentPlanner decides and executes the sync of one document.
type DocumentPlanner interface {
	Decide(ctx context.Context, doc crawler.SourceDocument, prior *crawler.Entry) planner.Decision
	Apply(ctx context.Context, doc crawler.SourceDocument, prior *crawler.Entry, d planner.Decision, paths *identity.PathSet) (crawler.Entry, error)
}

// SnapshotStore loads and saves the metadata snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) crawler.Snapshot
	Save(ctx context.Context, snap crawler.Snapshot) error
	Path() string
}

// Options wires a Runner.
type Options struct {
	StartURL string
	// Source is recorded in the snapshot. Defaults to StartURL.
	Source  string
	Crawler SiteCrawler
	Planner DocumentPlanner
	Files   crawler.DocumentStore
	Store   SnapshotStore
	Clock   crawler.Clock
	IDs     crawler.IDGenerator
	Sinks   []Sink
	Logger  *zap.Logger
}

// Runner executes sync runs.
type Runner struct {
	opts   Options
	logger *zap.Logger
}

// NewRunner validates opts.
func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.StartURL == "":
		return nil, errors.New("app: start url is required")
	case opts.Crawler == nil:
		return nil, errors.New("app: crawler is required")
	case opts.Planner == nil:
		return nil, errors.New("app: planner is required")
	case opts.Files == nil:
		return nil, errors.New("app: document store is required")
	case opts.Store == nil:
		return nil, errors.New("app: snapshot store is required")
	case opts.Clock == nil:
		return nil, errors.New("app: clock is required")
	case opts.IDs == nil:
		return nil, errors.New("app: id generator is required")
	}
	if opts.Source == "" {
		opts.Source = opts.StartURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, logger: logger.Named("runner")}, nil
}

// Run performs one sync. The snapshot is written once, at the end; an
// interrupted or aborted run leaves the previous snapshot untouched. A run
// that completed but lost documents returns its summary together with an
// error wrapping ErrIncompleteRun.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	runID, err := r.opts.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := r.logger.With(zap.String("run_id", runID))
	ctx, span := tracer.Start(ctx, "docmirror.sync")
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("source", r.opts.Source))
	defer span.End()

	summary := Summary{
		RunID:        runID,
		Source:       r.opts.Source,
		SnapshotPath: r.opts.Store.Path(),
		StartedAt:    r.opts.Clock.Now(),
	}
	logger.Info("sync started", zap.String("start_url", r.opts.StartURL))

	prior := r.opts.Store.Load(ctx)
	priorIdx := prior.Index()

	result, err := r.opts.Crawler.Crawl(ctx, r.opts.StartURL)
	if err != nil {
		return r.abort(span, summary, fmt.Errorf("crawl: %w", err))
	}
	summary.PagesVisited = result.PagesVisited
	summary.PagesFailed = result.PagesFailed
	summary.Found = len(result.Documents)
	if result.PagesVisited == 0 {
		return r.abort(span, summary, ErrNothingCrawled)
	}
	if len(result.Documents) == 0 && !prior.Empty() {
		return r.abort(span, summary, ErrNoDocuments)
	}
	logger.Info("crawl finished",
		zap.Int("pages_visited", result.PagesVisited),
		zap.Int("pages_failed", result.PagesFailed),
		zap.Int("documents", len(result.Documents)),
	)

	// Pinned paths of keys still on the site are reserved before any new
	// document picks a filename.
	paths := identity.NewPathSet()
	for _, doc := range result.Documents {
		if p, ok := priorIdx[doc.EntryKey]; ok && p.LocalPath != "" {
			paths.Claim(p.LocalPath)
		}
	}

	entries := make([]crawler.Entry, 0, len(result.Documents))
	processed := make(map[string]struct{}, len(result.Documents))
	for _, doc := range result.Documents {
		if err := ctx.Err(); err != nil {
			return r.abort(span, summary, fmt.Errorf("sync interrupted: %w", err))
		}
		entry, action, err := r.syncDocument(ctx, logger, doc, priorIdx, paths)
		if err != nil {
			summary.Failures = append(summary.Failures, Failure{EntryKey: doc.EntryKey, URL: doc.URL, Title: doc.Title, Err: err})
			metrics.ObserveDocument("failed")
			continue
		}
		switch action {
		case planner.ActionNew:
			summary.New++
		case planner.ActionUpdate:
			summary.Updated++
		default:
			summary.Unchanged++
		}
		metrics.ObserveDocument(string(action))
		entries = append(entries, entry)
		processed[entry.EntryKey] = struct{}{}
	}
	if err := ctx.Err(); err != nil {
		return r.abort(span, summary, fmt.Errorf("sync interrupted: %w", err))
	}

	live := identity.NewPathSet()
	for _, e := range entries {
		live.Claim(e.LocalPath)
	}
	summary.Removals = planner.RemovalPass(ctx, planner.RemovalInput{
		Prior:     priorIdx,
		Processed: processed,
		Expected:  result.Expected,
		LivePaths: live,
	}, r.opts.Files, logger)

	crawler.SortEntries(entries)
	snap := crawler.Snapshot{
		UpdatedAt:     r.opts.Clock.Now(),
		Source:        r.opts.Source,
		DocumentCount: len(entries),
		Categories:    CategoryList(entries),
		Documents:     entries,
	}
	if err := r.opts.Store.Save(ctx, snap); err != nil {
		return r.abort(span, summary, fmt.Errorf("save snapshot: %w", err))
	}

	byKey := make(map[string]crawler.SourceDocument, len(result.Documents))
	for _, doc := range result.Documents {
		byKey[doc.EntryKey] = doc
	}
	for _, key := range Coverage(result.ExpectedKeys, snap) {
		doc := byKey[key]
		summary.Missing = append(summary.Missing, MissingEntry{EntryKey: key, URL: doc.URL, Title: doc.Title})
	}
	summary.Documents = len(entries)
	summary.Categories = CountCategories(entries)
	summary.FinishedAt = r.opts.Clock.Now()
	metrics.ObserveRun(summary.FinishedAt, summary.OK(), summary.Documents)

	logger.Info("sync finished",
		zap.Int("documents", summary.Documents),
		zap.Int("new", summary.New),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed", len(summary.Failures)),
		zap.Int("removed", summary.Removed()),
		zap.Int("missing", len(summary.Missing)),
		zap.Duration("duration", summary.Duration()),
	)
	for _, m := range summary.Missing {
		logger.Warn("expected document missing from snapshot", zap.String("entry_key", m.EntryKey), zap.String("url", m.URL))
	}

	r.deliver(ctx, logger, Outcome{Summary: summary, Snapshot: snap})

	span.SetAttributes(attribute.Int("documents", summary.Documents), attribute.Bool("ok", summary.OK()))
	if err := summary.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	return summary, nil
}

func (r *Runner) syncDocument(
	ctx context.Context,
	logger *zap.Logger,
	doc crawler.SourceDocument,
	priorIdx map[string]crawler.Entry,
	paths *identity.PathSet,
) (crawler.Entry, planner.Action, error) {
	var prior *crawler.Entry
	if p, ok := priorIdx[doc.EntryKey]; ok {
		prior = &p
	}
	fields := []zap.Field{zap.String("entry_key", doc.EntryKey), zap.String("url", doc.URL), zap.String("title", doc.Title)}

	ctx, span := tracer.Start(ctx, "docmirror.document", trace.WithAttributes(
		attribute.String("entry_key", doc.EntryKey),
		attribute.String("url", doc.URL),
	))
	defer span.End()

	d := r.opts.Planner.Decide(ctx, doc, prior)
	span.SetAttributes(attribute.String("action", string(d.Action)))
	entry, err := r.opts.Planner.Apply(ctx, doc, prior, d, paths)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("document FAILED", append(fields, zap.String("action", string(d.Action)), zap.Error(err))...)
		return crawler.Entry{}, d.Action, err
	}
	switch d.Action {
	case planner.ActionNew:
		logger.Info("document NEW", append(fields, zap.String("local_path", entry.LocalPath))...)
	case planner.ActionUpdate:
		logger.Info("document UPDATED", append(fields, zap.Strings("reasons", d.Reasons))...)
	default:
		logger.Debug("document UNCHANGED", fields...)
	}
	return entry, d.Action, nil
}

func (r *Runner) deliver(ctx context.Context, logger *zap.Logger, out Outcome) {
	for _, sink := range r.opts.Sinks {
		if err := sink.Deliver(ctx, out); err != nil {
			logger.Error("sink failed", zap.String("sink", sink.Name()), zap.Error(err))
			continue
		}
		logger.Debug("sink delivered", zap.String("sink", sink.Name()))
	}
}

func (r *Runner) abort(span trace.Span, summary Summary, err error) (Summary, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	summary.FinishedAt = r.opts.Clock.Now()
	metrics.ObserveRun(summary.FinishedAt, false, -1)
	r.logger.Error("sync aborted; previous snapshot left untouched", zap.String("run_id", summary.RunID), zap.Error(err))
	return summary, err
}

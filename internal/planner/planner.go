// Package planner decides, per document, whether the local copy must be
// fetched, executes that decision, and removes entries that disappeared from
// the site.
package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/identity"
	"github.com/JakeFAU/docmirror/internal/metrics"
	"go.uber.org/zap"
)

// Action classifies a document against prior state.
type Action string

// Actions returned by Decide.
const (
	ActionNew       Action = "new"
	ActionUpdate    Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Reasons recorded for ActionUpdate.
const (
	ReasonDescription   = "description"
	ReasonTitle         = "title"
	ReasonCategoryTop   = "category_top"
	ReasonCategorySub   = "category_sub"
	ReasonContentLength = "content_length"
	ReasonLastModified  = "last_modified"
	ReasonETag          = "etag"
	ReasonMissingFile   = "missing_file"
)

// Decision is the outcome of comparing a document with its prior entry.
type Decision struct {
	Action  Action
	Reasons []string
	// Probe holds the validators reported by the remote server. It is empty
	// for new documents and when the probe failed.
	Probe crawler.Validators
}

// NeedsFetch reports whether the document must be downloaded.
func (d Decision) NeedsFetch() bool {
	return d.Action != ActionUnchanged
}

// Options wires the collaborators of a Planner.
type Options struct {
	Prober     crawler.Prober
	Downloader crawler.Downloader
	Files      crawler.DocumentStore
	Hasher     crawler.Hasher
	Clock      crawler.Clock
	Limiter    crawler.Limiter
	Robots     crawler.RobotsPolicy
	Retry      crawler.RetryPolicy
	Logger     *zap.Logger
}

// Planner decides and executes the sync of single documents.
type Planner struct {
	prober     crawler.Prober
	downloader crawler.Downloader
	files      crawler.DocumentStore
	hasher     crawler.Hasher
	clock      crawler.Clock
	limiter    crawler.Limiter
	robots     crawler.RobotsPolicy
	retry      crawler.RetryPolicy
	logger     *zap.Logger
}

// New validates opts and builds a Planner.
func New(opts Options) (*Planner, error) {
	switch {
	case opts.Prober == nil:
		return nil, errors.New("planner: prober is required")
	case opts.Downloader == nil:
		return nil, errors.New("planner: downloader is required")
	case opts.Files == nil:
		return nil, errors.New("planner: document store is required")
	case opts.Hasher == nil:
		return nil, errors.New("planner: hasher is required")
	case opts.Clock == nil:
		return nil, errors.New("planner: clock is required")
	}
	p := &Planner{
		prober:     opts.Prober,
		downloader: opts.Downloader,
		files:      opts.Files,
		hasher:     opts.Hasher,
		clock:      opts.Clock,
		limiter:    opts.Limiter,
		robots:     opts.Robots,
		retry:      opts.Retry,
		logger:     opts.Logger,
	}
	if p.limiter == nil {
		p.limiter = noopLimiter{}
	}
	if p.robots == nil {
		p.robots = crawler.AllowAll()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("planner")
	return p, nil
}

// Decide classifies doc against prior, which is nil when the key is unknown.
// A failed probe counts as "no validator data" and never forces a fetch.
func (p *Planner) Decide(ctx context.Context, doc crawler.SourceDocument, prior *crawler.Entry) Decision {
	if prior == nil {
		return Decision{Action: ActionNew}
	}

	var reasons []string
	changed := func(reason, before, after string) {
		if before != after {
			reasons = append(reasons, reason)
		}
	}
	changed(ReasonDescription, prior.Description, doc.Description)
	changed(ReasonTitle, prior.Title, doc.Title)
	changed(ReasonCategoryTop, prior.CategoryTop, doc.CategoryTop)
	changed(ReasonCategorySub, prior.CategorySub, doc.CategorySub)

	probe := p.probe(ctx, doc.URL)
	probed := func(reason, stored, remote string) {
		if remote != "" && remote != stored {
			reasons = append(reasons, reason)
		}
	}
	probed(ReasonContentLength, prior.ContentLength, probe.ContentLength)
	probed(ReasonLastModified, prior.LastModified, probe.LastModified)
	probed(ReasonETag, prior.ETag, probe.ETag)

	if !p.fileExists(ctx, prior.LocalPath) {
		reasons = append(reasons, ReasonMissingFile)
	}

	if len(reasons) == 0 {
		return Decision{Action: ActionUnchanged, Probe: probe}
	}
	return Decision{Action: ActionUpdate, Reasons: reasons, Probe: probe}
}

func (p *Planner) probe(ctx context.Context, rawURL string) crawler.Validators {
	if err := p.limiter.Wait(ctx, rawURL); err != nil {
		p.logger.Debug("probe skipped", zap.String("url", rawURL), zap.Error(err))
		return crawler.Validators{}
	}
	v, err := p.prober.Probe(ctx, rawURL)
	if err != nil {
		p.logger.Debug("probe failed; treating as no validator data", zap.String("url", rawURL), zap.Error(err))
		return crawler.Validators{}
	}
	return v
}

func (p *Planner) fileExists(ctx context.Context, relPath string) bool {
	if relPath == "" {
		return false
	}
	ok, err := p.files.Exists(ctx, relPath)
	if err != nil {
		p.logger.Warn("stat local file failed", zap.String("local_path", relPath), zap.Error(err))
		return false
	}
	return ok
}

// Apply executes d and returns the entry to persist. The local path of a
// known entry is never changed; new entries claim a fresh path from paths.
// A failed fetch returns an error and no entry.
func (p *Planner) Apply(
	ctx context.Context,
	doc crawler.SourceDocument,
	prior *crawler.Entry,
	d Decision,
	paths *identity.PathSet,
) (crawler.Entry, error) {
	if paths == nil {
		paths = identity.NewPathSet()
	}
	now := p.clock.Now()
	entry := crawler.Entry{
		EntryKey:    doc.EntryKey,
		URL:         doc.URL,
		Title:       doc.Title,
		Description: doc.Description,
		CategoryTop: doc.CategoryTop,
		CategorySub: doc.CategorySub,
		Category:    identity.CategoryPath(doc.CategoryTop, doc.CategorySub),
		LastSeen:    now,
	}

	if prior != nil && prior.LocalPath != "" {
		entry.LocalPath = prior.LocalPath
		entry.Filename = prior.Filename
		if entry.Filename == "" {
			entry.Filename = path.Base(prior.LocalPath)
		}
		entry.DownloadedAt = prior.DownloadedAt
		entry.SHA256 = prior.SHA256
		entry.DescriptionUpdatedAt = prior.DescriptionUpdatedAt
		paths.Claim(entry.LocalPath)
	} else {
		entry.LocalPath, entry.Filename = identity.BuildLocalPath(doc.URL, doc.Title, doc.CategoryTop, doc.CategorySub, paths)
		if prior != nil {
			entry.DownloadedAt = prior.DownloadedAt
			entry.SHA256 = prior.SHA256
			entry.DescriptionUpdatedAt = prior.DescriptionUpdatedAt
		}
	}

	switch {
	case prior == nil && doc.Description != "":
		entry.DescriptionUpdatedAt = timePtr(now)
	case prior != nil && prior.Description != doc.Description:
		entry.DescriptionUpdatedAt = timePtr(now)
	}

	if !d.NeedsFetch() && prior != nil {
		entry.SetValidators(d.Probe.Merge(prior.Validators()))
		return entry, nil
	}

	got, err := p.fetch(ctx, doc.URL, entry.LocalPath)
	if err != nil {
		return crawler.Entry{}, fmt.Errorf("fetch %s: %w", doc.URL, err)
	}
	metrics.ObserveDownloadBytes(got.size)
	entry.SetValidators(got.validators.Merge(d.Probe))
	entry.SHA256 = got.sha256
	entry.DownloadedAt = now
	return entry, nil
}

type fetched struct {
	validators crawler.Validators
	sha256     string
	size       int64
}

func (p *Planner) fetch(ctx context.Context, rawURL, relPath string) (fetched, error) {
	if !p.robots.Allowed(ctx, rawURL) {
		return fetched{}, crawler.ErrDisallowed
	}
	return crawler.Retry(ctx, p.retry, func(ctx context.Context) (fetched, error) {
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			return fetched{}, err
		}
		dl, err := p.downloader.Download(ctx, rawURL)
		if err != nil {
			return fetched{}, err
		}
		defer func() {
			if cerr := dl.Body.Close(); cerr != nil {
				p.logger.Debug("Failed to close download body", zap.String("url", rawURL), zap.Error(cerr))
			}
		}()
		digest := p.hasher.NewDigest()
		n, err := p.files.Put(ctx, relPath, io.TeeReader(dl.Body, digest))
		if err != nil {
			return fetched{}, fmt.Errorf("store %s: %w", relPath, err)
		}
		return fetched{validators: dl.Validators, sha256: digest.Sum(), size: n}, nil
	})
}

func timePtr(t time.Time) *time.Time {
	return &t
}

type noopLimiter struct{}

func (noopLimiter) Wait(context.Context, string) error { return nil }

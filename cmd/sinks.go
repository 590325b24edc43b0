package cmd

import (
	"context"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/app"
	"github.com/JakeFAU/docmirror/internal/config"
	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/metrics"
	pubsubpublisher "github.com/JakeFAU/docmirror/internal/publisher/pubsub"
	"github.com/JakeFAU/docmirror/internal/report"
	"github.com/JakeFAU/docmirror/internal/storage/gcs"
	"github.com/JakeFAU/docmirror/internal/storage/gitlog"
	"github.com/JakeFAU/docmirror/internal/storage/postgres"
)

// syncCompletedEvent is the Pub/Sub event name of a finished run.
const syncCompletedEvent = "docmirror.sync.completed"

// buildSinks connects every configured sink. A sink that cannot be set up is
// logged and left out; the sync itself still runs.
func buildSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]app.Sink, []closer) {
	var (
		sinks   []app.Sink
		closers []closer
	)
	reportPath := cfg.ReportPath()
	if reportPath != "" {
		sinks = append(sinks, report.FileSink(reportPath))
	}

	if cfg.Git.Commit {
		journal, err := gitlog.Open(gitlog.Config{
			Root:        cfg.Storage.DataDir,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
		}, logger)
		if err != nil {
			logger.Error("git journal disabled", zap.Error(err))
		} else {
			paths := []string{cfg.MetadataPath()}
			if reportPath != "" {
				paths = append(paths, reportPath)
			}
			sinks = append(sinks, journalSink(journal, paths...))
		}
	}

	if cfg.Storage.GCSBucket != "" {
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			logger.Error("gcs archive disabled", zap.Error(err))
		} else {
			closers = append(closers, closer{name: "gcs", fn: client.Close})
			writer, err := gcs.NewBucketWriter(client, cfg.Storage.GCSBucket)
			var archive *gcs.Archive
			if err == nil {
				archive, err = gcs.New(writer, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.GCSPrefix}, logger)
			}
			if err != nil {
				logger.Error("gcs archive disabled", zap.Error(err))
			} else {
				sinks = append(sinks, archiveSink(archive, archiveFiles(cfg)...))
			}
		}
	}

	if cfg.Database.DSN != "" {
		runs, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      cfg.Database.DSN,
			Table:    cfg.Database.Table,
			MaxConns: cfg.Database.MaxConns,
		})
		if err == nil {
			if err = runs.EnsureSchema(ctx); err != nil {
				runs.Close()
			}
		}
		if err != nil {
			logger.Error("run history disabled", zap.Error(err))
		} else {
			closers = append(closers, closer{name: "postgres", fn: func() error { runs.Close(); return nil }})
			sinks = append(sinks, historySink(runs))
		}
	}

	if cfg.PubSub.ProjectID != "" {
		pub, closeFn, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Error("pubsub notifications disabled", zap.Error(err))
		} else {
			closers = append(closers, closer{name: "pubsub", fn: closeFn})
			sinks = append(sinks, notifySink(pub))
		}
	}

	if cfg.Metrics.PushgatewayURL != "" {
		sinks = append(sinks, pushSink(cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logger.Debug("sinks configured", zap.Strings("sinks", names))
	return sinks, closers
}

func archiveFiles(cfg config.Config) []gcs.File {
	files := []gcs.File{{Name: "metadata.json", Path: cfg.MetadataPath(), ContentType: "application/json"}}
	if p := cfg.ReportPath(); p != "" {
		files = append(files, gcs.File{Name: "report.md", Path: p, ContentType: "text/markdown; charset=utf-8"})
	}
	return files
}

type committer interface {
	Commit(ctx context.Context, message string, paths ...string) (string, bool, error)
}

func journalSink(j committer, paths ...string) app.Sink {
	return app.SinkFunc("git", func(ctx context.Context, out app.Outcome) error {
		s := out.Summary
		msg := fmt.Sprintf("sync %s: %d documents (%d new, %d updated, %d removed)",
			s.RunID, s.Documents, s.New, s.Updated, s.Removed())
		hash, committed, err := j.Commit(ctx, msg, paths...)
		if err != nil {
			return err
		}
		if committed {
			zap.L().Info("snapshot committed", zap.String("commit", hash))
		}
		return nil
	})
}

type archiver interface {
	Store(ctx context.Context, runID string, files ...gcs.File) ([]string, error)
}

func archiveSink(a archiver, files ...gcs.File) app.Sink {
	return app.SinkFunc("gcs", func(ctx context.Context, out app.Outcome) error {
		_, err := a.Store(ctx, out.Summary.RunID, files...)
		return err
	})
}

type runRecorder interface {
	RecordRun(ctx context.Context, rec postgres.RunRecord) error
}

func historySink(r runRecorder) app.Sink {
	return app.SinkFunc("postgres", func(ctx context.Context, out app.Outcome) error {
		s := out.Summary
		return r.RecordRun(ctx, postgres.RunRecord{
			RunID:      s.RunID,
			Source:     s.Source,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
			Documents:  s.Documents,
			New:        s.New,
			Updated:    s.Updated,
			Unchanged:  s.Unchanged,
			Failed:     len(s.Failures),
			Removed:    s.Removed(),
			Missing:    len(s.Missing),
			OK:         s.OK(),
		})
	})
}

// runEvent is the JSON payload published after a run.
type runEvent struct {
	RunID      string              `json:"run_id"`
	Source     string              `json:"source"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	OK         bool                `json:"ok"`
	Documents  int                 `json:"documents"`
	New        int                 `json:"new"`
	Updated    int                 `json:"updated"`
	Unchanged  int                 `json:"unchanged"`
	Failed     int                 `json:"failed"`
	Removed    int                 `json:"removed"`
	Missing    []string            `json:"missing,omitempty"`
	Categories []app.CategoryCount `json:"categories"`
}

func newRunEvent(s app.Summary) runEvent {
	ev := runEvent{
		RunID:      s.RunID,
		Source:     s.Source,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		OK:         s.OK(),
		Documents:  s.Documents,
		New:        s.New,
		Updated:    s.Updated,
		Unchanged:  s.Unchanged,
		Failed:     len(s.Failures),
		Removed:    s.Removed(),
		Categories: s.Categories,
	}
	for _, m := range s.Missing {
		ev.Missing = append(ev.Missing, m.EntryKey)
	}
	return ev
}

func notifySink(pub crawler.Publisher) app.Sink {
	return app.SinkFunc("pubsub", func(ctx context.Context, out app.Outcome) error {
		_, err := pub.Publish(ctx, syncCompletedEvent, newRunEvent(out.Summary))
		return err
	})
}

func pushSink(gatewayURL, job string) app.Sink {
	return app.SinkFunc("pushgateway", func(ctx context.Context, out app.Outcome) error {
		return metrics.Push(ctx, gatewayURL, job, metrics.SanitizeSite(out.Summary.Source))
	})
}

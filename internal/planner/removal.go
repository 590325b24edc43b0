package planner

import (
	"context"
	"sort"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/identity"
	"github.com/JakeFAU/docmirror/internal/metrics"
	"go.uber.org/zap"
)

// RemovalOutcome describes what happened to an entry absent from the new snapshot.
type RemovalOutcome string

// Removal outcomes.
const (
	// RemovalDeleted means the entry vanished from the site and its file was deleted.
	RemovalDeleted RemovalOutcome = "deleted"
	// RemovalShared means the file was kept because a live entry owns the path.
	RemovalShared RemovalOutcome = "shared"
	// RemovalRetained means the key is still on the site but failed this run.
	RemovalRetained RemovalOutcome = "retained"
	// RemovalError means deleting the file failed.
	RemovalError RemovalOutcome = "error"
)

// Removal is one prior entry dropped from the new snapshot.
type Removal struct {
	EntryKey  string
	Title     string
	LocalPath string
	Outcome   RemovalOutcome
	Err       error
}

// RemovalInput is the state the removal pass reconciles.
type RemovalInput struct {
	// Prior is the previous snapshot's entries by key.
	Prior map[string]crawler.Entry
	// Processed holds the keys persisted by the current run.
	Processed map[string]struct{}
	// Expected reports whether the crawl observed a key.
	Expected func(key string) bool
	// LivePaths holds the local paths of every persisted entry.
	LivePaths *identity.PathSet
}

// RemovalPass drops every prior entry that was not processed this run. Files
// of keys that vanished from the site are deleted unless a live entry owns
// the same path. Keys still on the site keep their file so the next run can
// retry. Deletion errors are logged and reported, never returned.
func RemovalPass(ctx context.Context, in RemovalInput, files crawler.DocumentStore, logger *zap.Logger) []Removal {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("removal")

	keys := make([]string, 0, len(in.Prior))
	for key := range in.Prior {
		if _, ok := in.Processed[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]Removal, 0, len(keys))
	for _, key := range keys {
		entry := in.Prior[key]
		r := Removal{EntryKey: key, Title: entry.Title, LocalPath: entry.LocalPath}
		switch {
		case in.Expected != nil && in.Expected(key):
			r.Outcome = RemovalRetained
			logger.Warn("entry not refreshed this run; keeping file", zap.String("entry_key", key), zap.String("local_path", entry.LocalPath))
		case entry.LocalPath == "" || (in.LivePaths != nil && in.LivePaths.Has(entry.LocalPath)):
			r.Outcome = RemovalShared
			logger.Info("entry removed; file owned by a live entry", zap.String("entry_key", key), zap.String("local_path", entry.LocalPath))
		default:
			if err := files.Remove(ctx, entry.LocalPath); err != nil {
				r.Outcome = RemovalError
				r.Err = err
				logger.Error("delete removed document failed", zap.String("entry_key", key), zap.String("local_path", entry.LocalPath), zap.Error(err))
			} else {
				r.Outcome = RemovalDeleted
				logger.Info("entry removed", zap.String("entry_key", key), zap.String("title", entry.Title), zap.String("local_path", entry.LocalPath))
			}
		}
		metrics.ObserveRemoval(string(r.Outcome))
		out = append(out, r)
	}
	return out
}

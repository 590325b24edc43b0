// Package store persists the metadata snapshot: one JSON document holding
// every known entry, read once at the start of a run and replaced atomically
// at the end.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/storage/local"
	"go.uber.org/zap"
)

// ErrSnapshotWrite wraps every failure to persist a snapshot.
var ErrSnapshotWrite = errors.New("write snapshot")

// Store reads and writes the snapshot file.
type Store struct {
	path   string
	logger *zap.Logger
}

// New returns a Store for the snapshot at path.
func New(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("snapshot path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger.Named("store")}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Read parses the snapshot strictly. A missing file returns fs.ErrNotExist.
func (s *Store) Read(ctx context.Context) (crawler.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Snapshot{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap crawler.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return crawler.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	kept := snap.Documents[:0]
	for _, entry := range snap.Documents {
		if strings.TrimSpace(entry.EntryKey) == "" {
			continue
		}
		kept = append(kept, entry)
	}
	if dropped := len(snap.Documents) - len(kept); dropped > 0 {
		s.logger.Warn("snapshot entries without entry_key ignored", zap.Int("dropped", dropped))
	}
	snap.Documents = kept
	return snap, nil
}

// Load returns the prior snapshot. A missing or unreadable file yields an
// empty snapshot, so a corrupt file only costs a full re-download.
func (s *Store) Load(ctx context.Context) crawler.Snapshot {
	snap, err := s.Read(ctx)
	switch {
	case err == nil:
		s.logger.Info("snapshot loaded", zap.String("path", s.path), zap.Int("documents", len(snap.Documents)))
		return snap
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("no snapshot found; starting with empty history", zap.String("path", s.path))
	default:
		s.logger.Warn("snapshot unreadable; starting with empty history", zap.String("path", s.path), zap.Error(err))
	}
	return crawler.Snapshot{}
}

// Save replaces the snapshot file atomically. Parent directories are created.
func (s *Store) Save(ctx context.Context, snap crawler.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotWrite, err)
	}
	if snap.Documents == nil {
		snap.Documents = []crawler.Entry{}
	}
	if snap.Categories == nil {
		snap.Categories = []string{}
	}
	snap.DocumentCount = len(snap.Documents)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSnapshotWrite, err)
	}
	if _, err := local.WriteFileAtomic(s.path, &buf, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotWrite, err)
	}
	s.logger.Info("snapshot saved", zap.String("path", s.path), zap.Int("documents", snap.DocumentCount))
	return nil
}

// Package local implements the on-disk document tree of the mirror.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/docmirror/internal/crawler"
)

// Config captures the parameters for the local document tree.
type Config struct {
	// BaseDir is the directory local paths are relative to.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// DocumentStore writes documents below BaseDir. Every write lands in a
// temporary file first and replaces the target in one rename.
type DocumentStore struct {
	baseDir string
}

var _ crawler.DocumentStore = (*DocumentStore)(nil)

// New creates the base directory if needed and checks it is writable.
func New(cfg Config) (*DocumentStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &DocumentStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// BaseDir returns the root of the tree.
func (s *DocumentStore) BaseDir() string {
	return s.baseDir
}

// Put streams r into relPath and returns the number of bytes written.
// A failed write leaves any previous file untouched.
func (s *DocumentStore) Put(ctx context.Context, relPath string, r io.Reader) (int64, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("put %s: %w", relPath, err)
	}
	n, err := WriteFileAtomic(full, r, 0o644)
	if err != nil {
		return n, fmt.Errorf("put %s: %w", relPath, err)
	}
	return n, nil
}

// Remove deletes relPath and prunes directories left empty below BaseDir.
// A file that is already gone is not an error.
func (s *DocumentStore) Remove(_ context.Context, relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", relPath, err)
	}
	s.pruneEmptyDirs(filepath.Dir(full))
	return nil
}

// Exists reports whether relPath is a regular file.
func (s *DocumentStore) Exists(_ context.Context, relPath string) (bool, error) {
	info, err := s.Stat(relPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Stat returns file info for relPath.
func (s *DocumentStore) Stat(relPath string) (fs.FileInfo, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", relPath, err)
	}
	return info, nil
}

// Open opens relPath for reading.
func (s *DocumentStore) Open(relPath string) (*os.File, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full) // #nosec G304 -- path is confined to baseDir by resolve
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", relPath, err)
	}
	return f, nil
}

// resolve maps a slash-separated relative path into baseDir, rejecting
// anything that would escape it.
func (s *DocumentStore) resolve(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(relPath) || strings.HasPrefix(relPath, "/") {
		return "", fmt.Errorf("path %q must be relative", relPath)
	}
	full := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(relPath)))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q", relPath)
	}
	return full, nil
}

func (s *DocumentStore) pruneEmptyDirs(dir string) {
	for dir != s.baseDir && strings.HasPrefix(dir, s.baseDir+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

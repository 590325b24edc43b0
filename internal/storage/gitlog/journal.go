// Package gitlog versions the snapshot and report in a git repository, one
// commit per run that changed them.
package gitlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// Config identifies the repository and the commit author.
type Config struct {
	// Root is the worktree directory. A repository is initialised there when
	// none exists.
	Root        string
	AuthorName  string
	AuthorEmail string
}

// Journal commits files under Root.
type Journal struct {
	repo   *git.Repository
	root   string
	name   string
	email  string
	logger *zap.Logger
}

// Open opens or initialises the repository at cfg.Root.
func Open(cfg Config, logger *zap.Logger) (*Journal, error) {
	if cfg.Root == "" {
		return nil, errors.New("repository root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("gitlog")
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve repository root: %w", err)
	}
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		logger.Info("initialising snapshot repository", zap.String("root", root))
		repo, err = git.PlainInit(root, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	j := &Journal{
		repo:   repo,
		root:   root,
		name:   cfg.AuthorName,
		email:  cfg.AuthorEmail,
		logger: logger,
	}
	if j.name == "" {
		j.name = "docmirror"
	}
	if j.email == "" {
		j.email = "docmirror@localhost"
	}
	return j, nil
}

// Commit stages paths (absolute, or relative to the working directory) and
// commits them.
// When nothing changed it returns an empty hash and false.
func (j *Journal) Commit(ctx context.Context, message string, paths ...string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	w, err := j.repo.Worktree()
	if err != nil {
		return "", false, fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, p := range paths {
		rel, err := j.relative(p)
		if err != nil {
			return "", false, err
		}
		if _, err := w.Add(rel); err != nil {
			return "", false, fmt.Errorf("failed to add %s: %w", rel, err)
		}
	}
	status, err := w.Status()
	if err != nil {
		return "", false, fmt.Errorf("failed to read status: %w", err)
	}
	if !hasStaged(status) {
		j.logger.Debug("snapshot unchanged; nothing to commit")
		return "", false, nil
	}
	hash, err := w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  j.name,
			Email: j.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to commit: %w", err)
	}
	j.logger.Info("snapshot committed", zap.String("commit", hash.String()))
	return hash.String(), true, nil
}

func (j *Journal) relative(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	rel, err := filepath.Rel(j.root, abs)
	if err != nil {
		return "", fmt.Errorf("path %s outside repository: %w", p, err)
	}
	if rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("path %s outside repository %s", p, j.root)
	}
	return filepath.ToSlash(rel), nil
}

func hasStaged(status git.Status) bool {
	for _, fs := range status {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			return true
		}
	}
	return false
}

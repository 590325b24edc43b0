// Package server exposes a read-only HTTP view of the mirror: the snapshot,
// its categories and the downloaded files.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/identity"
	"github.com/JakeFAU/docmirror/internal/metrics"
)

// SnapshotReader reads the current snapshot.
type SnapshotReader interface {
	Read(ctx context.Context) (crawler.Snapshot, error)
}

// Options wires a Server.
type Options struct {
	Snapshots SnapshotReader
	// DataDir is the directory local paths are relative to.
	DataDir        string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the snapshot and the document tree.
type Server struct {
	router    chi.Router
	snapshots SnapshotReader
	logger    *zap.Logger
}

// New constructs a Server with middleware and routes.
func New(opts Options) (*Server, error) {
	if opts.Snapshots == nil {
		return nil, errors.New("server: snapshot reader is required")
	}
	if opts.DataDir == "" {
		return nil, errors.New("server: data dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{snapshots: opts.Snapshots, logger: logger.Named("server")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		r.Route("/api", func(r chi.Router) {
			r.Get("/documents", s.listDocuments)
			r.Get("/documents/{entry_key}", s.getDocument)
			r.Get("/categories", s.listCategories)
		})
		r.Handle("/data/*", http.StripPrefix("/data/", documentFiles(opts.DataDir)))
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once a snapshot has been written.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.snapshots.Read(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type documentsResponse struct {
	UpdatedAt     time.Time       `json:"updated_at"`
	Source        string          `json:"source"`
	DocumentCount int             `json:"document_count"`
	Documents     []crawler.Entry `json:"documents"`
}

// listDocuments serves the snapshot, optionally filtered by ?q= (substring
// of title, description, filename or category) and ?category= (a category
// or any of its sub categories).
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	category := strings.Trim(strings.TrimSpace(r.URL.Query().Get("category")), "/")

	docs := make([]crawler.Entry, 0, len(snap.Documents))
	for _, e := range snap.Documents {
		if category != "" && e.Category != category && !strings.HasPrefix(e.Category, category+"/") {
			continue
		}
		if q != "" && !matches(e, q) {
			continue
		}
		docs = append(docs, e)
	}
	writeJSON(w, http.StatusOK, documentsResponse{
		UpdatedAt:     snap.UpdatedAt,
		Source:        snap.Source,
		DocumentCount: len(docs),
		Documents:     docs,
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "entry_key")
	entry, found := snap.Index()[key]
	if !found {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// CategoryNode is one top category with its sub categories.
type CategoryNode struct {
	Name          string         `json:"name"`
	Count         int            `json:"count"`
	Subcategories []CategoryNode `json:"subcategories,omitempty"`
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": CategoryTree(snap.Documents),
		"total":      len(snap.Documents),
	})
}

// CategoryTree groups entries by top category, then by sub category. Both
// levels are sorted by name. Entries without a sub category count towards
// their top only.
func CategoryTree(entries []crawler.Entry) []CategoryNode {
	tops := make(map[string]*CategoryNode)
	subs := make(map[string]map[string]int)
	for _, e := range entries {
		top := e.CategoryTop
		node, ok := tops[top]
		if !ok {
			node = &CategoryNode{Name: top}
			tops[top] = node
			subs[top] = make(map[string]int)
		}
		node.Count++
		if e.CategorySub != "" {
			subs[top][e.CategorySub]++
		}
	}
	out := make([]CategoryNode, 0, len(tops))
	for name, node := range tops {
		for sub, n := range subs[name] {
			node.Subcategories = append(node.Subcategories, CategoryNode{Name: sub, Count: n})
		}
		sort.Slice(node.Subcategories, func(i, j int) bool {
			return node.Subcategories[i].Name < node.Subcategories[j].Name
		})
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (crawler.Snapshot, bool) {
	snap, err := s.snapshots.Read(r.Context())
	if err != nil {
		s.logger.Warn("read snapshot failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "snapshot not available")
		return crawler.Snapshot{}, false
	}
	return snap, true
}

func matches(e crawler.Entry, q string) bool {
	fold := cases.Fold()
	needle := fold.String(q)
	for _, field := range []string{e.Title, e.Description, e.Filename, e.Category} {
		if strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

// documentFiles serves files below the documents tree only.
func documentFiles(dataDir string) http.Handler {
	files := http.FileServer(http.Dir(dataDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean("/" + r.URL.Path)
		if !strings.HasPrefix(clean, "/"+identity.DocumentsDir+"/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		files.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package memory keeps mirrored documents in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/JakeFAU/docmirror/internal/crawler"
)

// DocumentStore stores document bytes keyed by relative path.
type DocumentStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ crawler.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates an empty in-memory store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{data: make(map[string][]byte)}
}

// Put reads r fully and stores a copy under relPath. A failed read leaves any
// previous content untouched.
func (s *DocumentStore) Put(_ context.Context, relPath string, r io.Reader) (int64, error) {
	byteData, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read data from reader: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[relPath] = append([]byte(nil), byteData...)
	return int64(len(byteData)), nil
}

// Remove deletes relPath. Unknown paths are not an error.
func (s *DocumentStore) Remove(_ context.Context, relPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, relPath)
	return nil
}

// Exists reports whether relPath holds content.
func (s *DocumentStore) Exists(_ context.Context, relPath string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[relPath]
	return ok, nil
}

// Get returns a copy of the content at relPath.
func (s *DocumentStore) Get(relPath string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[relPath]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Paths lists stored paths in sorted order.
func (s *DocumentStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

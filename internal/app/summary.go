package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/planner"
)

// ErrIncompleteRun is returned by Run when a download failed or the saved
// snapshot misses a key the crawl observed. The snapshot is still written.
var ErrIncompleteRun = errors.New("incomplete run")

// Failure is a document whose fetch failed this run.
type Failure struct {
	EntryKey string
	URL      string
	Title    string
	Err      error
}

// MissingEntry is a crawled key absent from the saved snapshot.
type MissingEntry struct {
	EntryKey string
	URL      string
	Title    string
}

// CategoryCount is the number of snapshot entries in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Summary describes one finished run.
type Summary struct {
	RunID        string
	Source       string
	SnapshotPath string
	StartedAt    time.Time
	FinishedAt   time.Time

	PagesVisited int
	PagesFailed  int
	Found        int

	New       int
	Updated   int
	Unchanged int
	Failures  []Failure
	Removals  []planner.Removal
	Missing   []MissingEntry

	Documents  int
	Categories []CategoryCount
}

// OK reports whether every document was persisted and coverage is complete.
func (s Summary) OK() bool {
	return len(s.Failures) == 0 && len(s.Missing) == 0
}

// Removed counts prior entries dropped because their key left the site.
func (s Summary) Removed() int {
	n := 0
	for _, r := range s.Removals {
		if r.Outcome != planner.RemovalRetained {
			n++
		}
	}
	return n
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Err returns nil for a complete run and an ErrIncompleteRun wrapper otherwise.
func (s Summary) Err() error {
	if s.OK() {
		return nil
	}
	var parts []string
	if n := len(s.Failures); n > 0 {
		parts = append(parts, fmt.Sprintf("%d download(s) failed", n))
	}
	if n := len(s.Missing); n > 0 {
		parts = append(parts, fmt.Sprintf("%d expected document(s) missing from snapshot", n))
	}
	return fmt.Errorf("%w: %s", ErrIncompleteRun, strings.Join(parts, ", "))
}

// Coverage returns the expected keys absent from snap, sorted.
func Coverage(expected map[string]struct{}, snap crawler.Snapshot) []string {
	present := make(map[string]struct{}, len(snap.Documents))
	for _, e := range snap.Documents {
		present[e.EntryKey] = struct{}{}
	}
	var missing []string
	for key := range expected {
		if _, ok := present[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// CountCategories tallies entries per combined category, sorted by name.
func CountCategories(entries []crawler.Entry) []CategoryCount {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Category]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// CategoryList returns every top category and combined category in entries,
// sorted and de-duplicated.
func CategoryList(entries []crawler.Entry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.CategoryTop != "" {
			seen[e.CategoryTop] = struct{}{}
		}
		if e.Category != "" {
			seen[e.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

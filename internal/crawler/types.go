package crawler

import (
	"io"
	"sort"
	"time"
)

// SourceDocument is one document link observed on a page during the current run.
type SourceDocument struct {
	EntryKey    string
	URL         string
	Title       string
	Description string
	CategoryTop string
	CategorySub string
}

// Page is a fetched HTML page.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// BaseURL returns the URL relative links on the page resolve against.
func (p Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// Extraction is the result of parsing one page.
type Extraction struct {
	Documents  []SourceDocument
	FollowURLs []string
}

// CrawlResult is the merged view of every page visited in one crawl.
type CrawlResult struct {
	Documents    []SourceDocument
	ExpectedKeys map[string]struct{}
	PagesVisited int
	PagesFailed  int
}

// Expected reports whether key was observed during the crawl.
func (r CrawlResult) Expected(key string) bool {
	_, ok := r.ExpectedKeys[key]
	return ok
}

// Validators are the HTTP cache validators reported for a remote file.
// Every field is optional.
type Validators struct {
	ContentLength string `json:"content_length"`
	LastModified  string `json:"last_modified"`
	ETag          string `json:"etag"`
	ContentType   string `json:"content_type"`
}

// Merge returns v with each empty field filled from fallback.
func (v Validators) Merge(fallback Validators) Validators {
	out := v
	if out.ContentLength == "" {
		out.ContentLength = fallback.ContentLength
	}
	if out.LastModified == "" {
		out.LastModified = fallback.LastModified
	}
	if out.ETag == "" {
		out.ETag = fallback.ETag
	}
	if out.ContentType == "" {
		out.ContentType = fallback.ContentType
	}
	return out
}

// Download is an open response body plus the validators sent with it.
// Callers must close Body.
type Download struct {
	Body       io.ReadCloser
	Validators Validators
}

// Entry is the persisted record for one entry key.
type Entry struct {
	EntryKey             string     `json:"entry_key"`
	URL                  string     `json:"url"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	CategoryTop          string     `json:"category_top"`
	CategorySub          string     `json:"category_sub"`
	Category             string     `json:"category"`
	Filename             string     `json:"filename"`
	LocalPath            string     `json:"local_path"`
	ContentLength        string     `json:"content_length"`
	LastModified         string     `json:"last_modified"`
	ETag                 string     `json:"etag"`
	ContentType          string     `json:"content_type"`
	DownloadedAt         time.Time  `json:"downloaded_at"`
	SHA256               string     `json:"sha256"`
	LastSeen             time.Time  `json:"last_seen"`
	DescriptionUpdatedAt *time.Time `json:"description_updated_at,omitempty"`
}

// Validators returns the stored cache validators of the entry.
func (e Entry) Validators() Validators {
	return Validators{
		ContentLength: e.ContentLength,
		LastModified:  e.LastModified,
		ETag:          e.ETag,
		ContentType:   e.ContentType,
	}
}

// SetValidators overwrites the stored cache validators.
func (e *Entry) SetValidators(v Validators) {
	e.ContentLength = v.ContentLength
	e.LastModified = v.LastModified
	e.ETag = v.ETag
	e.ContentType = v.ContentType
}

// Snapshot is the full persisted state at the end of a run.
type Snapshot struct {
	UpdatedAt     time.Time `json:"updated_at"`
	Source        string    `json:"source"`
	DocumentCount int       `json:"document_count"`
	Categories    []string  `json:"categories"`
	Documents     []Entry   `json:"documents"`
}

// Index maps entry keys to entries. Later duplicates win.
func (s Snapshot) Index() map[string]Entry {
	out := make(map[string]Entry, len(s.Documents))
	for _, entry := range s.Documents {
		out[entry.EntryKey] = entry
	}
	return out
}

// Empty reports whether the snapshot holds no documents.
func (s Snapshot) Empty() bool {
	return len(s.Documents) == 0
}

// SortEntries orders entries by entry key.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntryKey < entries[j].EntryKey
	})
}

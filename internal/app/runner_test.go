package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/hash/sha256"
	"github.com/JakeFAU/docmirror/internal/identity"
	"github.com/JakeFAU/docmirror/internal/planner"
	"github.com/JakeFAU/docmirror/internal/storage/memory"
	"github.com/JakeFAU/docmirror/internal/store"
)

const startURL = "https://uni.example.de/service/dokumente"

type stubCrawler struct {
	result crawler.CrawlResult
	err    error
	onCall func()
}

func (s *stubCrawler) Crawl(context.Context, string) (crawler.CrawlResult, error) {
	if s.onCall != nil {
		s.onCall()
	}
	return s.result, s.err
}

type remote struct {
	mu     sync.Mutex
	bodies map[string]string
	fail   map[string]error
	gets   int
}

func newRemote() *remote {
	return &remote{bodies: map[string]string{}, fail: map[string]error{}}
}

func (r *remote) Probe(_ context.Context, url string) (crawler.Validators, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	body, ok := r.bodies[url]
	if !ok {
		return crawler.Validators{}, errors.New("not found")
	}
	return crawler.Validators{ContentLength: strconv.Itoa(len(body))}, nil
}

func (r *remote) Download(_ context.Context, url string) (crawler.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if err := r.fail[url]; err != nil {
		return crawler.Download{}, err
	}
	body, ok := r.bodies[url]
	if !ok {
		return crawler.Download{}, &crawler.StatusError{URL: url, StatusCode: 404}
	}
	return crawler.Download{
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Validators: crawler.Validators{ContentLength: strconv.Itoa(len(body)), ContentType: "application/pdf"},
	}, nil
}

func (r *remote) downloads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type failingStore struct {
	*store.Store
}

func (failingStore) Save(context.Context, crawler.Snapshot) error {
	return store.ErrSnapshotWrite
}

type env struct {
	remote  *remote
	files   *memory.DocumentStore
	store   *store.Store
	crawler *stubCrawler
	clock   *steppingClock
	sinks   []Sink
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "metadata.json"), nil)
	require.NoError(t, err)
	return &env{
		remote:  newRemote(),
		files:   memory.NewDocumentStore(),
		store:   s,
		crawler: &stubCrawler{},
		clock:   &steppingClock{t: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)},
	}
}

func (e *env) runner(t *testing.T, snapshots SnapshotStore) *Runner {
	t.Helper()
	p, err := planner.New(planner.Options{
		Prober:     e.remote,
		Downloader: e.remote,
		Files:      e.files,
		Hasher:     sha256.New(),
		Clock:      e.clock,
	})
	require.NoError(t, err)
	if snapshots == nil {
		snapshots = e.store
	}
	r, err := NewRunner(Options{
		StartURL: startURL,
		Crawler:  e.crawler,
		Planner:  p,
		Files:    e.files,
		Store:    snapshots,
		Clock:    e.clock,
		IDs:      fixedIDs{id: "run-1"},
		Sinks:    e.sinks,
	})
	require.NoError(t, err)
	return r
}

// publish puts docs on the "site": the crawl sees them and the remote serves them.
func (e *env) publish(docs ...crawler.SourceDocument) {
	expected := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		expected[d.EntryKey] = struct{}{}
		if _, ok := e.remote.bodies[d.URL]; !ok {
			e.remote.bodies[d.URL] = "content of " + d.Title
		}
	}
	sorted := append([]crawler.SourceDocument(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntryKey < sorted[j].EntryKey })
	e.crawler.result = crawler.CrawlResult{Documents: sorted, ExpectedKeys: expected, PagesVisited: 1}
}

func sourceDoc(name, top, sub, desc string) crawler.SourceDocument {
	url := "https://uni.example.de/fileadmin/" + name + ".pdf"
	return crawler.SourceDocument{
		EntryKey:    identity.MakeEntryKey(url, name, top, sub),
		URL:         url,
		Title:       name,
		Description: desc,
		CategoryTop: top,
		CategorySub: sub,
	}
}

func docsA() (crawler.SourceDocument, crawler.SourceDocument, crawler.SourceDocument) {
	return sourceDoc("A", "Studium", "Prüfungen", "Ordnung"),
		sourceDoc("B", "Studium", "", ""),
		sourceDoc("C", "Verwaltung", "Formulare", "Antrag")
}

func TestRunFirstSyncDownloadsEverything(t *testing.T) {
	e := newEnv(t)
	a, b, c := docsA()
	e.publish(a, b, c)

	summary, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 3, summary.New)
	assert.Equal(t, 3, summary.Documents)
	assert.Equal(t, []CategoryCount{
		{Category: "Studium", Count: 1},
		{Category: "Studium/Prüfungen", Count: 1},
		{Category: "Verwaltung/Formulare", Count: 1},
	}, summary.Categories)

	snap, err := e.store.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Documents, 3)
	assert.Equal(t, startURL, snap.Source)
	assert.Equal(t, 3, snap.DocumentCount)
	assert.Equal(t, []string{"Studium", "Studium/Prüfungen", "Verwaltung", "Verwaltung/Formulare"}, snap.Categories)
	assert.Equal(t, "documents/Studium/Prüfungen/A.pdf", snap.Index()[a.EntryKey].LocalPath)
	assert.Equal(t, []string{
		"documents/Studium/B.pdf",
		"documents/Studium/Prüfungen/A.pdf",
		"documents/Verwaltung/Formulare/C.pdf",
	}, e.files.Paths())
}

func TestRunIsIdempotent(t *testing.T) {
	e := newEnv(t)
	a, b, c := docsA()
	e.publish(a, b, c)

	_, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	first, err := e.store.Read(context.Background())
	require.NoError(t, err)
	gets := e.remote.downloads()

	summary, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Unchanged)
	assert.Zero(t, summary.New+summary.Updated)
	assert.Equal(t, gets, e.remote.downloads(), "no downloads on an unchanged site")

	second, err := e.store.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Documents, len(first.Documents))
	for i := range first.Documents {
		before, after := first.Documents[i], second.Documents[i]
		assert.True(t, after.LastSeen.After(before.LastSeen))
		before.LastSeen, after.LastSeen = time.Time{}, time.Time{}
		assert.Equal(t, before, after)
	}
}

func TestRunRemovesVanishedEntries(t *testing.T) {
	e := newEnv(t)
	a, b, c := docsA()
	e.publish(a, b, c)
	_, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	bPath := e.store.Load(context.Background()).Index()[b.EntryKey].LocalPath

	e.publish(a, c)
	summary, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Removals, 1)
	assert.Equal(t, b.EntryKey, summary.Removals[0].EntryKey)
	assert.Equal(t, planner.RemovalDeleted, summary.Removals[0].Outcome)
	assert.Equal(t, 1, summary.Removed())

	snap := e.store.Load(context.Background())
	assert.Len(t, snap.Documents, 2)
	_, found := snap.Index()[b.EntryKey]
	assert.False(t, found)
	ok, err := e.files.Exists(context.Background(), bPath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunTitleChangeReusesPath(t *testing.T) {
	e := newEnv(t)
	a, _, _ := docsA()
	e.publish(a)
	_, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)

	renamed := a
	renamed.Title = "A (neu)"
	renamed.EntryKey = identity.MakeEntryKey(renamed.URL, renamed.Title, renamed.CategoryTop, renamed.CategorySub)
	e.publish(renamed)

	summary, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	require.Len(t, summary.Removals, 1)
	assert.Equal(t, planner.RemovalShared, summary.Removals[0].Outcome, "the new key took over the file")

	snap := e.store.Load(context.Background())
	require.Len(t, snap.Documents, 1)
	ok, err := e.files.Exists(context.Background(), snap.Documents[0].LocalPath)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunDownloadFailureIsReported(t *testing.T) {
	e := newEnv(t)
	a, b, c := docsA()
	e.publish(a, b, c)
	_, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	bPath := e.store.Load(context.Background()).Index()[b.EntryKey].LocalPath

	b.Description = "neue Beschreibung"
	e.publish(a, b, c)
	e.remote.fail[b.URL] = &crawler.StatusError{URL: b.URL, StatusCode: 500}

	summary, err := e.runner(t, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRun)
	assert.False(t, summary.OK())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, b.EntryKey, summary.Failures[0].EntryKey)
	require.Len(t, summary.Missing, 1)
	assert.Equal(t, b.URL, summary.Missing[0].URL)
	require.Len(t, summary.Removals, 1)
	assert.Equal(t, planner.RemovalRetained, summary.Removals[0].Outcome)

	snap := e.store.Load(context.Background())
	assert.Len(t, snap.Documents, 2, "snapshot is still written")
	ok, err := e.files.Exists(context.Background(), bPath)
	require.NoError(t, err)
	assert.True(t, ok, "failed document keeps its file")
}

func TestRunAbortsWhenNothingCrawled(t *testing.T) {
	e := newEnv(t)
	e.crawler.result = crawler.CrawlResult{PagesFailed: 1}

	_, err := e.runner(t, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrNothingCrawled)
	_, readErr := e.store.Read(context.Background())
	require.Error(t, readErr, "no snapshot written")
}

func TestRunKeepsMirrorWhenCrawlFindsNoDocuments(t *testing.T) {
	e := newEnv(t)
	a, b, c := docsA()
	e.publish(a, b, c)
	_, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	aPath := e.store.Load(context.Background()).Index()[a.EntryKey].LocalPath

	e.publish()
	_, err = e.runner(t, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrNoDocuments)

	snap := e.store.Load(context.Background())
	assert.Len(t, snap.Documents, 3)
	ok, err := e.files.Exists(context.Background(), aPath)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunEmptyCrawlOnEmptyMirror(t *testing.T) {
	e := newEnv(t)
	e.publish()

	summary, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Found)
	_, readErr := e.store.Read(context.Background())
	require.NoError(t, readErr)
}

func TestRunCrawlError(t *testing.T) {
	e := newEnv(t)
	e.crawler.err = errors.New("bad start url")
	_, err := e.runner(t, nil).Run(context.Background())
	require.ErrorContains(t, err, "bad start url")
}

func TestRunSaveFailureIsFatal(t *testing.T) {
	e := newEnv(t)
	a, _, _ := docsA()
	e.publish(a)
	called := false
	e.sinks = []Sink{SinkFunc("probe", func(context.Context, Outcome) error {
		called = true
		return nil
	})}

	_, err := e.runner(t, failingStore{e.store}).Run(context.Background())
	require.ErrorIs(t, err, store.ErrSnapshotWrite)
	assert.False(t, called, "sinks only run after a successful save")
}

func TestRunInterruptedLeavesSnapshot(t *testing.T) {
	e := newEnv(t)
	a, b, _ := docsA()
	e.publish(a, b)
	ctx, cancel := context.WithCancel(context.Background())
	e.crawler.onCall = cancel

	_, err := e.runner(t, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, readErr := e.store.Read(context.Background())
	require.Error(t, readErr)
}

func TestRunDeliversToSinks(t *testing.T) {
	e := newEnv(t)
	a, _, _ := docsA()
	e.publish(a)
	var got []Outcome
	e.sinks = []Sink{
		SinkFunc("broken", func(context.Context, Outcome) error { return errors.New("sink down") }),
		SinkFunc("recorder", func(_ context.Context, out Outcome) error {
			got = append(got, out)
			return nil
		}),
	}

	summary, err := e.runner(t, nil).Run(context.Background())
	require.NoError(t, err, "sink failures are not fatal")
	require.Len(t, got, 1)
	assert.Equal(t, summary.RunID, got[0].Summary.RunID)
	assert.Len(t, got[0].Snapshot.Documents, 1)
	assert.Equal(t, "recorder", e.sinks[1].Name())
}

func TestNewRunnerValidates(t *testing.T) {
	_, err := NewRunner(Options{})
	require.Error(t, err)
}

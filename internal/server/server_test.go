package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/crawler"
)

type fakeSnapshots struct {
	snap crawler.Snapshot
	err  error
}

func (f fakeSnapshots) Read(context.Context) (crawler.Snapshot, error) {
	return f.snap, f.err
}

func sampleSnapshot() crawler.Snapshot {
	return crawler.Snapshot{
		UpdatedAt:     time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		Source:        "https://uni.example.de/service/dokumente",
		DocumentCount: 3,
		Documents: []crawler.Entry{
			{
				EntryKey: "k1", Title: "Prüfungsordnung", Description: "Gültig ab WS 2024",
				CategoryTop: "Studium", CategorySub: "Prüfungen", Category: "Studium/Prüfungen",
				Filename: "po.pdf", LocalPath: "documents/Studium/Prüfungen/po.pdf",
			},
			{
				EntryKey: "k2", Title: "Merkblatt", CategoryTop: "Studium", Category: "Studium",
				Filename: "merkblatt.pdf", LocalPath: "documents/Studium/merkblatt.pdf",
			},
			{
				EntryKey: "k3", Title: "Reisekostenantrag", CategoryTop: "Verwaltung", CategorySub: "Formulare",
				Category: "Verwaltung/Formulare", Filename: "reise.docx", LocalPath: "documents/Verwaltung/Formulare/reise.docx",
			},
		},
	}
}

func newTestServer(t *testing.T, snaps SnapshotReader) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	srv, err := New(Options{Snapshots: snaps, DataDir: dir})
	require.NoError(t, err)
	return srv, dir
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeDocuments(t *testing.T, rec *httptest.ResponseRecorder) documentsResponse {
	t.Helper()
	var out documentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(Options{DataDir: "x"})
	require.Error(t, err)
	_, err = New(Options{Snapshots: fakeSnapshots{}})
	require.Error(t, err)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, fakeSnapshots{snap: sampleSnapshot()})
	rec := get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusOK, get(t, srv, "/readyz").Code)

	missing, _ := newTestServer(t, fakeSnapshots{err: fs.ErrNotExist})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, missing, "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, missing, "/api/documents").Code)
}

func TestListDocuments(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, fakeSnapshots{snap: sampleSnapshot()})

	rec := get(t, srv, "/api/documents")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	all := decodeDocuments(t, rec)
	assert.Equal(t, 3, all.DocumentCount)
	assert.Equal(t, "https://uni.example.de/service/dokumente", all.Source)

	tests := []struct {
		name  string
		query string
		keys  []string
	}{
		{"title substring ignores case", "?q=PR%C3%9CFUNGS", []string{"k1"}},
		{"description", "?q=ws%202024", []string{"k1"}},
		{"filename", "?q=.docx", []string{"k3"}},
		{"category filter includes subs", "?category=Studium", []string{"k1", "k2"}},
		{"exact sub category", "?category=Studium/Pr%C3%BCfungen", []string{"k1"}},
		{"category prefix must be a whole segment", "?category=Stud", nil},
		{"combined", "?category=Studium&q=merk", []string{"k2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := decodeDocuments(t, get(t, srv, "/api/documents"+tt.query))
			var keys []string
			for _, d := range got.Documents {
				keys = append(keys, d.EntryKey)
			}
			assert.Equal(t, tt.keys, keys)
			assert.Equal(t, len(tt.keys), got.DocumentCount)
		})
	}
}

func TestGetDocument(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, fakeSnapshots{snap: sampleSnapshot()})

	rec := get(t, srv, "/api/documents/k2")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry crawler.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "Merkblatt", entry.Title)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/documents/nope").Code)
}

func TestListCategories(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, fakeSnapshots{snap: sampleSnapshot()})
	rec := get(t, srv, "/api/categories")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Categories []CategoryNode `json:"categories"`
		Total      int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, []CategoryNode{
		{Name: "Studium", Count: 2, Subcategories: []CategoryNode{{Name: "Prüfungen", Count: 1}}},
		{Name: "Verwaltung", Count: 1, Subcategories: []CategoryNode{{Name: "Formulare", Count: 1}}},
	}, body.Categories)
}

func TestServesDocumentFiles(t *testing.T) {
	t.Parallel()
	srv, dir := newTestServer(t, fakeSnapshots{snap: sampleSnapshot()})
	full := filepath.Join(dir, "documents", "Studium", "Prüfungen", "po.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(t, os.WriteFile(full, []byte("%PDF-1.7"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{}"), 0o600))

	rec := get(t, srv, "/data/documents/Studium/Pr%C3%BCfungen/po.pdf")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.7", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/data/metadata.json").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/data/documents/Studium/missing.pdf").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/data/documents/").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, fakeSnapshots{snap: sampleSnapshot()})
	_ = get(t, srv, "/healthz")
	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docmirror_http_requests_total")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, fakeSnapshots{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

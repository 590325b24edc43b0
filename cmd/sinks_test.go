package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docmirror/internal/app"
	"github.com/JakeFAU/docmirror/internal/config"
	"github.com/JakeFAU/docmirror/internal/planner"
	"github.com/JakeFAU/docmirror/internal/publisher/memory"
	"github.com/JakeFAU/docmirror/internal/storage/gcs"
	"github.com/JakeFAU/docmirror/internal/storage/postgres"
)

func sampleSummary() app.Summary {
	started := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	return app.Summary{
		RunID:      "run-7",
		Source:     "https://uni.example.de/dokumente",
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
		New:        2,
		Updated:    1,
		Unchanged:  5,
		Failures:   []app.Failure{{EntryKey: "k-fail", URL: "https://uni.example.de/x.pdf"}},
		Removals: []planner.Removal{
			{EntryKey: "gone", Outcome: planner.RemovalDeleted},
			{EntryKey: "k-fail", Outcome: planner.RemovalRetained},
		},
		Missing:    []app.MissingEntry{{EntryKey: "k-fail"}},
		Documents:  8,
		Categories: []app.CategoryCount{{Category: "Studium", Count: 8}},
	}
}

type fakeCommitter struct {
	message string
	paths   []string
	err     error
}

func (f *fakeCommitter) Commit(_ context.Context, message string, paths ...string) (string, bool, error) {
	f.message = message
	f.paths = paths
	return "abc123", f.err == nil, f.err
}

type fakeArchiver struct {
	runID string
	files []gcs.File
}

func (f *fakeArchiver) Store(_ context.Context, runID string, files ...gcs.File) ([]string, error) {
	f.runID = runID
	f.files = files
	return []string{"docmirror/" + runID + "/metadata.json"}, nil
}

type fakeRecorder struct {
	rec postgres.RunRecord
}

func (f *fakeRecorder) RecordRun(_ context.Context, rec postgres.RunRecord) error {
	f.rec = rec
	return nil
}

func TestNewRunEvent(t *testing.T) {
	ev := newRunEvent(sampleSummary())
	assert.Equal(t, "run-7", ev.RunID)
	assert.False(t, ev.OK)
	assert.Equal(t, 1, ev.Failed)
	assert.Equal(t, 1, ev.Removed, "retained entries are not counted as removed")
	assert.Equal(t, []string{"k-fail"}, ev.Missing)
	assert.Equal(t, 8, ev.Documents)
}

func TestNotifySinkPublishesRunEvent(t *testing.T) {
	pub := memory.New()
	sink := notifySink(pub)
	assert.Equal(t, "pubsub", sink.Name())

	require.NoError(t, sink.Deliver(context.Background(), app.Outcome{Summary: sampleSummary()}))
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, syncCompletedEvent, msgs[0].Event)
	ev, ok := msgs[0].Payload.(runEvent)
	require.True(t, ok)
	assert.Equal(t, "run-7", ev.RunID)
}

func TestJournalSinkCommitsPaths(t *testing.T) {
	c := &fakeCommitter{}
	sink := journalSink(c, "data/meta.json", "data/report.md")
	require.NoError(t, sink.Deliver(context.Background(), app.Outcome{Summary: sampleSummary()}))
	assert.Equal(t, []string{"data/meta.json", "data/report.md"}, c.paths)
	assert.Equal(t, "sync run-7: 8 documents (2 new, 1 updated, 1 removed)", c.message)

	c.err = errors.New("locked")
	require.Error(t, sink.Deliver(context.Background(), app.Outcome{Summary: sampleSummary()}))
}

func TestArchiveSinkStoresFiles(t *testing.T) {
	a := &fakeArchiver{}
	files := []gcs.File{{Name: "metadata.json", Path: "/tmp/meta.json"}}
	require.NoError(t, archiveSink(a, files...).Deliver(context.Background(), app.Outcome{Summary: sampleSummary()}))
	assert.Equal(t, "run-7", a.runID)
	assert.Equal(t, files, a.files)
}

func TestHistorySinkRecordsRun(t *testing.T) {
	r := &fakeRecorder{}
	require.NoError(t, historySink(r).Deliver(context.Background(), app.Outcome{Summary: sampleSummary()}))
	assert.Equal(t, "run-7", r.rec.RunID)
	assert.Equal(t, 2, r.rec.New)
	assert.Equal(t, 1, r.rec.Failed)
	assert.Equal(t, 1, r.rec.Missing)
	assert.False(t, r.rec.OK)
}

func TestArchiveFiles(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{DataDir: "data", MetadataFile: "meta.json", ReportFile: "report.md"}}
	files := archiveFiles(cfg)
	require.Len(t, files, 2)
	assert.Equal(t, "metadata.json", files[0].Name)
	assert.Equal(t, "report.md", files[1].Name)

	cfg.Storage.ReportFile = ""
	assert.Len(t, archiveFiles(cfg), 1)
}

func TestBuildSinksWithoutOptionalBackends(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{DataDir: t.TempDir(), MetadataFile: "meta.json", ReportFile: "report.md"}}
	sinks, closers := buildSinks(context.Background(), cfg, zap.NewNop())
	require.Len(t, sinks, 1)
	assert.Equal(t, "report", sinks[0].Name())
	assert.Empty(t, closers)
}

package planner

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/docmirror/internal/crawler"
	"github.com/JakeFAU/docmirror/internal/identity"
	"github.com/JakeFAU/docmirror/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRemover struct {
	*memory.DocumentStore
}

func (failingRemover) Remove(context.Context, string) error {
	return errors.New("permission denied")
}

func entriesByKey(entries ...crawler.Entry) map[string]crawler.Entry {
	out := make(map[string]crawler.Entry, len(entries))
	for _, e := range entries {
		out[e.EntryKey] = e
	}
	return out
}

func seedFiles(t *testing.T, files *memory.DocumentStore, paths ...string) {
	t.Helper()
	for _, p := range paths {
		_, err := files.Put(context.Background(), p, bytes.NewBufferString(p))
		require.NoError(t, err)
	}
}

func processed(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func TestRemovalPassDeletesVanishedEntries(t *testing.T) {
	t.Parallel()
	files := memory.NewDocumentStore()
	a := crawler.Entry{EntryKey: "A", LocalPath: "documents/X/a.pdf"}
	b := crawler.Entry{EntryKey: "B", Title: "B", LocalPath: "documents/X/b.pdf"}
	c := crawler.Entry{EntryKey: "C", LocalPath: "documents/X/c.pdf"}
	seedFiles(t, files, a.LocalPath, b.LocalPath, c.LocalPath)

	removals := RemovalPass(context.Background(), RemovalInput{
		Prior:     entriesByKey(a, b, c),
		Processed: processed("A", "C"),
		Expected:  func(key string) bool { return key == "A" || key == "C" },
		LivePaths: identity.NewPathSet(a.LocalPath, c.LocalPath),
	}, files, nil)

	require.Len(t, removals, 1)
	assert.Equal(t, "B", removals[0].EntryKey)
	assert.Equal(t, RemovalDeleted, removals[0].Outcome)
	assert.NoError(t, removals[0].Err)
	assert.Equal(t, []string{a.LocalPath, c.LocalPath}, files.Paths())
}

func TestRemovalPassRetainsExpectedKeys(t *testing.T) {
	t.Parallel()
	files := memory.NewDocumentStore()
	b := crawler.Entry{EntryKey: "B", LocalPath: "documents/X/b.pdf"}
	seedFiles(t, files, b.LocalPath)

	removals := RemovalPass(context.Background(), RemovalInput{
		Prior:     entriesByKey(b),
		Processed: processed(),
		Expected:  func(key string) bool { return key == "B" },
		LivePaths: identity.NewPathSet(),
	}, files, nil)

	require.Len(t, removals, 1)
	assert.Equal(t, RemovalRetained, removals[0].Outcome)
	ok, err := files.Exists(context.Background(), b.LocalPath)
	require.NoError(t, err)
	assert.True(t, ok, "a key still on the site keeps its file for the next run")
}

func TestRemovalPassKeepsSharedPath(t *testing.T) {
	t.Parallel()
	files := memory.NewDocumentStore()
	old := crawler.Entry{EntryKey: "old", LocalPath: "documents/X/a.pdf"}
	seedFiles(t, files, old.LocalPath)

	removals := RemovalPass(context.Background(), RemovalInput{
		Prior:     entriesByKey(old),
		Processed: processed("new"),
		LivePaths: identity.NewPathSet("documents/x/A.pdf"),
	}, files, nil)

	require.Len(t, removals, 1)
	assert.Equal(t, RemovalShared, removals[0].Outcome)
	assert.Equal(t, []string{old.LocalPath}, files.Paths())
}

func TestRemovalPassReportsDeleteErrors(t *testing.T) {
	t.Parallel()
	store := failingRemover{memory.NewDocumentStore()}
	gone := crawler.Entry{EntryKey: "gone", LocalPath: "documents/X/gone.pdf"}

	removals := RemovalPass(context.Background(), RemovalInput{
		Prior:     entriesByKey(gone),
		Processed: processed(),
	}, store, nil)

	require.Len(t, removals, 1)
	assert.Equal(t, RemovalError, removals[0].Outcome)
	require.Error(t, removals[0].Err)
}

func TestRemovalPassIsSortedAndSkipsProcessed(t *testing.T) {
	t.Parallel()
	files := memory.NewDocumentStore()
	prior := entriesByKey(
		crawler.Entry{EntryKey: "z", LocalPath: "documents/z.pdf"},
		crawler.Entry{EntryKey: "m", LocalPath: "documents/m.pdf"},
		crawler.Entry{EntryKey: "a", LocalPath: "documents/a.pdf"},
	)
	removals := RemovalPass(context.Background(), RemovalInput{Prior: prior, Processed: processed("m")}, files, nil)
	require.Len(t, removals, 2)
	assert.Equal(t, "a", removals[0].EntryKey)
	assert.Equal(t, "z", removals[1].EntryKey)
}

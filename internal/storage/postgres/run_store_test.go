package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	start := time.Unix(1767225600, 0).UTC()
	rec := RunRecord{
		RunID:      "0190-run",
		Source:     "https://uni.example.de/service/dokumente",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Documents:  12,
		New:        2,
		Updated:    1,
		Unchanged:  9,
		Failed:     0,
		Removed:    1,
		Missing:    0,
		OK:         true,
	}

	mock.ExpectExec("INSERT INTO sync_runs").
		WithArgs(rec.RunID, rec.Source, rec.StartedAt, rec.FinishedAt, 12, 2, 1, 9, 0, 1, 0, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs").WillReturnError(errors.New("connection lost"))
	err = store.RecordRun(context.Background(), RunRecord{RunID: "r"})
	require.ErrorContains(t, err, "connection lost")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.RecordRun(context.Background(), RunRecord{}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "sync_runs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sync_runs").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "runs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)

	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	require.Error(t, err)
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock, time.Hour)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0).UTC()
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestSetResultsUpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	results := []crawler.Result{crawler.SucceededResult("https://a.test/", "hi")}

	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs("job-1", []byte(`[{"url":"https://a.test/","content":"hi","error":false}]`), now.Add(24*time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SetResults(context.Background(), "job-1", results, 24*time.Hour))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetResultsWrapsExecError(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("boom"))

	err := store.SetResults(context.Background(), "job-1", nil, time.Hour)
	require.ErrorContains(t, err, "upsert results: boom")
}

func TestGetResultsFound(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("SELECT results FROM crawl_results").
		WithArgs("job-1", now).
		WillReturnRows(mock.NewRows([]string{"results"}).
			AddRow([]byte(`[{"url":"https://a.test/","content":null,"error":true}]`)))

	results, found, err := store.GetResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []crawler.Result{crawler.FailedResult("https://a.test/")}, results)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultsMissing(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("SELECT results FROM crawl_results").
		WithArgs("job-2", now).
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.GetResults(context.Background(), "job-2")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSetStatusUpsertsRecord(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	record := crawler.JobRecord{
		ID:          "job-3",
		Status:      crawler.JobStatusSucceeded,
		Attempts:    2,
		ResultCount: 5,
		Submitted:   now.Add(-time.Minute),
		Updated:     now,
	}
	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("job-3", "succeeded", 2, "", 5, record.Submitted, record.Updated, now.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SetStatus(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatusFound(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	submitted := now.Add(-time.Minute)
	mock.ExpectQuery("SELECT id, status, attempts").
		WithArgs("job-4", now).
		WillReturnRows(mock.NewRows([]string{
			"id", "status", "attempts", "error", "result_count", "submitted_at", "updated_at",
		}).AddRow("job-4", "retrying", 1, "fetch failed", 0, submitted, now))

	record, found, err := store.GetStatus(context.Background(), "job-4")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, crawler.JobRecord{
		ID:        "job-4",
		Status:    crawler.JobStatusRetrying,
		Attempts:  1,
		Error:     "fetch failed",
		Submitted: submitted,
		Updated:   now,
	}, record)
}

func TestGetStatusMissing(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("SELECT id, status, attempts").
		WithArgs("job-5", now).
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.GetStatus(context.Background(), "job-5")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectExec("DELETE FROM crawl_results").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("DELETE FROM crawl_jobs").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	removed, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewStoreWithPool(nil, 0)
	require.Error(t, err)
}

package job

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapehub/internal/platform/postgres"
)

// newTestPostgresStore connects to the database named by TEST_DATABASE_URL
// and starts from empty tables. Tests are skipped when the variable is
// unset so the suite stays runnable without infrastructure.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, postgres.RunMigrations(url, "../../../migrations/postgres"))

	db, err := postgres.New(postgres.Options{URL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Pool().Exec(context.Background(),
		`TRUNCATE jobs, work_items, item_results, job_events`)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func TestPostgresJobLifecycle(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	j := createTestJob(t, s, 3)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, 3, j.TotalItems)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)

	pending, err := s.ListPendingItems(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "https://site001.com", pending[1].URL)

	running, err := s.UpdateStatus(ctx, j.ID, StatusRunning, "Started processing 3 URLs")
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	// illegal transition is rejected with the current status intact
	_, err = s.UpdateStatus(ctx, j.ID, StatusRunning, "")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = s.GetJob(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRecordResultIdempotent(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	j := createTestJob(t, s, 2)
	_, err := s.UpdateStatus(ctx, j.ID, StatusRunning, "")
	require.NoError(t, err)

	inserted, err := s.RecordResult(ctx, okResult(j.ID, 0))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RecordResult(ctx, okResult(j.ID, 0))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessedItems)

	pending, err := s.ListPendingItems(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Seq)
}

func TestPostgresResultsRoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	j := createTestJob(t, s, 3)
	_, err := s.UpdateStatus(ctx, j.ID, StatusRunning, "")
	require.NoError(t, err)

	ok := &FileCheck{StatusCode: 200, ResultText: "OK", Content: "google.com, pub-1, DIRECT", TimeMs: 41}
	notFound := &FileCheck{StatusCode: 404, ResultText: "HTTP 404", TimeMs: 12}
	_, err = s.RecordResult(ctx, &ItemResult{
		JobID: j.ID, ItemSeq: 0, OriginalURL: "site000.com",
		HomepageURL: "https://site000.com/", HomepageDetection: "OK",
		AdsTxt: ok, AppAdsTxt: notFound,
	})
	require.NoError(t, err)
	_, err = s.RecordResult(ctx, &ItemResult{
		JobID: j.ID, ItemSeq: 1, OriginalURL: "site001.com",
		Error: "Homepage detection failed: Timeout",
	})
	require.NoError(t, err)

	page, matching, total, err := s.ListResults(ctx, j.ID, FilterAll, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, matching)
	assert.Equal(t, 2, total)
	require.Len(t, page, 2)

	// the JSONB columns round-trip the nested file checks
	first := page[0]
	require.NotNil(t, first.AdsTxt)
	assert.Equal(t, 200, first.AdsTxt.StatusCode)
	assert.Equal(t, "google.com, pub-1, DIRECT", first.AdsTxt.Content)
	assert.Equal(t, int64(41), first.AdsTxt.TimeMs)
	require.NotNil(t, first.AppAdsTxt)
	assert.Equal(t, "HTTP 404", first.AppAdsTxt.ResultText)

	second := page[1]
	assert.Nil(t, second.AdsTxt)
	assert.Equal(t, "Homepage detection failed: Timeout", second.Error)

	page, matching, _, err = s.ListResults(ctx, j.ID, FilterErrorsOnly, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, matching)
	require.Len(t, page, 2)

	page, matching, _, err = s.ListResults(ctx, j.ID, FilterAll, "site001", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, matching)
	require.Len(t, page, 1)
	assert.Equal(t, 1, page[0].ItemSeq)

	st, err := s.Stats(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, Stats{AdsSuccess: 1, AdsError: 1, AppSuccess: 0, AppError: 1}, st)

	counts, err := s.FilterCounts(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.All)
	assert.Equal(t, 2, counts.ErrorsOnly)
}

func TestPostgresEvents(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	j := createTestJob(t, s, 1)
	_, err := s.UpdateStatus(ctx, j.ID, StatusRunning, "Started processing 1 URLs")
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, j.ID, EventProgress, "Processed 1/1 URLs"))

	events, err := s.ListEvents(ctx, j.ID, 50)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventProgress, events[0].Kind)
	assert.Equal(t, EventStarted, events[1].Kind)
}

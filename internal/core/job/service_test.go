package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEnqueuer records enqueued job IDs instead of talking to asynq.
type fakeEnqueuer struct {
	enqueued []string
	err      error
}

func (f *fakeEnqueuer) EnqueueBatch(ctx context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func newTestService() (*Service, *MemStore, *fakeEnqueuer) {
	store := NewMemStore()
	enq := &fakeEnqueuer{}
	return NewService(store, enq), store, enq
}

func TestSubmit(t *testing.T) {
	svc, _, enq := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, TypeAdsTxt, []string{"example.com", "bad line here", "other.org"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Job.TotalItems)
	assert.Equal(t, []string{"bad line here"}, res.Skipped)
	assert.Equal(t, []string{res.Job.ID}, enq.enqueued)
}

func TestSubmitNoValidURLs(t *testing.T) {
	svc, _, enq := newTestService()
	_, err := svc.Submit(context.Background(), TypeAdsTxt, []string{"", "not a url"})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, enq.enqueued)
}

func TestSubmitEnqueueFailure(t *testing.T) {
	svc, _, enq := newTestService()
	enq.err = errors.New("redis down")
	_, err := svc.Submit(context.Background(), TypeAdsTxt, []string{"example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue batch run")
}

func TestPauseResumeStop(t *testing.T) {
	svc, store, enq := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, TypeAdsTxt, []string{"example.com"})
	require.NoError(t, err)
	id := res.Job.ID
	_, err = store.UpdateStatus(ctx, id, StatusRunning, "")
	require.NoError(t, err)

	j, err := svc.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, j.Status)

	// resume re-enqueues the batch task
	before := len(enq.enqueued)
	j, err = svc.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, j.Status)
	assert.Len(t, enq.enqueued, before+1)

	j, err = svc.Stop(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, j.Status)

	// stopped is terminal
	_, err = svc.Resume(ctx, id)
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestControlUnknownJob(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for _, op := range []func(context.Context, string) (*Job, error){svc.Pause, svc.Resume, svc.Stop} {
		_, err := op(ctx, "no-such-id")
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestStatusView(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, TypeAdsTxt, []string{"a.com", "b.com", "c.com"})
	require.NoError(t, err)
	id := res.Job.ID
	_, err = store.UpdateStatus(ctx, id, StatusRunning, "")
	require.NoError(t, err)
	_, err = store.RecordResult(ctx, okResult(id, 0))
	require.NoError(t, err)

	view, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, view.Status)
	assert.Equal(t, 1, view.ProcessedItems)
	assert.Equal(t, 3, view.TotalItems)
	assert.Equal(t, 33, view.Progress)
	assert.Equal(t, 1, view.Stats.AdsSuccess)
	// a single observation cannot produce a rate yet
	assert.Nil(t, view.RatePerSecond)
}

func TestStatusRateAndETA(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, TypeAdsTxt, []string{"a.com", "b.com", "c.com", "d.com"})
	require.NoError(t, err)
	id := res.Job.ID
	_, err = store.UpdateStatus(ctx, id, StatusRunning, "")
	require.NoError(t, err)

	_, err = svc.Status(ctx, id)
	require.NoError(t, err)

	_, err = store.RecordResult(ctx, okResult(id, 0))
	require.NoError(t, err)
	_, err = store.RecordResult(ctx, okResult(id, 1))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	view, err := svc.Status(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view.RatePerSecond)
	assert.Greater(t, *view.RatePerSecond, 0.0)
	require.NotNil(t, view.EtaSeconds)
	assert.GreaterOrEqual(t, *view.EtaSeconds, int64(0))
}

func TestStatusRateClearedWhenInactive(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, TypeAdsTxt, []string{"a.com"})
	require.NoError(t, err)
	id := res.Job.ID
	_, err = store.UpdateStatus(ctx, id, StatusRunning, "")
	require.NoError(t, err)
	_, err = store.RecordResult(ctx, okResult(id, 0))
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, id, StatusCompleted, "")
	require.NoError(t, err)

	view, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Nil(t, view.RatePerSecond)
	assert.Nil(t, view.EtaSeconds)
}

func TestResults(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, TypeAdsTxt, []string{"a.com", "b.com", "c.com"})
	require.NoError(t, err)
	id := res.Job.ID
	_, err = store.UpdateStatus(ctx, id, StatusRunning, "")
	require.NoError(t, err)
	for seq := 0; seq < 2; seq++ {
		_, err = store.RecordResult(ctx, okResult(id, seq))
		require.NoError(t, err)
	}

	page, err := svc.Results(ctx, id, "", "", 0, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 2, page.RecordsTotal)
	assert.Equal(t, 2, page.RecordsFiltered)
	assert.Len(t, page.Data, 2)
	assert.Nil(t, page.FilterCounts)

	page, err = svc.Results(ctx, id, "all", "", 0, 10, true)
	require.NoError(t, err)
	require.NotNil(t, page.FilterCounts)
	assert.Equal(t, 2, page.FilterCounts.All)

	_, err = svc.Results(ctx, id, "bogus", "", 0, 10, false)
	var invalid *InvalidFilterError
	assert.ErrorAs(t, err, &invalid)

	_, err = svc.Results(ctx, "no-such-id", "", "", 0, 10, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultsEmptyPageIsNotNil(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, TypeAdsTxt, []string{"a.com"})
	require.NoError(t, err)

	page, err := svc.Results(ctx, res.Job.ID, "", "", 0, 10, false)
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}

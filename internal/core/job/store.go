package job

import (
	"context"
	"time"

	"scrapehub/internal/utils/urlnorm"
)

// Store is the durable source of truth for jobs, work items, results and
// the event timeline. All mutating calls must be safe under concurrent
// workers of the same job; RecordResult is idempotent per (job, item).
type Store interface {
	// CreateJob persists a new pending job and its work items atomically.
	// Fails with ErrEmptyInput when items is empty.
	CreateJob(ctx context.Context, typ Type, items []urlnorm.Input) (*Job, error)

	GetJob(ctx context.Context, id string) (*Job, error)

	// ListJobs returns jobs newest first, optionally restricted to one
	// status, plus overview counts across all jobs.
	ListJobs(ctx context.Context, status string, limit int) ([]*Job, ListCounts, error)

	// UpdateStatus validates the transition against the state machine,
	// applies it, and appends the matching timeline event. Returns
	// ErrNotFound or *InvalidTransitionError without mutating on failure.
	UpdateStatus(ctx context.Context, id string, to Status, message string) (*Job, error)

	AppendEvent(ctx context.Context, id string, kind EventKind, message string) error
	ListEvents(ctx context.Context, id string, limit int) ([]Event, error)

	// ListPendingItems returns, in input order, the items that do not yet
	// have a recorded result.
	ListPendingItems(ctx context.Context, id string) ([]WorkItem, error)

	// RecordResult inserts the terminal result for one item and increments
	// processed_items, once. A duplicate call is a no-op returning false.
	// Results are dropped (false, nil) once the job is completed or failed;
	// in-flight results of a stopped job are still accepted.
	RecordResult(ctx context.Context, res *ItemResult) (bool, error)

	Stats(ctx context.Context, id string) (Stats, error)

	// ListResults serves one page of the (possibly partial) result set in
	// input order, returning the page, the filtered total and the
	// unfiltered total.
	ListResults(ctx context.Context, id string, f Filter, search string, offset, limit int) ([]*ItemResult, int, int, error)

	FilterCounts(ctx context.Context, id string) (FilterCounts, error)

	// DeleteJobsOlderThan removes finished jobs created before cutoff.
	DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

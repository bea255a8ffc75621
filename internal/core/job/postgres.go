package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"scrapehub/internal/platform/postgres"
	"scrapehub/internal/utils/urlnorm"
)

// PostgresStore is the production Store backed by pgx.
type PostgresStore struct {
	db *postgres.Service
}

func NewPostgresStore(db *postgres.Service) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobFields = `id, type, status, total_items, processed_items, error_message, created_at, started_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.TotalItems, &j.ProcessedItems,
		&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, typ Type, items []urlnorm.Input) (*Job, error) {
	if len(items) == 0 {
		return nil, ErrEmptyInput
	}
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New().String()
	row := tx.QueryRow(ctx, `
		INSERT INTO jobs (id, type, status, total_items)
		VALUES ($1, $2, $3, $4)
		RETURNING `+jobFields,
		id, typ, StatusPending, len(items))
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(items))
	for seq, in := range items {
		rows = append(rows, []any{id, seq, in.Raw, in.URL})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"work_items"},
		[]string{"job_id", "seq", "raw_input", "url"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return nil, fmt.Errorf("insert work items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.Pool().QueryRow(ctx, `SELECT `+jobFields+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, status string, limit int) ([]*Job, ListCounts, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + jobFields + ` FROM jobs`
	args := []any{}
	if status != "" && status != "all" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, ListCounts{}, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, ListCounts{}, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, ListCounts{}, fmt.Errorf("list jobs: %w", rows.Err())
	}

	var c ListCounts
	err = s.db.Pool().QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'running'),
		       count(*) FILTER (WHERE status IN ('paused', 'auto_paused')),
		       count(*) FILTER (WHERE status = 'completed'),
		       count(*) FILTER (WHERE status = 'failed')
		FROM jobs`).Scan(&c.Total, &c.Running, &c.Paused, &c.Completed, &c.Failed)
	if err != nil {
		return nil, ListCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	return jobs, c, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, to Status, message string) (*Job, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row so concurrent transitions serialize instead of racing.
	var from Status
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}

	set := `status = $2, updated_at = now()`
	if to == StatusRunning {
		set += `, started_at = COALESCE(started_at, now()), error_message = ''`
	}
	if to.Terminal() {
		set += `, completed_at = now()`
	}
	if to == StatusFailed && message != "" {
		set += `, error_message = $3`
	}
	args := []any{id, to}
	if strings.Contains(set, "$3") {
		args = append(args, message)
	}
	row := tx.QueryRow(ctx, `UPDATE jobs SET `+set+` WHERE id = $1 RETURNING `+jobFields, args...)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	kind := eventForTransition(from, to)
	if message == "" {
		message = defaultTransitionMessage(from, to)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_events (job_id, kind, message) VALUES ($1, $2, $3)`,
		id, kind, message); err != nil {
		return nil, fmt.Errorf("append transition event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}
	return j, nil
}

func eventForTransition(from, to Status) EventKind {
	if to == StatusRunning {
		switch from {
		case StatusPaused:
			return EventResumed
		case StatusAutoPaused:
			return EventAutoResumed
		default:
			return EventStarted
		}
	}
	return statusEvent[to]
}

func defaultTransitionMessage(from, to Status) string {
	return fmt.Sprintf("status changed from %s to %s", from, to)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, id string, kind EventKind, message string) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO job_events (job_id, kind, message) VALUES ($1, $2, $3)`,
		id, kind, message)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, id string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, job_id, kind, message, created_at
		FROM job_events WHERE job_id = $1
		ORDER BY id DESC LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.Kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListPendingItems(ctx context.Context, id string) ([]WorkItem, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT w.job_id, w.seq, w.raw_input, w.url
		FROM work_items w
		LEFT JOIN item_results r ON r.job_id = w.job_id AND r.item_seq = w.seq
		WHERE w.job_id = $1 AND r.job_id IS NULL
		ORDER BY w.seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		var w WorkItem
		if err := rows.Scan(&w.JobID, &w.Seq, &w.RawInput, &w.URL); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (s *PostgresStore) RecordResult(ctx context.Context, res *ItemResult) (bool, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin record result: %w", err)
	}
	defer tx.Rollback(ctx)

	var status Status
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, res.JobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock job: %w", err)
	}
	// A stopped job still accepts results of items already in flight;
	// completed and failed jobs are frozen.
	if status == StatusCompleted || status == StatusFailed {
		return false, nil
	}

	adsJSON, appJSON, err := marshalChecks(res)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO item_results
			(job_id, item_seq, homepage_url, homepage_detection, error,
			 ads_status, app_status, ads_result, app_ads_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id, item_seq) DO NOTHING`,
		res.JobID, res.ItemSeq, res.HomepageURL, res.HomepageDetection, res.Error,
		statusCode(res.AdsTxt), statusCode(res.AppAdsTxt), adsJSON, appJSON)
	if err != nil {
		return false, fmt.Errorf("insert item result: %w", err)
	}
	inserted := tag.RowsAffected() == 1
	if inserted {
		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET processed_items = processed_items + 1, updated_at = now()
			WHERE id = $1`, res.JobID); err != nil {
			return false, fmt.Errorf("increment processed_items: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit record result: %w", err)
	}
	return inserted, nil
}

func marshalChecks(res *ItemResult) ([]byte, []byte, error) {
	var adsJSON, appJSON []byte
	var err error
	if res.AdsTxt != nil {
		if adsJSON, err = json.Marshal(res.AdsTxt); err != nil {
			return nil, nil, fmt.Errorf("marshal ads_txt: %w", err)
		}
	}
	if res.AppAdsTxt != nil {
		if appJSON, err = json.Marshal(res.AppAdsTxt); err != nil {
			return nil, nil, fmt.Errorf("marshal app_ads_txt: %w", err)
		}
	}
	return adsJSON, appJSON, nil
}

func statusCode(f *FileCheck) *int {
	if f == nil {
		return nil
	}
	return &f.StatusCode
}

func (s *PostgresStore) Stats(ctx context.Context, id string) (Stats, error) {
	var st Stats
	err := s.db.Pool().QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE ads_status = 200),
			count(*) FILTER (WHERE error <> '' OR (ads_status IS NOT NULL AND ads_status <> 200)),
			count(*) FILTER (WHERE app_status = 200),
			count(*) FILTER (WHERE app_status IS NOT NULL AND app_status <> 200)
		FROM item_results WHERE job_id = $1`, id).
		Scan(&st.AdsSuccess, &st.AdsError, &st.AppSuccess, &st.AppError)
	if err != nil {
		return Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	return st, nil
}

// filterPredicates maps each filter to its SQL condition over item_results r.
var filterPredicates = map[Filter]string{
	FilterAll:        `TRUE`,
	FilterAdsSuccess: `r.ads_status = 200`,
	FilterAdsError:   `(r.error <> '' OR (r.ads_status IS NOT NULL AND r.ads_status <> 200))`,
	FilterAppSuccess: `r.app_status = 200`,
	FilterAppError:   `(r.app_status IS NOT NULL AND r.app_status <> 200)`,
	FilterErrorsOnly: `(r.error <> '' OR (r.ads_status IS NOT NULL AND r.ads_status <> 200) OR (r.app_status IS NOT NULL AND r.app_status <> 200))`,
}

func (s *PostgresStore) ListResults(ctx context.Context, id string, f Filter, search string, offset, limit int) ([]*ItemResult, int, int, error) {
	pred, ok := filterPredicates[f]
	if !ok {
		return nil, 0, 0, &InvalidFilterError{Filter: string(f)}
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	where := `r.job_id = $1 AND ` + pred
	args := []any{id}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(` AND (w.url ILIKE $%d OR w.raw_input ILIKE $%d)`, len(args), len(args))
	}

	var totalUnfiltered int
	if err := s.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM item_results WHERE job_id = $1`, id).Scan(&totalUnfiltered); err != nil {
		return nil, 0, 0, fmt.Errorf("count results: %w", err)
	}

	var totalMatching int
	countQuery := `
		SELECT count(*)
		FROM item_results r
		JOIN work_items w ON w.job_id = r.job_id AND w.seq = r.item_seq
		WHERE ` + where
	if err := s.db.Pool().QueryRow(ctx, countQuery, args...).Scan(&totalMatching); err != nil {
		return nil, 0, 0, fmt.Errorf("count filtered results: %w", err)
	}

	pageQuery := fmt.Sprintf(`
		SELECT r.job_id, r.item_seq, w.raw_input, r.homepage_url, r.homepage_detection,
		       r.error, r.ads_result, r.app_ads_result, r.created_at
		FROM item_results r
		JOIN work_items w ON w.job_id = r.job_id AND w.seq = r.item_seq
		WHERE %s
		ORDER BY r.item_seq
		OFFSET %d LIMIT %d`, where, offset, limit)
	rows, err := s.db.Pool().Query(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var page []*ItemResult
	for rows.Next() {
		var r ItemResult
		var adsJSON, appJSON []byte
		if err := rows.Scan(&r.JobID, &r.ItemSeq, &r.OriginalURL, &r.HomepageURL,
			&r.HomepageDetection, &r.Error, &adsJSON, &appJSON, &r.CreatedAt); err != nil {
			return nil, 0, 0, fmt.Errorf("scan result: %w", err)
		}
		if len(adsJSON) > 0 {
			r.AdsTxt = &FileCheck{}
			if err := json.Unmarshal(adsJSON, r.AdsTxt); err != nil {
				return nil, 0, 0, fmt.Errorf("decode ads_txt: %w", err)
			}
		}
		if len(appJSON) > 0 {
			r.AppAdsTxt = &FileCheck{}
			if err := json.Unmarshal(appJSON, r.AppAdsTxt); err != nil {
				return nil, 0, 0, fmt.Errorf("decode app_ads_txt: %w", err)
			}
		}
		page = append(page, &r)
	}
	if rows.Err() != nil {
		return nil, 0, 0, fmt.Errorf("list results: %w", rows.Err())
	}
	return page, totalMatching, totalUnfiltered, nil
}

func (s *PostgresStore) FilterCounts(ctx context.Context, id string) (FilterCounts, error) {
	var c FilterCounts
	err := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
		SELECT count(*),
		       count(*) FILTER (WHERE %s),
		       count(*) FILTER (WHERE %s),
		       count(*) FILTER (WHERE %s),
		       count(*) FILTER (WHERE %s),
		       count(*) FILTER (WHERE %s)
		FROM item_results r WHERE r.job_id = $1`,
		filterPredicates[FilterAdsSuccess], filterPredicates[FilterAdsError],
		filterPredicates[FilterAppSuccess], filterPredicates[FilterAppError],
		filterPredicates[FilterErrorsOnly]), id).
		Scan(&c.All, &c.AdsSuccess, &c.AdsError, &c.AppSuccess, &c.AppError, &c.ErrorsOnly)
	if err != nil {
		return FilterCounts{}, fmt.Errorf("compute filter counts: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		DELETE FROM jobs
		WHERE created_at < $1 AND status IN ('completed', 'failed', 'stopped')`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scrapehub/internal/logger"
	"scrapehub/internal/utils/urlnorm"
)

// Enqueuer hands a job to the background runner. Implemented by the asynq
// task client; tests plug in fakes.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, jobID string) error
}

// Service exposes job control, live status and result queries on top of
// the Store. It owns the short rate-sample window used for ETA.
type Service struct {
	store Store
	tasks Enqueuer
	log   *logger.Logger

	mu      sync.Mutex
	samples map[string][]rateSample
}

type rateSample struct {
	at        time.Time
	processed int
}

// rateWindow bounds how far back rate samples are kept. Polls are ~5s
// apart, so this holds roughly the last two dozen observations.
const rateWindow = 2 * time.Minute

func NewService(store Store, tasks Enqueuer) *Service {
	return &Service{
		store:   store,
		tasks:   tasks,
		log:     logger.New("JobService"),
		samples: make(map[string][]rateSample),
	}
}

func (s *Service) Store() Store { return s.store }

// SubmitResult reports what job creation made of the submitted lines.
type SubmitResult struct {
	Job     *Job
	Skipped []string
}

// Submit normalizes the pasted lines, creates the job and hands it to the
// runner. Invalid lines are skipped, not fatal; zero valid lines fail with
// ErrEmptyInput.
func (s *Service) Submit(ctx context.Context, typ Type, lines []string) (*SubmitResult, error) {
	items, rejected := urlnorm.NormalizeAll(lines)
	if len(rejected) > 0 {
		s.log.LogWarnf("skipped %d invalid input lines", len(rejected))
	}
	j, err := s.store.CreateJob(ctx, typ, items)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.EnqueueBatch(ctx, j.ID); err != nil {
		return nil, fmt.Errorf("enqueue batch run: %w", err)
	}
	s.log.LogInfof("submitted job %s with %d items (%d lines rejected)", j.ID, j.TotalItems, len(rejected))
	return &SubmitResult{Job: j, Skipped: rejected}, nil
}

// Pause gates further dispatches; items already in flight finish.
func (s *Service) Pause(ctx context.Context, id string) (*Job, error) {
	return s.store.UpdateStatus(ctx, id, StatusPaused, "Job manually paused by user")
}

// Resume restarts a paused or auto-paused job from its first pending item.
func (s *Service) Resume(ctx context.Context, id string) (*Job, error) {
	j, err := s.store.UpdateStatus(ctx, id, StatusRunning, "Job manually resumed by user")
	if err != nil {
		return nil, err
	}
	if err := s.tasks.EnqueueBatch(ctx, id); err != nil {
		return nil, fmt.Errorf("enqueue batch run: %w", err)
	}
	return j, nil
}

// Stop terminates the job; remaining pending items are never processed.
func (s *Service) Stop(ctx context.Context, id string) (*Job, error) {
	return s.store.UpdateStatus(ctx, id, StatusStopped, "Job manually stopped by user")
}

// StatusView is the wire shape of the live status poll.
type StatusView struct {
	JobID          string    `json:"job_id"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	ProcessedItems int       `json:"processed_items"`
	TotalItems     int       `json:"total_items"`
	UpdatedAt      time.Time `json:"updated_at"`
	Stats          Stats     `json:"stats"`
	RatePerSecond  *float64  `json:"rate_per_second,omitempty"`
	EtaSeconds     *int64    `json:"eta_seconds,omitempty"`
}

// Status computes the live progress projection for one job.
func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.store.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		JobID:          j.ID,
		Status:         j.Status,
		Progress:       j.Progress(),
		ProcessedItems: j.ProcessedItems,
		TotalItems:     j.TotalItems,
		UpdatedAt:      j.UpdatedAt,
		Stats:          st,
	}
	if rate, ok := s.observeRate(j); ok {
		view.RatePerSecond = &rate
		if remaining := j.TotalItems - j.ProcessedItems; remaining > 0 && rate > 0 {
			eta := int64(float64(remaining) / rate)
			view.EtaSeconds = &eta
		}
	}
	return view, nil
}

// observeRate records a (now, processed) sample and derives items/second
// over the retained window. Sampling rides on the poll loop itself, so no
// background clock is needed.
func (s *Service) observeRate(j *Job) (float64, bool) {
	if !j.Status.Active() {
		s.mu.Lock()
		delete(s.samples, j.ID)
		s.mu.Unlock()
		return 0, false
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.samples[j.ID]
	window = append(window, rateSample{at: now, processed: j.ProcessedItems})
	for len(window) > 1 && now.Sub(window[0].at) > rateWindow {
		window = window[1:]
	}
	s.samples[j.ID] = window

	first, last := window[0], window[len(window)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 || last.processed <= first.processed {
		return 0, false
	}
	return float64(last.processed-first.processed) / elapsed, true
}

// ResultsPage is the wire shape of the paginated results endpoint.
type ResultsPage struct {
	Data            []*ItemResult `json:"data"`
	RecordsTotal    int           `json:"recordsTotal"`
	RecordsFiltered int           `json:"recordsFiltered"`
	FilterCounts    *FilterCounts `json:"filter_counts,omitempty"`
}

// Results serves a filtered, searched page of the job's result set. It
// works while the job is still running.
func (s *Service) Results(ctx context.Context, id, filter, search string, offset, limit int, withCounts bool) (*ResultsPage, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	page, matching, total, err := s.store.ListResults(ctx, id, f, search, offset, limit)
	if err != nil {
		return nil, err
	}
	out := &ResultsPage{
		Data:            page,
		RecordsTotal:    total,
		RecordsFiltered: matching,
	}
	if out.Data == nil {
		out.Data = []*ItemResult{}
	}
	if withCounts {
		counts, err := s.store.FilterCounts(ctx, id)
		if err != nil {
			return nil, err
		}
		out.FilterCounts = &counts
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, status string) ([]*Job, ListCounts, error) {
	return s.store.ListJobs(ctx, status, 100)
}

func (s *Service) Events(ctx context.Context, id string) ([]Event, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id, 50)
}

// StartRetentionSweep deletes finished jobs older than the retention
// period once a day until ctx is cancelled.
func (s *Service) StartRetentionSweep(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.DeleteJobsOlderThan(ctx, time.Now().Add(-retention))
				if err != nil {
					s.log.LogErrorf("retention sweep failed: %v", err)
					continue
				}
				if n > 0 {
					s.log.LogInfof("retention sweep removed %d old jobs", n)
				}
			}
		}
	}()
}

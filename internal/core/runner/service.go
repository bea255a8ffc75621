// Package runner drives batch execution of a job's pending items through
// the per-item worker with bounded concurrency.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"scrapehub/internal/core/job"
	"scrapehub/internal/logger"
)

// transient is implemented by worker errors that are worth retrying,
// in the style of net.Error's Timeout.
type transient interface {
	Transient() bool
}

func isTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}

// TaskTypeBatch is the asynq task that runs one job until it pauses,
// stops, completes or the process shuts down.
const TaskTypeBatch = "batch:run"

// BatchTaskPayload identifies the job a batch task should run.
type BatchTaskPayload struct {
	JobID string `json:"job_id"`
}

// NewBatchTask builds the asynq task for one job run.
func NewBatchTask(jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(BatchTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBatch, payload), nil
}

// Worker is the pluggable per-item collaborator. A transient error (see
// adstxt.IsTransient) is retried; anything else terminates the item.
type Worker interface {
	Process(ctx context.Context, item job.WorkItem) (*job.ItemResult, error)
}

type Options struct {
	// Concurrency bounds the worker pool per job run.
	Concurrency int
	// BatchSize is the dispatch-cycle size used for status re-checks and
	// progress events; it does not serialize execution.
	BatchSize int
	// MaxItemRetries bounds per-item retries of transient failures.
	MaxItemRetries int
	// RetryBaseDelay is the first backoff step (doubled per attempt).
	RetryBaseDelay time.Duration
	// StoreRetries bounds attempts to persist one result before the run
	// gives up and fails the job.
	StoreRetries int
}

func (o *Options) defaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxItemRetries < 0 {
		o.MaxItemRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.StoreRetries <= 0 {
		o.StoreRetries = 3
	}
}

type Service struct {
	store  job.Store
	worker Worker
	tasks  job.Enqueuer
	opts   Options
	log    *logger.Logger
}

func NewService(store job.Store, worker Worker, tasks job.Enqueuer, opts Options) *Service {
	opts.defaults()
	return &Service{
		store:  store,
		worker: worker,
		tasks:  tasks,
		opts:   opts,
		log:    logger.New("Runner"),
	}
}

// HandleBatchTask is the asynq entry point.
func (s *Service) HandleBatchTask(ctx context.Context, task *asynq.Task) error {
	var p BatchTaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode batch payload: %w", err)
	}
	return s.Run(ctx, p.JobID)
}

// Run processes a job's pending items until none remain or the job is
// paused, stopped or the context is cancelled (shutdown). It never trusts
// in-memory state: pending items are read fresh from the store, and
// idempotent result recording makes re-runs safe.
func (s *Service) Run(ctx context.Context, jobID string) error {
	j, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, job.ErrNotFound) {
		s.log.LogWarnf("batch task for unknown job %s dropped", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	switch j.Status {
	case job.StatusPending:
		msg := fmt.Sprintf("Started processing %d URLs", j.TotalItems)
		if j, err = s.store.UpdateStatus(ctx, jobID, job.StatusRunning, msg); err != nil {
			return fmt.Errorf("start job %s: %w", jobID, err)
		}
	case job.StatusRunning:
		// Resumed or recovered run; keep going.
	default:
		s.log.LogInfof("job %s is %s, nothing to run", jobID, j.Status)
		return nil
	}

	pending, err := s.store.ListPendingItems(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list pending items for %s: %w", jobID, err)
	}
	if j.ProcessedItems > 0 && len(pending) > 0 {
		s.log.LogInfof("job %s resuming with %d of %d items pending", jobID, len(pending), j.TotalItems)
	}

	totalBatches := (j.TotalItems + s.opts.BatchSize - 1) / s.opts.BatchSize
	var storeDown error

	for start := 0; start < len(pending); start += s.opts.BatchSize {
		// Status is re-read before every dispatch cycle so pause and stop
		// requests take effect without waiting for the whole run.
		current, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return s.failJob(jobID, fmt.Errorf("status check: %w", err))
		}
		if current.Status != job.StatusRunning {
			s.log.LogInfof("job %s observed status %s, halting dispatch", jobID, current.Status)
			return nil
		}
		if ctx.Err() != nil {
			return s.autoPause(jobID)
		}

		end := start + s.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		if storeDown = s.runBatch(ctx, batch); storeDown != nil {
			return s.failJob(jobID, storeDown)
		}
		if ctx.Err() != nil {
			return s.autoPause(jobID)
		}

		batchNo := (j.TotalItems - len(pending) + end + s.opts.BatchSize - 1) / s.opts.BatchSize
		s.log.LogDebugf("job %s finished dispatch cycle %d/%d", jobID, batchNo, totalBatches)
		if end%(2*s.opts.BatchSize) == 0 {
			_ = s.store.AppendEvent(ctx, jobID, job.EventProgress,
				fmt.Sprintf("Processed %d/%d URLs", j.ProcessedItems+end, j.TotalItems))
		}
	}

	return s.finalize(ctx, jobID)
}

// runBatch pushes one dispatch cycle through the bounded pool. It returns
// an error only when the store stayed unavailable past the retry budget.
func (s *Service) runBatch(ctx context.Context, batch []job.WorkItem) error {
	items := make(chan job.WorkItem)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var storeErr error

	workers := s.opts.Concurrency
	if workers > len(batch) {
		workers = len(batch)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				if err := s.processItem(ctx, item); err != nil {
					mu.Lock()
					if storeErr == nil {
						storeErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for _, item := range batch {
		select {
		case items <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(items)
	wg.Wait()
	return storeErr
}

// processItem runs the worker with transient-failure retries and records
// the terminal outcome. In-flight items finish even when the job was
// paused or stopped meanwhile; the idempotent store keeps the counters
// honest.
func (s *Service) processItem(ctx context.Context, item job.WorkItem) error {
	var res *job.ItemResult
	var err error
	for attempt := 0; ; attempt++ {
		res, err = s.worker.Process(ctx, item)
		if err == nil {
			break
		}
		if !isTransient(err) || attempt >= s.opts.MaxItemRetries || ctx.Err() != nil {
			break
		}
		delay := s.opts.RetryBaseDelay << attempt
		s.log.LogWarnf("item %d of job %s failed (attempt %d/%d), retrying in %s: %v",
			item.Seq, item.JobID, attempt+1, s.opts.MaxItemRetries+1, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	if err != nil {
		// Exhausted retries or fatal: the item still gets a terminal
		// result so it is never silently dropped.
		res = &job.ItemResult{
			JobID:       item.JobID,
			ItemSeq:     item.Seq,
			OriginalURL: item.RawInput,
			Error:       err.Error(),
		}
		_ = s.store.AppendEvent(ctx, item.JobID, job.EventItemError,
			fmt.Sprintf("item %d (%s): %s", item.Seq, item.URL, err.Error()))
	}
	return s.recordResult(ctx, res)
}

// recordResult persists one result, retrying with backoff while the store
// is unavailable.
func (s *Service) recordResult(ctx context.Context, res *job.ItemResult) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.StoreRetries; attempt++ {
		inserted, err := s.store.RecordResult(ctx, res)
		if err == nil {
			if !inserted {
				s.log.LogDebugf("result for item %d of job %s already recorded, skipping", res.ItemSeq, res.JobID)
			}
			return nil
		}
		if errors.Is(err, job.ErrNotFound) || ctx.Err() != nil {
			return nil
		}
		lastErr = err
		time.Sleep(s.opts.RetryBaseDelay << attempt)
	}
	return fmt.Errorf("store unavailable recording item %d: %w", res.ItemSeq, lastErr)
}

// finalize flips a fully processed running job to completed.
func (s *Service) finalize(ctx context.Context, jobID string) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", jobID, err)
	}
	if j.Status != job.StatusRunning || j.ProcessedItems < j.TotalItems {
		return nil
	}
	msg := fmt.Sprintf("Successfully processed %d URLs", j.TotalItems)
	if _, err := s.store.UpdateStatus(ctx, jobID, job.StatusCompleted, msg); err != nil {
		var invalid *job.InvalidTransitionError
		if errors.As(err, &invalid) {
			// Lost the race against a concurrent stop; that wins.
			return nil
		}
		return fmt.Errorf("complete %s: %w", jobID, err)
	}
	s.log.LogSuccessf("job %s completed (%d items)", jobID, j.TotalItems)
	return nil
}

// autoPause persists the shutdown-initiated pause using a fresh context,
// since the run context is already cancelled.
func (s *Service) autoPause(jobID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.store.UpdateStatus(ctx, jobID, job.StatusAutoPaused, "Auto-paused: process shutting down"); err != nil {
		var invalid *job.InvalidTransitionError
		if !errors.As(err, &invalid) {
			s.log.LogErrorf("auto-pause of job %s failed: %v", jobID, err)
			return err
		}
	}
	s.log.LogInfof("job %s auto-paused for shutdown", jobID)
	return nil
}

// failJob marks the job failed after an unrecoverable store error.
func (s *Service) failJob(jobID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.LogErrorf("job %s failed: %v", jobID, cause)
	if _, err := s.store.UpdateStatus(ctx, jobID, job.StatusFailed, cause.Error()); err != nil {
		var invalid *job.InvalidTransitionError
		if !errors.As(err, &invalid) {
			return fmt.Errorf("mark job %s failed: %w (original: %v)", jobID, err, cause)
		}
	}
	return nil
}

// RecoverJobs reconciles runner state from the store at startup: jobs
// still marked running crashed without a clean auto-pause and are
// reclassified, then every auto-paused job is resumed and re-enqueued.
// Explicitly paused jobs stay paused.
func (s *Service) RecoverJobs(ctx context.Context) error {
	crashed, _, err := s.store.ListJobs(ctx, string(job.StatusRunning), 1000)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, j := range crashed {
		if _, err := s.store.UpdateStatus(ctx, j.ID, job.StatusAutoPaused,
			"Auto-paused: found running after unclean shutdown"); err != nil {
			s.log.LogErrorf("reclassify crashed job %s: %v", j.ID, err)
		}
	}

	paused, _, err := s.store.ListJobs(ctx, string(job.StatusAutoPaused), 1000)
	if err != nil {
		return fmt.Errorf("list auto-paused jobs: %w", err)
	}
	for _, j := range paused {
		if _, err := s.store.UpdateStatus(ctx, j.ID, job.StatusRunning,
			"Auto-resumed after process restart"); err != nil {
			s.log.LogErrorf("auto-resume job %s: %v", j.ID, err)
			continue
		}
		if err := s.tasks.EnqueueBatch(ctx, j.ID); err != nil {
			s.log.LogErrorf("re-enqueue job %s: %v", j.ID, err)
			continue
		}
		s.log.LogInfof("auto-resumed job %s (%d/%d processed)", j.ID, j.ProcessedItems, j.TotalItems)
	}
	return nil
}

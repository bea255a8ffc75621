package job

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrapehub/internal/utils/urlnorm"
)

// MemStore is an in-memory Store with the same transactional semantics as
// PostgresStore. It backs the package tests and local development without
// a database; it is not durable across restarts.
type MemStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	items   map[string][]WorkItem
	results map[string]map[int]*ItemResult
	events  map[string][]Event
	eventID int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:    make(map[string]*Job),
		items:   make(map[string][]WorkItem),
		results: make(map[string]map[int]*ItemResult),
		events:  make(map[string][]Event),
	}
}

func (s *MemStore) CreateJob(ctx context.Context, typ Type, inputs []urlnorm.Input) (*Job, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	j := &Job{
		ID:         uuid.New().String(),
		Type:       typ,
		Status:     StatusPending,
		TotalItems: len(inputs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs[j.ID] = j
	items := make([]WorkItem, len(inputs))
	for seq, in := range inputs {
		items[seq] = WorkItem{JobID: j.ID, Seq: seq, RawInput: in.Raw, URL: in.URL}
	}
	s.items[j.ID] = items
	s.results[j.ID] = make(map[int]*ItemResult)
	out := *j
	return &out, nil
}

func (s *MemStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *j
	return &out, nil
}

func (s *MemStore) ListJobs(ctx context.Context, status string, limit int) ([]*Job, ListCounts, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*Job
	var c ListCounts
	for _, j := range s.jobs {
		c.Total++
		switch j.Status {
		case StatusRunning:
			c.Running++
		case StatusPaused, StatusAutoPaused:
			c.Paused++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
		if status == "" || status == "all" || string(j.Status) == status {
			out := *j
			jobs = append(jobs, &out)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, c, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id string, to Status, message string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	from := j.Status
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}
	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if to == StatusRunning {
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
		j.ErrorMessage = ""
	}
	if to.Terminal() {
		t := now
		j.CompletedAt = &t
	}
	if to == StatusFailed && message != "" {
		j.ErrorMessage = message
	}
	if message == "" {
		message = defaultTransitionMessage(from, to)
	}
	s.appendEventLocked(id, eventForTransition(from, to), message)
	out := *j
	return &out, nil
}

func (s *MemStore) AppendEvent(ctx context.Context, id string, kind EventKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	s.appendEventLocked(id, kind, message)
	return nil
}

func (s *MemStore) appendEventLocked(id string, kind EventKind, message string) {
	s.eventID++
	s.events[id] = append(s.events[id], Event{
		ID:        s.eventID,
		JobID:     id,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *MemStore) ListEvents(ctx context.Context, id string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[id]
	var events []Event
	for i := len(all) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, all[i])
	}
	return events, nil
}

func (s *MemStore) ListPendingItems(ctx context.Context, id string) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil, ErrNotFound
	}
	var pending []WorkItem
	for _, w := range s.items[id] {
		if _, done := s.results[id][w.Seq]; !done {
			pending = append(pending, w)
		}
	}
	return pending, nil
}

func (s *MemStore) RecordResult(ctx context.Context, res *ItemResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[res.JobID]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status == StatusCompleted || j.Status == StatusFailed {
		return false, nil
	}
	if _, exists := s.results[res.JobID][res.ItemSeq]; exists {
		return false, nil
	}
	stored := *res
	stored.CreatedAt = time.Now().UTC()
	s.results[res.JobID][res.ItemSeq] = &stored
	j.ProcessedItems++
	j.UpdatedAt = stored.CreatedAt
	return true, nil
}

func (s *MemStore) Stats(ctx context.Context, id string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, r := range s.results[id] {
		if FilterAdsSuccess.Match(r) {
			st.AdsSuccess++
		}
		if FilterAdsError.Match(r) {
			st.AdsError++
		}
		if FilterAppSuccess.Match(r) {
			st.AppSuccess++
		}
		if FilterAppError.Match(r) {
			st.AppError++
		}
	}
	return st, nil
}

func (s *MemStore) sortedResultsLocked(id string) []*ItemResult {
	res := make([]*ItemResult, 0, len(s.results[id]))
	for _, r := range s.results[id] {
		res = append(res, r)
	}
	sort.Slice(res, func(i, k int) bool { return res[i].ItemSeq < res[k].ItemSeq })
	return res
}

func (s *MemStore) ListResults(ctx context.Context, id string, f Filter, search string, offset, limit int) ([]*ItemResult, int, int, error) {
	if _, ok := filterPredicates[f]; !ok {
		return nil, 0, 0, &InvalidFilterError{Filter: string(f)}
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sortedResultsLocked(id)
	needle := strings.ToLower(search)
	var matched []*ItemResult
	for _, r := range all {
		if !f.Match(r) {
			continue
		}
		if needle != "" {
			w := s.items[id][r.ItemSeq]
			if !strings.Contains(strings.ToLower(w.URL), needle) &&
				!strings.Contains(strings.ToLower(w.RawInput), needle) {
				continue
			}
		}
		matched = append(matched, r)
	}

	totalMatching := len(matched)
	if offset > totalMatching {
		offset = totalMatching
	}
	end := offset + limit
	if end > totalMatching {
		end = totalMatching
	}
	page := make([]*ItemResult, 0, end-offset)
	for _, r := range matched[offset:end] {
		out := *r
		page = append(page, &out)
	}
	return page, totalMatching, len(all), nil
}

func (s *MemStore) FilterCounts(ctx context.Context, id string) (FilterCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c FilterCounts
	for _, r := range s.results[id] {
		c.All++
		if FilterAdsSuccess.Match(r) {
			c.AdsSuccess++
		}
		if FilterAdsError.Match(r) {
			c.AdsError++
		}
		if FilterAppSuccess.Match(r) {
			c.AppSuccess++
		}
		if FilterAppError.Match(r) {
			c.AppError++
		}
		if FilterErrorsOnly.Match(r) {
			c.ErrorsOnly++
		}
	}
	return c, nil
}

func (s *MemStore) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, j := range s.jobs {
		if j.CreatedAt.Before(cutoff) && j.Status.Terminal() {
			delete(s.jobs, id)
			delete(s.items, id)
			delete(s.results, id)
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

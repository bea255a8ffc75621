package job

import (
	"math"
	"time"
)

// Type classifies which scraper a job belongs to.
type Type string

const (
	TypeAdsTxt Type = "ads_txt_checker"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusAutoPaused Status = "auto_paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
)

// Terminal reports whether no further transitions may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Active reports whether the job still has (or may have) work to do.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning || s == StatusPaused || s == StatusAutoPaused
}

// transitions lists, per target status, the statuses it may be entered from.
var transitions = map[Status][]Status{
	StatusRunning:    {StatusPending, StatusPaused, StatusAutoPaused},
	StatusPaused:     {StatusRunning},
	StatusAutoPaused: {StatusRunning},
	StatusStopped:    {StatusRunning, StatusPaused, StatusAutoPaused},
	StatusCompleted:  {StatusRunning},
	StatusFailed:     {StatusRunning},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, f := range transitions[to] {
		if f == from {
			return true
		}
	}
	return false
}

// allowedFrom returns the legal source statuses for entering to.
func allowedFrom(to Status) []Status {
	return transitions[to]
}

// Job is one bulk batch-processing run over a fixed input set.
type Job struct {
	ID             string     `json:"job_id"`
	Type           Type       `json:"type"`
	Status         Status     `json:"status"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Progress is the percentage of processed items, 0 for an empty job.
func (j *Job) Progress() int {
	if j.TotalItems == 0 {
		return 0
	}
	return int(math.Round(float64(j.ProcessedItems) / float64(j.TotalItems) * 100))
}

// WorkItem is one normalized input line within a job. Seq preserves the
// original input order and identifies the item inside its job.
type WorkItem struct {
	JobID    string `json:"job_id"`
	Seq      int    `json:"seq"`
	RawInput string `json:"raw_input"`
	URL      string `json:"url"`
}

// FileCheck is the outcome of fetching one ads.txt / app-ads.txt URL.
type FileCheck struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	ResultText string `json:"result_text"`
	Content    string `json:"content"`
	HasHTML    bool   `json:"has_html"`
	TimeMs     int64  `json:"time_ms"`
}

// OK reports whether the file was served as expected.
func (f *FileCheck) OK() bool { return f != nil && f.StatusCode == 200 }

// ItemResult is the terminal outcome recorded once per WorkItem.
type ItemResult struct {
	JobID             string     `json:"-"`
	ItemSeq           int        `json:"-"`
	OriginalURL       string     `json:"original_url"`
	HomepageURL       string     `json:"homepage_url,omitempty"`
	HomepageDetection string     `json:"homepage_detection,omitempty"`
	Error             string     `json:"error,omitempty"`
	AdsTxt            *FileCheck `json:"ads_txt"`
	AppAdsTxt         *FileCheck `json:"app_ads_txt"`
	CreatedAt         time.Time  `json:"-"`
}

// EventKind tags entries of the job timeline.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventPaused      EventKind = "paused"
	EventResumed     EventKind = "resumed"
	EventAutoPaused  EventKind = "auto_paused"
	EventAutoResumed EventKind = "auto_resumed"
	EventStopped     EventKind = "stopped"
	EventCompleted   EventKind = "completed"
	EventFailed      EventKind = "failed"
	EventProgress    EventKind = "progress"
	EventItemError   EventKind = "item_error"
)

// Event is one append-only timeline entry for a job.
type Event struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// statusEvent maps a successful transition target to its timeline kind.
var statusEvent = map[Status]EventKind{
	StatusPaused:     EventPaused,
	StatusAutoPaused: EventAutoPaused,
	StatusStopped:    EventStopped,
	StatusCompleted:  EventCompleted,
	StatusFailed:     EventFailed,
}

// Stats is the fixed per-category counter set for the ads.txt job type.
type Stats struct {
	AdsSuccess int `json:"ads_success"`
	AdsError   int `json:"ads_error"`
	AppSuccess int `json:"app_success"`
	AppError   int `json:"app_error"`
}

// ListCounts summarizes jobs by lifecycle bucket for the jobs overview.
type ListCounts struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

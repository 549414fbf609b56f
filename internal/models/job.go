package models

import (
	"time"
)

// JobStatus represents the state of a backend job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true when no further job progress will occur.
// Terminal statuses end a tracking session.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType represents the kind of asynchronous backend job being tracked
type JobType string

const (
	JobTypeScrape JobType = "scrape"
	JobTypeCrawl  JobType = "crawl"
	JobTypeSearch JobType = "search"
	JobTypeMap    JobType = "map"
	JobTypeBatch  JobType = "batch"
)

// Job is the client-side view of one asynchronous backend job.
// The backend owns the authoritative state; this struct is rebuilt from
// status fetches and only ever moves forward:
//   - Status never leaves a terminal state
//   - CompletedPages never decreases once observed
type Job struct {
	ID             string    `json:"id"`
	Type           JobType   `json:"type"`
	Status         JobStatus `json:"status"`
	TotalPages     int       `json:"total_pages"`     // Target/estimated item count (0 = unknown)
	CompletedPages int       `json:"completed_pages"` // Items produced so far
	// Error contains a concise, user-friendly description of why the job failed.
	// Only populated when the backend reports status 'failed'.
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Apply merges a freshly fetched job state into the tracked one, enforcing
// monotonicity: transitions out of a terminal status are refused and
// CompletedPages is never allowed to move backwards. Returns true when
// anything changed.
func (j *Job) Apply(update *Job) bool {
	if update == nil {
		return false
	}

	changed := false

	if !j.Status.IsTerminal() && update.Status != "" && update.Status != j.Status {
		j.Status = update.Status
		changed = true
	}
	if update.CompletedPages > j.CompletedPages {
		j.CompletedPages = update.CompletedPages
		changed = true
	}
	if update.TotalPages != j.TotalPages && update.TotalPages > 0 {
		j.TotalPages = update.TotalPages
		changed = true
	}
	if update.Error != "" && update.Error != j.Error {
		j.Error = update.Error
		changed = true
	}
	if !update.StartedAt.IsZero() && j.StartedAt.IsZero() {
		j.StartedAt = update.StartedAt
		changed = true
	}
	if !update.CompletedAt.IsZero() && j.CompletedAt.IsZero() {
		j.CompletedAt = update.CompletedAt
		changed = true
	}

	return changed
}

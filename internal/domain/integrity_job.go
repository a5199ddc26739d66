package domain

import (
	"time"

	"github.com/google/uuid"
)

// IntegrityJobStatus captures lifecycle state for a hierarchy integrity job.
type IntegrityJobStatus string

const (
	IntegrityJobStatusPending   IntegrityJobStatus = "PENDING"
	IntegrityJobStatusRunning   IntegrityJobStatus = "RUNNING"
	IntegrityJobStatusCompleted IntegrityJobStatus = "COMPLETED"
	IntegrityJobStatusFailed    IntegrityJobStatus = "FAILED"
	IntegrityJobStatusCancelled IntegrityJobStatus = "CANCELLED"
)

// Done reports whether the status is terminal.
func (s IntegrityJobStatus) Done() bool {
	switch s {
	case IntegrityJobStatusCompleted, IntegrityJobStatusFailed, IntegrityJobStatusCancelled:
		return true
	}
	return false
}

// IntegrityJob is the persisted state of one integrity run.
type IntegrityJob struct {
	ID           uuid.UUID          `json:"id"`
	EntityType   string             `json:"entityType"`
	Status       IntegrityJobStatus `json:"status"`
	Report       *IntegrityReport   `json:"report,omitempty"`
	ErrorMessage *string            `json:"errorMessage,omitempty"`
	EnqueuedAt   time.Time          `json:"enqueuedAt"`
	StartedAt    *time.Time         `json:"startedAt,omitempty"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// IntegrityReport lists hierarchy defects found by a job.
type IntegrityReport struct {
	Checked         int             `json:"checked"`
	Roots           int             `json:"roots"`
	Orphans         []string        `json:"orphans"`
	Cycles          [][]string      `json:"cycles"`
	LevelMismatches []LevelMismatch `json:"levelMismatches"`
	PathMismatches  []PathMismatch  `json:"pathMismatches"`
}

// Clean reports whether no defect was found.
func (r IntegrityReport) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Cycles) == 0 && len(r.LevelMismatches) == 0 && len(r.PathMismatches) == 0
}

// LevelMismatch is a node whose stored level disagrees with its depth.
type LevelMismatch struct {
	ID       string `json:"id"`
	Stored   int64  `json:"stored"`
	Expected int64  `json:"expected"`
}

// PathMismatch is a node whose stored path disagrees with its parent chain.
type PathMismatch struct {
	ID       string `json:"id"`
	Stored   string `json:"stored"`
	Expected string `json:"expected"`
}

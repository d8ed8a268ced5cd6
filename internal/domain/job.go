package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job. Transitions are monotonic: a
// terminal state is never left.
type JobStatus string

const (
	JobPending       JobStatus = "PENDING"
	JobPendingDigest JobStatus = "PENDING_DIGEST"
	JobReady         JobStatus = "READY"
	JobRunning       JobStatus = "RUNNING"
	JobCompleted     JobStatus = "COMPLETED"
	JobFailed        JobStatus = "FAILED"
	JobCanceled      JobStatus = "CANCELED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobPendingDigest, JobReady, JobRunning, JobCompleted, JobFailed, JobCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further transition.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving to next is a legal step of the job
// state machine. RUNNING may return to READY on a retryable failure.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobPending:
		return next == JobReady || next == JobCanceled
	case JobPendingDigest:
		return next == JobReady || next == JobCanceled
	case JobReady:
		return next == JobRunning || next == JobCanceled
	case JobRunning:
		return next == JobCompleted || next == JobFailed || next == JobReady || next == JobCanceled
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// Job is the scheduled execution unit for one (trigger, step, subscriber)
// tuple. That tuple is the natural key; scheduling a duplicate is a no-op.
type Job struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	TransactionID  string    `gorm:"type:uuid;not null"`
	TemplateID     string    `gorm:"type:uuid;not null"`
	StepIndex      int       `gorm:"not null"`
	SubscriberID   string    `gorm:"type:varchar(64);not null"`
	OrganizationID string    `gorm:"type:varchar(64);not null"`
	EnvironmentID  string    `gorm:"type:varchar(64);not null"`
	Status         JobStatus `gorm:"type:varchar(20);not null"`
	Step           StepSpec  `gorm:"serializer:json;type:jsonb;not null"`
	// PayloadSnapshots holds the trigger payload, or the accumulated payload
	// list of every contributing trigger for a digest job.
	PayloadSnapshots []map[string]any `gorm:"serializer:json;type:jsonb;not null"`
	ScheduledAt      time.Time        `gorm:"not null"`
	// DependsOnPrevious gates eligibility on the previous step's job for the
	// same (transaction, subscriber) reaching a terminal state. Mirrors
	// !Step.Independent so the due scan can filter without unpacking JSON.
	DependsOnPrevious bool `gorm:"not null;default:true"`
	// DigestKey identifies the open aggregation window while the job is
	// PENDING_DIGEST. Empty for non-digest jobs.
	DigestKey    string     `gorm:"type:varchar(512)"`
	AttemptCount int        `gorm:"not null;default:0"`
	NextRetryAt  *time.Time
	ErrorDetail  *string    `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (j *Job) Validate() error {
	if strings.TrimSpace(j.TransactionID) == "" {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if strings.TrimSpace(j.SubscriberID) == "" {
		return fmt.Errorf("%w: subscriber id is required", ErrValidation)
	}
	if j.StepIndex < 0 {
		return fmt.Errorf("%w: step index must not be negative", ErrValidation)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: invalid job status %q", ErrValidation, j.Status)
	}
	return j.Step.Validate()
}

// JobAttempt records a single delivery attempt for a job.
type JobAttempt struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	JobID         string  `gorm:"type:uuid;not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

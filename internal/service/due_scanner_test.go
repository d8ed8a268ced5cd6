package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"go.uber.org/zap"
)

func TestDueScannerPromotesDueJobs(t *testing.T) {
	t.Parallel()

	var publishedQueue string
	var publishedMsg queue.JobMessage
	var transitioned bool

	job := *testJob(domain.JobPending)
	jobs := &fakeJobRepo{
		getDueForScheduleFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
			return []domain.Job{job}, nil
		},
		transitionStatusFn: func(ctx context.Context, id string, from, to domain.JobStatus) error {
			if from != domain.JobPending || to != domain.JobReady {
				t.Fatalf("transition %s -> %s, want PENDING -> READY", from, to)
			}
			transitioned = true
			return nil
		},
	}
	publisher := &fakePublisher{
		publishJobFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			publishedQueue = queueName
			publishedMsg = msg
			return nil
		},
	}

	scanner, err := NewDueScanner(jobs, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDueScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if publishedQueue != "email" {
		t.Fatalf("queue = %q, want email", publishedQueue)
	}
	if publishedMsg.JobID != job.ID {
		t.Fatalf("published job id = %q, want %q", publishedMsg.JobID, job.ID)
	}
	if !transitioned {
		t.Fatal("job should be marked READY")
	}
}

func TestDueScannerPublishFailureLeavesJobPending(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		getDueForScheduleFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
			return []domain.Job{*testJob(domain.JobPending)}, nil
		},
		transitionStatusFn: func(ctx context.Context, id string, from, to domain.JobStatus) error {
			t.Fatal("job must stay PENDING when publish fails")
			return nil
		},
	}
	publisher := &fakePublisher{
		publishJobFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			return errors.New("broker unavailable")
		},
	}

	scanner, err := NewDueScanner(jobs, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDueScanner() error = %v", err)
	}

	// Per-job failures are logged, not returned; the next tick retries.
	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
}

func TestDueScannerConflictOnReadyMarkIsTolerated(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		getDueForScheduleFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
			return []domain.Job{*testJob(domain.JobPending)}, nil
		},
		transitionStatusFn: func(ctx context.Context, id string, from, to domain.JobStatus) error {
			return domain.ErrConflict
		},
	}

	scanner, err := NewDueScanner(jobs, &fakePublisher{}, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDueScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
}

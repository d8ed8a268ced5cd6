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

func TestRetryScannerEnqueuesDueRetries(t *testing.T) {
	t.Parallel()

	var published []queue.JobMessage
	var cleared []string

	job := *testJob(domain.JobReady)
	retryAt := time.Unix(1_700_000_000, 0)
	job.NextRetryAt = &retryAt

	jobs := &fakeJobRepo{
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
			return []domain.Job{job}, nil
		},
		clearNextRetryAtFn: func(ctx context.Context, id string) error {
			cleared = append(cleared, id)
			return nil
		},
	}
	publisher := &fakePublisher{
		publishJobFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			if queueName != "email" {
				t.Fatalf("queue = %q, want email", queueName)
			}
			published = append(published, msg)
			return nil
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if len(published) != 1 || published[0].JobID != job.ID {
		t.Fatalf("published = %+v, want job %q", published, job.ID)
	}
	if len(cleared) != 1 || cleared[0] != job.ID {
		t.Fatalf("cleared = %+v, want %q", cleared, job.ID)
	}
}

func TestRetryScannerPublishFailureKeepsRetryTimestamp(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
			return []domain.Job{*testJob(domain.JobReady)}, nil
		},
		clearNextRetryAtFn: func(ctx context.Context, id string) error {
			t.Fatal("retry timestamp must survive a failed publish")
			return nil
		},
	}
	publisher := &fakePublisher{
		publishJobFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			return errors.New("broker unavailable")
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
}

func TestRetryScannerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		getDueForRetryFn: func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
			return nil, nil
		},
	}

	scanner, err := NewRetryScanner(jobs, &fakePublisher{}, 10*time.Millisecond, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scanner.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop after cancellation")
	}
}

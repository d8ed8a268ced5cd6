package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
)

// RetryScanner periodically re-enqueues READY jobs whose retry backoff has
// elapsed.
type RetryScanner struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewRetryScanner(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	dueJobs, err := s.jobs.GetDueForRetry(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range dueJobs {
		job := dueJobs[i]
		msg := queue.JobMessage{
			JobID:         job.ID,
			TransactionID: job.TransactionID,
			Channel:       job.Step.Channel,
		}

		queueName := queue.QueueName(job.Step.Channel)
		if err := s.publisher.PublishJob(ctx, queueName, msg); err != nil {
			s.logger.Error("failed to enqueue retry job",
				zap.String("jobId", job.ID),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			continue
		}

		if err := s.jobs.ClearNextRetryAt(ctx, job.ID); err != nil {
			s.logger.Error("failed to clear next retry timestamp after enqueue",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}

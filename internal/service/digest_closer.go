package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
)

// DigestCloser periodically closes expired digest windows: the PENDING_DIGEST
// job becomes READY and is enqueued carrying every merged payload. Closing
// runs under the same window lock the scheduler appends under, so a late
// trigger either lands in the window before it closes or opens a new one.
type DigestCloser struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	locks     WindowLock
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewDigestCloser(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	locks WindowLock,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*DigestCloser, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("digest lock is required")
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

	return &DigestCloser{
		jobs:      jobs,
		publisher: publisher,
		locks:     locks,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *DigestCloser) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("digest closer initial scan failed", zap.Error(err))
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
				s.logger.Error("digest closer scan failed", zap.Error(err))
			}
		}
	}
}

func (s *DigestCloser) scanDue(ctx context.Context) error {
	dueWindows, err := s.jobs.GetDueDigests(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due digest windows: %w", err)
	}

	for i := range dueWindows {
		job := dueWindows[i]
		if err := s.closeWindow(ctx, &job); err != nil {
			s.logger.Error("failed to close digest window",
				zap.String("jobId", job.ID),
				zap.String("digestKey", job.DigestKey),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *DigestCloser) closeWindow(ctx context.Context, job *domain.Job) error {
	return s.locks.WithLock(ctx, job.DigestKey, func(ctx context.Context) error {
		msg := queue.JobMessage{
			JobID:         job.ID,
			TransactionID: job.TransactionID,
			Channel:       job.Step.Channel,
		}

		queueName := queue.QueueName(job.Step.Channel)
		if err := s.publisher.PublishJob(ctx, queueName, msg); err != nil {
			return fmt.Errorf("failed to enqueue digest job on %q: %w", queueName, err)
		}

		err := s.jobs.TransitionStatus(ctx, job.ID, domain.JobPendingDigest, domain.JobReady)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Info("digest window status changed before close",
				zap.String("jobId", job.ID),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to mark digest job ready: %w", err)
		}

		s.logger.Info("digest window closed",
			zap.String("jobId", job.ID),
			zap.String("digestKey", job.DigestKey),
			zap.Int("mergedTriggers", len(job.PayloadSnapshots)),
		)
		return nil
	})
}

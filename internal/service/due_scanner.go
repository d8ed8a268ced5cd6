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

const (
	defaultScanInterval = 5 * time.Second
	defaultScanLimit    = 100
)

// DueScanner periodically promotes due PENDING jobs to READY and enqueues
// them on their channel queue. Jobs that depend on an earlier step stay
// invisible to the scan until that step reaches a terminal state.
type DueScanner struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewDueScanner(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*DueScanner, error) {
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

	return &DueScanner{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *DueScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due jobs do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("due scanner initial scan failed", zap.Error(err))
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
				s.logger.Error("due scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *DueScanner) scanDue(ctx context.Context) error {
	dueJobs, err := s.jobs.GetDueForSchedule(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due jobs: %w", err)
	}

	for i := range dueJobs {
		job := dueJobs[i]
		if err := s.promote(ctx, &job); err != nil {
			s.logger.Error("failed to promote due job",
				zap.String("jobId", job.ID),
				zap.String("transactionId", job.TransactionID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *DueScanner) promote(ctx context.Context, job *domain.Job) error {
	msg := queue.JobMessage{
		JobID:         job.ID,
		TransactionID: job.TransactionID,
		Channel:       job.Step.Channel,
	}

	queueName := queue.QueueName(job.Step.Channel)
	if err := s.publisher.PublishJob(ctx, queueName, msg); err != nil {
		return fmt.Errorf("failed to enqueue job on %q: %w", queueName, err)
	}

	err := s.jobs.TransitionStatus(ctx, job.ID, domain.JobPending, domain.JobReady)
	if errors.Is(err, domain.ErrConflict) {
		// Canceled or claimed between scan and transition; the processor's own
		// compare-and-swap makes the stale queue message harmless.
		s.logger.Info("job status changed before ready mark",
			zap.String("jobId", job.ID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark job ready: %w", err)
	}
	return nil
}

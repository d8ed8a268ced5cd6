package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/observability"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
)

// WindowLock serializes the open/append/close critical section of one digest
// aggregation window across workers.
type WindowLock interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Scheduler materializes jobs for resolved (trigger, step, subscriber) tuples.
// Delay steps are stored with a future scheduled time; digest steps open or
// join an aggregation window guarded by a distributed lock.
type Scheduler struct {
	jobs    repository.JobRepository
	locks   WindowLock
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewScheduler(
	jobs repository.JobRepository,
	locks WindowLock,
	logger *zap.Logger,
) (*Scheduler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("digest lock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		jobs:   jobs,
		locks:  locks,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// ScheduleStep creates the job for one step of one subscriber, or merges the
// trigger payload into an already open digest window.
func (s *Scheduler) ScheduleStep(
	ctx context.Context,
	trigger *domain.Trigger,
	stepIndex int,
	step domain.StepSpec,
	subscriberID string,
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if trigger == nil {
		return fmt.Errorf("%w: trigger is required", domain.ErrValidation)
	}

	if step.Digest != nil {
		return s.scheduleDigest(ctx, trigger, stepIndex, step, subscriberID)
	}

	scheduledAt := trigger.TriggeredAt
	if step.Delay != nil {
		scheduledAt = scheduledAt.Add(step.Delay.Duration())
	}

	job := s.buildJob(trigger, stepIndex, step, subscriberID, domain.JobPending, scheduledAt, "")
	_, created, err := s.jobs.CreateOrGet(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if !created {
		s.logger.Debug("job already scheduled for tuple",
			zap.String("transactionId", trigger.TransactionID),
			zap.Int("stepIndex", stepIndex),
			zap.String("subscriberId", subscriberID),
		)
	}
	return nil
}

// scheduleDigest runs the open-or-append decision under the window lock so
// two workers cannot open competing windows for the same key.
func (s *Scheduler) scheduleDigest(
	ctx context.Context,
	trigger *domain.Trigger,
	stepIndex int,
	step domain.StepSpec,
	subscriberID string,
) error {
	digestKey := DigestKey(trigger, stepIndex, step, subscriberID)

	return s.locks.WithLock(ctx, digestKey, func(ctx context.Context) error {
		open, err := s.jobs.GetOpenDigest(ctx, digestKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to look up open digest window: %w", err)
		}

		if err == nil {
			if appendErr := s.jobs.AppendDigestPayload(ctx, open.ID, trigger.Payload); appendErr != nil {
				// The window closed between lookup and append; fall through to
				// opening a fresh one.
				if !errors.Is(appendErr, domain.ErrConflict) {
					return fmt.Errorf("failed to append digest payload: %w", appendErr)
				}
			} else {
				s.metrics.IncDigestMerged(strings.ToLower(step.Channel.String()))
				s.logger.Info("trigger merged into open digest window",
					zap.String("transactionId", trigger.TransactionID),
					zap.String("digestKey", digestKey),
				)
				return nil
			}
		}

		scheduledAt := trigger.TriggeredAt.Add(step.Digest.Window())
		job := s.buildJob(trigger, stepIndex, step, subscriberID, domain.JobPendingDigest, scheduledAt, digestKey)
		if _, _, err := s.jobs.CreateOrGet(ctx, job); err != nil {
			return fmt.Errorf("failed to open digest window: %w", err)
		}
		return nil
	})
}

func (s *Scheduler) buildJob(
	trigger *domain.Trigger,
	stepIndex int,
	step domain.StepSpec,
	subscriberID string,
	status domain.JobStatus,
	scheduledAt time.Time,
	digestKey string,
) *domain.Job {
	now := s.now().UTC()
	return &domain.Job{
		ID:                uuid.NewString(),
		TransactionID:     trigger.TransactionID,
		TemplateID:        trigger.TemplateID,
		StepIndex:         stepIndex,
		SubscriberID:      subscriberID,
		OrganizationID:    trigger.OrganizationID,
		EnvironmentID:     trigger.EnvironmentID,
		Status:            status,
		Step:              step,
		PayloadSnapshots:  []map[string]any{trigger.Payload},
		ScheduledAt:       scheduledAt.UTC(),
		DependsOnPrevious: !step.Independent,
		DigestKey:         digestKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// DigestKey identifies one aggregation window. Triggers sharing the template
// step, subscriber, and aggregation key value land in the same window.
func DigestKey(trigger *domain.Trigger, stepIndex int, step domain.StepSpec, subscriberID string) string {
	var aggValue any
	if step.Digest != nil {
		aggValue = trigger.Payload[step.Digest.AggregationKey]
	}
	return fmt.Sprintf("%s:%s:%d:%s:%v",
		trigger.EnvironmentID,
		trigger.TemplateID,
		stepIndex,
		subscriberID,
		aggValue,
	)
}

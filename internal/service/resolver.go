package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/observability"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
)

// Resolver expands accepted triggers into jobs: it loads the workflow
// template, expands subscriber and topic targets, evaluates step filters per
// recipient, and hands every surviving (step, subscriber) pair to the
// scheduler.
type Resolver struct {
	triggers    repository.TriggerRepository
	templates   repository.TemplateRepository
	subscribers repository.SubscriberRepository
	scheduler   *Scheduler
	consumer    queue.Consumer
	logger      *zap.Logger
}

func NewResolver(
	triggers repository.TriggerRepository,
	templates repository.TemplateRepository,
	subscribers repository.SubscriberRepository,
	scheduler *Scheduler,
	consumer queue.Consumer,
	logger *zap.Logger,
) (*Resolver, error) {
	if triggers == nil {
		return nil, fmt.Errorf("trigger repository is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if subscribers == nil {
		return nil, fmt.Errorf("subscriber repository is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		triggers:    triggers,
		templates:   templates,
		subscribers: subscribers,
		scheduler:   scheduler,
		consumer:    consumer,
		logger:      logger,
	}, nil
}

// Start consumes the trigger queue until context cancellation.
func (r *Resolver) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.consumer.ConsumeTriggers(ctx, r.handleTrigger)
}

func (r *Resolver) handleTrigger(ctx context.Context, msg queue.TriggerMessage) error {
	ctx = observability.WithTransactionID(ctx, msg.TransactionID)
	logger := r.logger.With(zap.String("transactionId", msg.TransactionID))

	trigger, err := r.triggers.GetByTransactionID(ctx, msg.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("trigger not found during resolution, skipping")
			return nil
		}
		return fmt.Errorf("failed to load trigger: %w", err)
	}

	template, err := r.templates.GetByID(ctx, trigger.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("template no longer exists, skipping trigger",
				zap.String("templateId", trigger.TemplateID),
			)
			return nil
		}
		return fmt.Errorf("failed to load template: %w", err)
	}
	if !template.Enabled {
		logger.Info("template disabled after acceptance, skipping trigger",
			zap.String("templateId", template.ID),
		)
		return nil
	}

	subscriberIDs, err := r.expandTargets(ctx, trigger)
	if err != nil {
		return err
	}
	if len(subscriberIDs) == 0 {
		logger.Warn("trigger resolved to no recipients")
		return nil
	}

	scheduled := 0
	for _, subscriberID := range subscriberIDs {
		subscriber, err := r.subscribers.GetByID(ctx, trigger.OrganizationID, trigger.EnvironmentID, subscriberID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logger.Warn("unknown subscriber target, skipping",
					zap.String("subscriberId", subscriberID),
				)
				continue
			}
			return fmt.Errorf("failed to load subscriber %q: %w", subscriberID, err)
		}

		filterCtx := filterContext(trigger.Payload, subscriber)
		for stepIndex, step := range template.Steps {
			if !step.MatchesFilters(filterCtx) {
				logger.Debug("step filtered out for subscriber",
					zap.Int("stepIndex", stepIndex),
					zap.String("subscriberId", subscriberID),
				)
				continue
			}

			if err := r.scheduler.ScheduleStep(ctx, trigger, stepIndex, step, subscriberID); err != nil {
				return fmt.Errorf("failed to schedule step %d for subscriber %q: %w", stepIndex, subscriberID, err)
			}
			scheduled++
		}
	}

	logger.Info("trigger resolved",
		zap.Int("recipients", len(subscriberIDs)),
		zap.Int("jobsScheduled", scheduled),
	)
	return nil
}

// expandTargets flattens subscriber and topic targets into a deduplicated,
// order-preserving list of subscriber ids. Topic membership is read here, at
// resolution time, not at trigger acceptance.
func (r *Resolver) expandTargets(ctx context.Context, trigger *domain.Trigger) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string

	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, target := range trigger.Targets {
		switch target.Type {
		case domain.TargetSubscriber:
			add(target.ID)
		case domain.TargetTopic:
			members, err := r.subscribers.GetByTopic(ctx, trigger.OrganizationID, trigger.EnvironmentID, target.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to expand topic %q: %w", target.ID, err)
			}
			for _, member := range members {
				add(member.ID)
			}
		default:
			return nil, fmt.Errorf("%w: unknown target type %q", domain.ErrValidation, target.Type)
		}
	}
	return ids, nil
}

// filterContext merges the trigger payload and the subscriber profile into
// one lookup map for step filter evaluation. Payload fields keep their names;
// subscriber fields carry the subscriber. prefix.
func filterContext(payload map[string]any, subscriber *domain.Subscriber) map[string]any {
	merged := make(map[string]any, len(payload))
	for key, value := range payload {
		merged[key] = value
	}
	for key, value := range subscriber.Context() {
		merged[key] = value
	}
	return merged
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/observability"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
)

// MessageService exposes the delivery record store: lookup by transaction and
// GDPR-style removal of everything a transaction produced.
type MessageService struct {
	messages repository.MessageRepository
	jobs     repository.JobRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewMessageService(
	messages repository.MessageRepository,
	jobs repository.JobRepository,
	logger *zap.Logger,
) (*MessageService, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MessageService{
		messages: messages,
		jobs:     jobs,
		logger:   logger,
	}, nil
}

func (s *MessageService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *MessageService) Find(ctx context.Context, filter repository.MessageFilter) ([]domain.Message, error) {
	if err := validateMessageFilter(filter); err != nil {
		return nil, err
	}
	return s.messages.Find(ctx, filter)
}

// DeleteByTransaction removes every message of the transaction and cancels
// its jobs that have not yet reached a terminal state, so in-flight steps do
// not recreate what was just deleted. A job already mid-send may still write
// its message after the fact; that remainder is picked up by a repeat call.
func (s *MessageService) DeleteByTransaction(ctx context.Context, filter repository.MessageFilter) (int64, error) {
	if err := validateMessageFilter(filter); err != nil {
		return 0, err
	}
	ctx = observability.WithTransactionID(ctx, filter.TransactionID)

	var channel *domain.Channel
	if filter.Channel != nil {
		value := *filter.Channel
		channel = &value
	}

	canceled, err := s.jobs.CancelByTransaction(ctx, filter.TransactionID, channel)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs for transaction: %w", err)
	}

	deleted, err := s.messages.DeleteByTransaction(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages for transaction: %w", err)
	}

	if deleted == 0 && canceled == 0 {
		return 0, domain.ErrNotFound
	}

	channelLabel := "all"
	if filter.Channel != nil {
		channelLabel = strings.ToLower(filter.Channel.String())
	}
	s.metrics.AddMessagesDeleted(channelLabel, int(deleted))
	s.logger.Info("transaction messages deleted",
		zap.String("transactionId", filter.TransactionID),
		zap.Int64("messagesDeleted", deleted),
		zap.Int64("jobsCanceled", canceled),
	)
	return deleted, nil
}

func validateMessageFilter(filter repository.MessageFilter) error {
	if strings.TrimSpace(filter.OrganizationID) == "" {
		return fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(filter.EnvironmentID) == "" {
		return fmt.Errorf("%w: environment id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(filter.TransactionID) == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrValidation)
	}
	return nil
}

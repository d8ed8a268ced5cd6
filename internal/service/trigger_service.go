package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/observability"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
)

// TriggerRequest is one workflow execution request as accepted at the API
// edge. TransactionID is optional; when the caller supplies one, repeated
// submissions with the same id are deduplicated.
type TriggerRequest struct {
	OrganizationID    string
	EnvironmentID     string
	TriggerIdentifier string
	TransactionID     string
	Payload           map[string]any
	Targets           []domain.SubscriberTarget
}

// TriggerService validates and persists trigger requests, then hands them to
// the resolver through the trigger queue.
type TriggerService struct {
	templates repository.TemplateRepository
	triggers  repository.TriggerRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewTriggerService(
	templates repository.TemplateRepository,
	triggers repository.TriggerRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*TriggerService, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if triggers == nil {
		return nil, fmt.Errorf("trigger repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TriggerService{
		templates: templates,
		triggers:  triggers,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *TriggerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Accept validates the request against the workflow template, persists the
// trigger, and enqueues it for resolution. The returned transaction id is the
// handle for every job and message the trigger produces.
func (s *TriggerService) Accept(ctx context.Context, req TriggerRequest) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(req.OrganizationID) == "" {
		return "", fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.EnvironmentID) == "" {
		return "", fmt.Errorf("%w: environment id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.TriggerIdentifier) == "" {
		return "", fmt.Errorf("%w: trigger identifier is required", domain.ErrValidation)
	}

	template, err := s.templates.GetByTriggerIdentifier(ctx, req.OrganizationID, req.EnvironmentID, req.TriggerIdentifier)
	if err != nil {
		return "", err
	}
	if !template.Enabled {
		return "", fmt.Errorf("%w: template %q is disabled", domain.ErrValidation, req.TriggerIdentifier)
	}

	if err := validatePayloadVariables(template, req.Payload); err != nil {
		return "", err
	}

	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		transactionID = uuid.NewString()
	}

	trigger := &domain.Trigger{
		TransactionID:  transactionID,
		TemplateID:     template.ID,
		OrganizationID: req.OrganizationID,
		EnvironmentID:  req.EnvironmentID,
		Payload:        req.Payload,
		Targets:        req.Targets,
		TriggeredAt:    s.now().UTC(),
	}
	if err := trigger.Validate(); err != nil {
		return "", err
	}

	logger := s.logger.With(zap.String("transactionId", transactionID))
	ctx = observability.WithTransactionID(ctx, transactionID)

	created, err := s.triggers.Create(ctx, trigger)
	if err != nil {
		return "", fmt.Errorf("failed to persist trigger: %w", err)
	}
	if !created {
		logger.Info("duplicate transaction id, returning existing trigger")
		return transactionID, nil
	}

	if err := s.publisher.PublishTrigger(ctx, queue.TriggerMessage{TransactionID: transactionID}); err != nil {
		logger.Error("failed to publish trigger", zap.Error(err))
		return "", fmt.Errorf("failed to publish trigger: %w", err)
	}

	s.metrics.IncTriggerAccepted()
	logger.Info("trigger accepted",
		zap.String("templateId", template.ID),
		zap.Int("targets", len(req.Targets)),
	)
	return transactionID, nil
}

// validatePayloadVariables rejects triggers whose payload is missing a
// variable referenced by any step content template.
func validatePayloadVariables(template *domain.Template, payload map[string]any) error {
	var missing []string
	for _, name := range template.RequiredVariables() {
		if _, ok := payload[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: payload is missing variables: %s", domain.ErrInvalidPayload, strings.Join(missing, ", "))
	}
	return nil
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/service"
)

const (
	organizationHeader = "X-Organization-ID"
	environmentHeader  = "X-Environment-ID"
)

type TriggerService interface {
	Accept(ctx context.Context, req service.TriggerRequest) (string, error)
}

type TriggerHandler struct {
	service TriggerService
}

func NewTriggerHandler(service TriggerService) (*TriggerHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("trigger service is required")
	}
	return &TriggerHandler{service: service}, nil
}

func RegisterTriggerRoutes(router fiber.Router, service TriggerService) error {
	h, err := NewTriggerHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/events/trigger/:identifier", h.TriggerEvent)

	return nil
}

type triggerTargetItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type triggerEventRequest struct {
	TransactionID string              `json:"transactionId"`
	Payload       map[string]any      `json:"payload"`
	To            []triggerTargetItem `json:"to"`
}

type triggerEventResponse struct {
	TransactionID string `json:"transactionId"`
}

func (h *TriggerHandler) TriggerEvent(c *fiber.Ctx) error {
	organizationID, environmentID, err := tenantHeaders(c)
	if err != nil {
		return err
	}

	var req triggerEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	targets := make([]domain.SubscriberTarget, 0, len(req.To))
	for _, item := range req.To {
		targetType := domain.TargetType(strings.ToUpper(strings.TrimSpace(item.Type)))
		if item.Type == "" {
			targetType = domain.TargetSubscriber
		}
		targets = append(targets, domain.SubscriberTarget{
			Type: targetType,
			ID:   strings.TrimSpace(item.ID),
		})
	}

	transactionID, err := h.service.Accept(c.Context(), service.TriggerRequest{
		OrganizationID:    organizationID,
		EnvironmentID:     environmentID,
		TriggerIdentifier: strings.TrimSpace(c.Params("identifier")),
		TransactionID:     strings.TrimSpace(req.TransactionID),
		Payload:           req.Payload,
		Targets:           targets,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(triggerEventResponse{
		TransactionID: transactionID,
	})
}

func tenantHeaders(c *fiber.Ctx) (string, string, error) {
	organizationID := strings.TrimSpace(c.Get(organizationHeader))
	if organizationID == "" {
		return "", "", fiber.NewError(fiber.StatusBadRequest, organizationHeader+" header is required")
	}
	environmentID := strings.TrimSpace(c.Get(environmentHeader))
	if environmentID == "" {
		return "", "", fiber.NewError(fiber.StatusBadRequest, environmentHeader+" header is required")
	}
	return organizationID, environmentID, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidPayload):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}

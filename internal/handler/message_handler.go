package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
)

type MessageService interface {
	Find(ctx context.Context, filter repository.MessageFilter) ([]domain.Message, error)
	DeleteByTransaction(ctx context.Context, filter repository.MessageFilter) (int64, error)
}

type MessageHandler struct {
	service MessageService
}

func NewMessageHandler(service MessageService) (*MessageHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("message service is required")
	}
	return &MessageHandler{service: service}, nil
}

func RegisterMessageRoutes(router fiber.Router, service MessageService) error {
	h, err := NewMessageHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/messages", h.ListMessages)
	v1.Delete("/messages", h.DeleteMessages)
	// Alias for callers addressing the transaction as a resource.
	v1.Delete("/messages/transaction/:transactionId", h.DeleteByTransaction)

	return nil
}

type messageResponse struct {
	ID                string    `json:"id"`
	TransactionID     string    `json:"transactionId"`
	JobID             string    `json:"jobId"`
	SubscriberID      string    `json:"subscriberId"`
	Channel           string    `json:"channel"`
	ProviderID        string    `json:"providerId"`
	Content           string    `json:"content"`
	DeliveryStatus    string    `json:"deliveryStatus"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	ErrorDetail       *string   `json:"errorDetail,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type listMessagesResponse struct {
	Data []messageResponse `json:"data"`
}

type deleteMessagesResponse struct {
	TransactionID string `json:"transactionId"`
	Count         int64  `json:"count"`
}

func (h *MessageHandler) ListMessages(c *fiber.Ctx) error {
	filter, err := messageFilterFromRequest(c, strings.TrimSpace(c.Query("transactionId")))
	if err != nil {
		return err
	}

	messages, err := h.service.Find(c.Context(), filter)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]messageResponse, 0, len(messages))
	for i := range messages {
		data = append(data, toMessageResponse(&messages[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listMessagesResponse{Data: data})
}

func (h *MessageHandler) DeleteMessages(c *fiber.Ctx) error {
	return h.deleteByTransaction(c, strings.TrimSpace(c.Query("transactionId")))
}

func (h *MessageHandler) DeleteByTransaction(c *fiber.Ctx) error {
	return h.deleteByTransaction(c, strings.TrimSpace(c.Params("transactionId")))
}

func (h *MessageHandler) deleteByTransaction(c *fiber.Ctx, transactionID string) error {
	filter, err := messageFilterFromRequest(c, transactionID)
	if err != nil {
		return err
	}

	count, err := h.service.DeleteByTransaction(c.Context(), filter)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(deleteMessagesResponse{
		TransactionID: transactionID,
		Count:         count,
	})
}

func messageFilterFromRequest(c *fiber.Ctx, transactionID string) (repository.MessageFilter, error) {
	organizationID, environmentID, err := tenantHeaders(c)
	if err != nil {
		return repository.MessageFilter{}, err
	}
	if transactionID == "" {
		return repository.MessageFilter{}, fiber.NewError(fiber.StatusBadRequest, "transactionId is required")
	}

	filter := repository.MessageFilter{
		OrganizationID: organizationID,
		EnvironmentID:  environmentID,
		TransactionID:  transactionID,
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.MessageFilter{}, toHTTPError(err)
		}
		filter.Channel = &channel
	}

	return filter, nil
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:                m.ID,
		TransactionID:     m.TransactionID,
		JobID:             m.JobID,
		SubscriberID:      m.SubscriberID,
		Channel:           m.Channel.String(),
		ProviderID:        m.ProviderID,
		Content:           m.Content,
		DeliveryStatus:    m.DeliveryStatus.String(),
		ProviderMessageID: m.ProviderMessageID,
		ErrorDetail:       m.ErrorDetail,
		CreatedAt:         m.CreatedAt,
	}
}

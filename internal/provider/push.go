package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

const (
	FCMProviderID      = "fcm"
	defaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"
)

type fcmNotification struct {
	Body string `json:"body"`
}

type fcmRequest struct {
	To           string          `json:"to"`
	Notification fcmNotification `json:"notification"`
}

// FCMAdapter delivers push notifications through Firebase Cloud Messaging.
type FCMAdapter struct {
	client    *resty.Client
	endpoint  string
	serverKey string
}

func NewFCMAdapter(credential domain.ProviderCredential) (Adapter, error) {
	serverKey := strings.TrimSpace(credential.Config["serverKey"])
	if serverKey == "" {
		return nil, fmt.Errorf("%w: fcm serverKey is required", domain.ErrValidation)
	}

	endpoint := strings.TrimSpace(credential.Config["endpoint"])
	if endpoint == "" {
		endpoint = defaultFCMEndpoint
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &FCMAdapter{
		client:    client,
		endpoint:  endpoint,
		serverKey: serverKey,
	}, nil
}

func (a *FCMAdapter) Send(ctx context.Context, content RenderedContent) (*Receipt, error) {
	token := strings.TrimSpace(content.Subscriber.PushToken)
	if token == "" {
		return nil, &ProviderError{
			Message:   "subscriber has no push token",
			Transient: false,
		}
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "key="+a.serverKey).
		SetHeader("Content-Type", "application/json").
		SetBody(fcmRequest{
			To:           token,
			Notification: fcmNotification{Body: content.Content},
		}).
		Post(a.endpoint)

	return classifyResponse(response, err, "X-Request-Id")
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

const (
	SendgridProviderID      = "sendgrid"
	defaultSendgridEndpoint = "https://api.sendgrid.com/v3/mail/send"
	defaultSendTimeout      = 10 * time.Second
)

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
}

type sendgridAddress struct {
	Email string `json:"email"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridRequest struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

// SendgridAdapter delivers email through the SendGrid v3 mail send API.
type SendgridAdapter struct {
	client    *resty.Client
	endpoint  string
	apiKey    string
	fromEmail string
	subject   string
}

func NewSendgridAdapter(credential domain.ProviderCredential) (Adapter, error) {
	apiKey := strings.TrimSpace(credential.Config["apiKey"])
	if apiKey == "" {
		return nil, fmt.Errorf("%w: sendgrid apiKey is required", domain.ErrValidation)
	}
	fromEmail := strings.TrimSpace(credential.Config["from"])
	if fromEmail == "" {
		return nil, fmt.Errorf("%w: sendgrid from address is required", domain.ErrValidation)
	}

	endpoint := strings.TrimSpace(credential.Config["endpoint"])
	if endpoint == "" {
		endpoint = defaultSendgridEndpoint
	}
	subject := strings.TrimSpace(credential.Config["subject"])
	if subject == "" {
		subject = "Notification"
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &SendgridAdapter{
		client:    client,
		endpoint:  endpoint,
		apiKey:    apiKey,
		fromEmail: fromEmail,
		subject:   subject,
	}, nil
}

func (a *SendgridAdapter) Send(ctx context.Context, content RenderedContent) (*Receipt, error) {
	recipient := strings.TrimSpace(content.Subscriber.Email)
	if recipient == "" {
		return nil, &ProviderError{
			Message:   "subscriber has no email address",
			Transient: false,
		}
	}

	body := sendgridRequest{
		Personalizations: []sendgridPersonalization{{To: []sendgridAddress{{Email: recipient}}}},
		From:             sendgridAddress{Email: a.fromEmail},
		Subject:          a.subject,
		Content:          []sendgridContent{{Type: "text/plain", Value: content.Content}},
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+a.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(a.endpoint)

	return classifyResponse(response, err, "X-Message-Id")
}

// classifyResponse maps a resty result into a receipt or a classified
// provider error.
func classifyResponse(response *resty.Response, err error, messageIDHeader string) (*Receipt, error) {
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		messageID := ""
		if messageIDHeader != "" {
			messageID = strings.TrimSpace(response.Header().Get(messageIDHeader))
		}
		return &Receipt{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  messageID,
		}, nil
	}

	return nil, httpStatusError(statusCode, responseBody)
}

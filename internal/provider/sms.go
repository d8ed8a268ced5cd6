package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

const (
	TwilioProviderID    = "twilio"
	twilioEndpointShape = "https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json"
)

// TwilioAdapter delivers SMS through the Twilio messages API.
type TwilioAdapter struct {
	client     *resty.Client
	endpoint   string
	accountSID string
	authToken  string
	fromNumber string
}

func NewTwilioAdapter(credential domain.ProviderCredential) (Adapter, error) {
	accountSID := strings.TrimSpace(credential.Config["accountSid"])
	authToken := strings.TrimSpace(credential.Config["authToken"])
	fromNumber := strings.TrimSpace(credential.Config["from"])
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("%w: twilio accountSid and authToken are required", domain.ErrValidation)
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("%w: twilio from number is required", domain.ErrValidation)
	}

	endpoint := strings.TrimSpace(credential.Config["endpoint"])
	if endpoint == "" {
		endpoint = fmt.Sprintf(twilioEndpointShape, accountSID)
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &TwilioAdapter{
		client:     client,
		endpoint:   endpoint,
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
	}, nil
}

func (a *TwilioAdapter) Send(ctx context.Context, content RenderedContent) (*Receipt, error) {
	recipient := strings.TrimSpace(content.Subscriber.Phone)
	if recipient == "" {
		return nil, &ProviderError{
			Message:   "subscriber has no phone number",
			Transient: false,
		}
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetBasicAuth(a.accountSID, a.authToken).
		SetFormData(map[string]string{
			"To":   recipient,
			"From": a.fromNumber,
			"Body": content.Content,
		}).
		Post(a.endpoint)

	return classifyResponse(response, err, "Twilio-Request-Id")
}

package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

const MattermostProviderID = "mattermost"

type mattermostRequest struct {
	Text string `json:"text"`
}

// MattermostAdapter posts chat messages to a Mattermost incoming webhook.
type MattermostAdapter struct {
	client     *resty.Client
	webhookURL string
}

func NewMattermostAdapter(credential domain.ProviderCredential) (Adapter, error) {
	webhookURL := strings.TrimSpace(credential.Config["webhookUrl"])
	if webhookURL == "" {
		return nil, fmt.Errorf("%w: mattermost webhookUrl is required", domain.ErrValidation)
	}
	if _, err := url.ParseRequestURI(webhookURL); err != nil {
		return nil, fmt.Errorf("%w: invalid mattermost webhookUrl: %v", domain.ErrValidation, err)
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &MattermostAdapter{
		client:     client,
		webhookURL: webhookURL,
	}, nil
}

func (a *MattermostAdapter) Send(ctx context.Context, content RenderedContent) (*Receipt, error) {
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(mattermostRequest{Text: content.Content}).
		Post(a.webhookURL)

	return classifyResponse(response, err, "X-Request-Id")
}

package provider

import (
	"context"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

// RenderedContent is the provider-addressed artifact handed to an adapter.
type RenderedContent struct {
	TransactionID string
	Channel       domain.Channel
	Subscriber    domain.Subscriber
	Content       string
}

// Receipt stores provider call metadata for audit and persistence.
type Receipt struct {
	StatusCode int
	Body       string
	MessageID  string
}

// Adapter is the outbound delivery port. One implementation per vendor;
// constructing an adapter binds it to one credential, after which it is
// stateless and safe to share across jobs.
type Adapter interface {
	Send(ctx context.Context, content RenderedContent) (*Receipt, error)
}

// Factory builds an adapter bound to an organization's credential.
type Factory func(credential domain.ProviderCredential) (Adapter, error)

package provider

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

const InAppProviderID = "inapp"

// InAppAdapter delivers in-app notifications. The persisted message record is
// the delivery artifact itself, so there is no external call to make; the
// adapter only mints a delivery receipt.
type InAppAdapter struct{}

func NewInAppAdapter(domain.ProviderCredential) (Adapter, error) {
	return &InAppAdapter{}, nil
}

func (a *InAppAdapter) Send(ctx context.Context, content RenderedContent) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Receipt{
		StatusCode: http.StatusOK,
		MessageID:  uuid.NewString(),
	}, nil
}

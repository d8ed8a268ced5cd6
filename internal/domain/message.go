package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the terminal outcome recorded on a message.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "SENT"
	DeliveryFailed DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// Message is the rendered, provider-addressed artifact of one job. A job
// produces at most one message; digest jobs produce one message covering
// every contributing trigger payload.
type Message struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	TransactionID     string         `gorm:"type:uuid;not null"`
	JobID             string         `gorm:"type:uuid;not null"`
	OrganizationID    string         `gorm:"type:varchar(64);not null"`
	EnvironmentID     string         `gorm:"type:varchar(64);not null"`
	SubscriberID      string         `gorm:"type:varchar(64);not null"`
	Channel           Channel        `gorm:"type:varchar(10);not null"`
	ProviderID        string         `gorm:"type:varchar(64);not null"`
	Content           string         `gorm:"type:text;not null"`
	DeliveryStatus    DeliveryStatus `gorm:"type:varchar(10);not null"`
	ProviderMessageID *string        `gorm:"type:varchar(255)"`
	ErrorDetail       *string        `gorm:"type:text"`
	CreatedAt         time.Time
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.TransactionID) == "" {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("%w: job id is required", ErrValidation)
	}
	if strings.TrimSpace(m.SubscriberID) == "" {
		return fmt.Errorf("%w: subscriber id is required", ErrValidation)
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, m.Channel)
	}
	if !m.DeliveryStatus.IsValid() {
		return fmt.Errorf("%w: invalid delivery status %q", ErrValidation, m.DeliveryStatus)
	}
	return nil
}

// Subscriber is a directory profile resolved by the template resolver.
// Maintained by the subscriber directory; read-only to the engine.
type Subscriber struct {
	ID             string         `gorm:"type:varchar(64);primaryKey"`
	OrganizationID string         `gorm:"type:varchar(64);not null"`
	EnvironmentID  string         `gorm:"type:varchar(64);not null"`
	FirstName      string         `gorm:"type:varchar(255)"`
	LastName       string         `gorm:"type:varchar(255)"`
	Email          string         `gorm:"type:varchar(255)"`
	Phone          string         `gorm:"type:varchar(64)"`
	PushToken      string         `gorm:"type:varchar(512)"`
	Attributes     map[string]any `gorm:"serializer:json;type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Context merges the subscriber profile into a filter/render context. Keys are
// prefixed with "subscriber." to keep them apart from payload variables.
func (s *Subscriber) Context() map[string]any {
	ctx := map[string]any{
		"subscriber.id":        s.ID,
		"subscriber.firstName": s.FirstName,
		"subscriber.lastName":  s.LastName,
		"subscriber.email":     s.Email,
		"subscriber.phone":     s.Phone,
	}
	for key, value := range s.Attributes {
		ctx["subscriber."+key] = value
	}
	return ctx
}

// ProviderCredential is opaque vendor configuration handed to an adapter at
// construction time. Owned by the organization; read-only to the engine.
type ProviderCredential struct {
	OrganizationID string         `gorm:"type:varchar(64);primaryKey"`
	ProviderID     string         `gorm:"type:varchar(64);primaryKey"`
	Config         map[string]string `gorm:"serializer:json;type:jsonb;not null"`
	UpdatedAt      time.Time
}

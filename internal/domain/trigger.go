package domain

import (
	"fmt"
	"strings"
	"time"
)

// TargetType distinguishes direct subscriber references from topic broadcasts.
type TargetType string

const (
	TargetSubscriber TargetType = "SUBSCRIBER"
	TargetTopic      TargetType = "TOPIC"
)

func (t TargetType) IsValid() bool {
	return t == TargetSubscriber || t == TargetTopic
}

// SubscriberTarget is one recipient reference on a trigger request. A
// SUBSCRIBER target names one subscriber; a TOPIC target is expanded against
// topic membership at resolution time.
type SubscriberTarget struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id"`
}

func (t SubscriberTarget) Validate() error {
	if !t.Type.IsValid() {
		return fmt.Errorf("%w: invalid target type %q", ErrValidation, t.Type)
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: target id is required", ErrValidation)
	}
	return nil
}

// Trigger is one accepted request to execute a workflow. Immutable once
// persisted; jobs and messages reference it by TransactionID.
type Trigger struct {
	TransactionID  string             `gorm:"type:uuid;primaryKey"`
	TemplateID     string             `gorm:"type:uuid;not null"`
	OrganizationID string             `gorm:"type:varchar(64);not null"`
	EnvironmentID  string             `gorm:"type:varchar(64);not null"`
	Payload        map[string]any     `gorm:"serializer:json;type:jsonb"`
	Targets        []SubscriberTarget `gorm:"serializer:json;type:jsonb;not null"`
	TriggeredAt    time.Time          `gorm:"not null"`
}

func (t *Trigger) Validate() error {
	if strings.TrimSpace(t.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if strings.TrimSpace(t.OrganizationID) == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	if strings.TrimSpace(t.EnvironmentID) == "" {
		return fmt.Errorf("%w: environment id is required", ErrValidation)
	}
	if len(t.Targets) == 0 {
		return fmt.Errorf("%w: at least one subscriber target is required", ErrValidation)
	}
	for _, target := range t.Targets {
		if err := target.Validate(); err != nil {
			return err
		}
	}
	return nil
}

package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

// TriggerMessage is the broker payload handing an accepted trigger to the
// template resolver.
type TriggerMessage struct {
	TransactionID string `json:"transactionId"`
}

func (m TriggerMessage) Validate() error {
	if strings.TrimSpace(m.TransactionID) == "" {
		return fmt.Errorf("transactionId is required")
	}
	return nil
}

// JobMessage is the broker payload for job processing on a channel queue.
type JobMessage struct {
	JobID         string         `json:"jobId"`
	TransactionID string         `json:"transactionId,omitempty"`
	Channel       domain.Channel `json:"channel"`
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// DelaySpec postpones a step by a fixed amount after the trigger.
type DelaySpec struct {
	Amount int       `json:"amount"`
	Unit   DelayUnit `json:"unit"`
}

type DelayUnit string

const (
	DelaySeconds DelayUnit = "SECONDS"
	DelayMinutes DelayUnit = "MINUTES"
	DelayHours   DelayUnit = "HOURS"
	DelayDays    DelayUnit = "DAYS"
)

func (u DelayUnit) IsValid() bool {
	switch u {
	case DelaySeconds, DelayMinutes, DelayHours, DelayDays:
		return true
	}
	return false
}

// Duration converts the delay into a time.Duration.
func (d DelaySpec) Duration() time.Duration {
	amount := time.Duration(d.Amount)
	switch d.Unit {
	case DelayMinutes:
		return amount * time.Minute
	case DelayHours:
		return amount * time.Hour
	case DelayDays:
		return amount * 24 * time.Hour
	default:
		return amount * time.Second
	}
}

// DigestSpec merges triggers sharing an aggregation key inside a time window
// into a single delivery.
type DigestSpec struct {
	AggregationKey string    `json:"aggregationKey"`
	WindowAmount   int       `json:"windowAmount"`
	WindowUnit     DelayUnit `json:"windowUnit"`
}

func (d DigestSpec) Window() time.Duration {
	return DelaySpec{Amount: d.WindowAmount, Unit: d.WindowUnit}.Duration()
}

// FilterOperator is the comparison applied by a step filter condition.
type FilterOperator string

const (
	FilterEqual    FilterOperator = "EQUAL"
	FilterNotEqual FilterOperator = "NOT_EQUAL"
	FilterContains FilterOperator = "CONTAINS"
	FilterDefined  FilterOperator = "IS_DEFINED"
)

// FilterCondition is evaluated against the merged subscriber and payload
// context before a job is materialized for a step.
type FilterCondition struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    string         `json:"value,omitempty"`
}

// Matches reports whether the condition holds for the given context. A missing
// field only satisfies NOT_EQUAL.
func (f FilterCondition) Matches(context map[string]any) bool {
	raw, ok := context[f.Field]
	switch f.Operator {
	case FilterDefined:
		return ok
	case FilterEqual:
		return ok && fmt.Sprintf("%v", raw) == f.Value
	case FilterNotEqual:
		return !ok || fmt.Sprintf("%v", raw) != f.Value
	case FilterContains:
		return ok && strings.Contains(fmt.Sprintf("%v", raw), f.Value)
	}
	return false
}

// StepSpec is one node of a workflow: a channel-targeted delivery with
// optional delay, digest, and filter rules.
type StepSpec struct {
	Channel         Channel           `json:"channel"`
	ProviderID      string            `json:"providerId"`
	ContentTemplate string            `json:"contentTemplate"`
	Delay           *DelaySpec        `json:"delay,omitempty"`
	Digest          *DigestSpec       `json:"digest,omitempty"`
	Filters         []FilterCondition `json:"filters,omitempty"`
	// Independent steps are eligible to run regardless of earlier steps'
	// outcomes; dependent steps wait for the previous step to reach a
	// terminal state.
	Independent bool `json:"independent,omitempty"`
}

func (s StepSpec) Validate() error {
	if !s.Channel.IsValid() {
		return fmt.Errorf("%w: invalid step channel %q", ErrValidation, s.Channel)
	}
	if strings.TrimSpace(s.ProviderID) == "" {
		return fmt.Errorf("%w: step provider id is required", ErrValidation)
	}
	if strings.TrimSpace(s.ContentTemplate) == "" {
		return fmt.Errorf("%w: step content template is required", ErrValidation)
	}
	if s.Delay != nil && s.Delay.Amount <= 0 {
		return fmt.Errorf("%w: delay amount must be positive", ErrValidation)
	}
	if s.Digest != nil {
		if strings.TrimSpace(s.Digest.AggregationKey) == "" {
			return fmt.Errorf("%w: digest aggregation key is required", ErrValidation)
		}
		if s.Digest.WindowAmount <= 0 {
			return fmt.Errorf("%w: digest window must be positive", ErrValidation)
		}
	}
	return nil
}

// MatchesFilters reports whether every filter condition of the step holds.
func (s StepSpec) MatchesFilters(context map[string]any) bool {
	for _, filter := range s.Filters {
		if !filter.Matches(context) {
			return false
		}
	}
	return true
}

// Template is an ordered workflow definition. Owned by the organization and
// read-only to the engine.
type Template struct {
	ID                string     `gorm:"type:uuid;primaryKey"`
	OrganizationID    string     `gorm:"type:varchar(64);not null"`
	EnvironmentID     string     `gorm:"type:varchar(64);not null"`
	TriggerIdentifier string     `gorm:"type:varchar(255);not null"`
	Name              string     `gorm:"type:varchar(255);not null"`
	Enabled           bool       `gorm:"not null;default:true"`
	Steps             []StepSpec `gorm:"serializer:json;type:jsonb;not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t *Template) Validate() error {
	if strings.TrimSpace(t.TriggerIdentifier) == "" {
		return fmt.Errorf("%w: trigger identifier is required", ErrValidation)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: template must declare at least one step", ErrValidation)
	}
	for i, step := range t.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// RequiredVariables collects the payload variables referenced by any step
// content template, in declaration order without duplicates.
func (t *Template) RequiredVariables() []string {
	seen := make(map[string]struct{})
	var variables []string
	for _, step := range t.Steps {
		for _, name := range templateVariables(step.ContentTemplate) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			variables = append(variables, name)
		}
	}
	return variables
}

// templateVariables extracts {{.payload.x}} references from a content
// template body. Subscriber fields are always available and not reported.
func templateVariables(body string) []string {
	const prefix = "{{.payload."
	var names []string
	for {
		start := strings.Index(body, prefix)
		if start < 0 {
			return names
		}
		rest := body[start+len(prefix):]
		end := strings.IndexAny(rest, "}| ")
		if end < 0 {
			return names
		}
		name := strings.TrimSpace(rest[:end])
		if name != "" {
			names = append(names, name)
		}
		body = rest[end:]
	}
}

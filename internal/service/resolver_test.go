package service

import (
	"context"
	"testing"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"go.uber.org/zap"
)

type scheduledStep struct {
	stepIndex    int
	subscriberID string
}

func newTestResolver(
	t *testing.T,
	triggers *fakeTriggerRepo,
	templates *fakeTemplateRepo,
	subscribers *fakeSubscriberRepo,
	jobs *fakeJobRepo,
) *Resolver {
	t.Helper()

	scheduler, err := NewScheduler(jobs, &fakeWindowLock{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	resolver, err := NewResolver(triggers, templates, subscribers, scheduler, &fakeConsumer{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return resolver
}

func TestResolverHandleTriggerSchedulesAllSteps(t *testing.T) {
	t.Parallel()

	var scheduled []scheduledStep
	jobs := &fakeJobRepo{
		createOrGetFn: func(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
			scheduled = append(scheduled, scheduledStep{stepIndex: job.StepIndex, subscriberID: job.SubscriberID})
			return job, true, nil
		},
	}
	triggers := &fakeTriggerRepo{
		getByTransactionIDFn: func(ctx context.Context, transactionID string) (*domain.Trigger, error) {
			return testTrigger(), nil
		},
	}
	templates := &fakeTemplateRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Template, error) {
			template := testTemplate()
			template.Steps = append(template.Steps, domain.StepSpec{
				Channel:         domain.ChannelSMS,
				ProviderID:      "twilio",
				ContentTemplate: "sms fallback",
			})
			return template, nil
		},
	}
	subscribers := &fakeSubscriberRepo{
		getByIDFn: func(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error) {
			return &domain.Subscriber{ID: id, Email: "ada@example.com"}, nil
		},
	}

	resolver := newTestResolver(t, triggers, templates, subscribers, jobs)

	err := resolver.handleTrigger(context.Background(), queue.TriggerMessage{TransactionID: "tx1"})
	if err != nil {
		t.Fatalf("handleTrigger() error = %v", err)
	}

	if len(scheduled) != 2 {
		t.Fatalf("scheduled %d jobs, want 2", len(scheduled))
	}
	if scheduled[0].stepIndex != 0 || scheduled[1].stepIndex != 1 {
		t.Fatalf("step order = %+v, want 0 then 1", scheduled)
	}
}

func TestResolverHandleTriggerExpandsTopicsDeduplicated(t *testing.T) {
	t.Parallel()

	var scheduled []scheduledStep
	jobs := &fakeJobRepo{
		createOrGetFn: func(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
			scheduled = append(scheduled, scheduledStep{stepIndex: job.StepIndex, subscriberID: job.SubscriberID})
			return job, true, nil
		},
	}
	triggers := &fakeTriggerRepo{
		getByTransactionIDFn: func(ctx context.Context, transactionID string) (*domain.Trigger, error) {
			trigger := testTrigger()
			trigger.Targets = []domain.SubscriberTarget{
				{Type: domain.TargetSubscriber, ID: "sub1"},
				{Type: domain.TargetTopic, ID: "vip-customers"},
			}
			return trigger, nil
		},
	}
	templates := &fakeTemplateRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Template, error) {
			return testTemplate(), nil
		},
	}
	subscribers := &fakeSubscriberRepo{
		getByIDFn: func(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error) {
			return &domain.Subscriber{ID: id, Email: id + "@example.com"}, nil
		},
		getByTopicFn: func(ctx context.Context, organizationID, environmentID, topicID string) ([]domain.Subscriber, error) {
			if topicID != "vip-customers" {
				t.Fatalf("topic = %q, want vip-customers", topicID)
			}
			// sub1 is both a direct target and a topic member.
			return []domain.Subscriber{{ID: "sub1"}, {ID: "sub2"}}, nil
		},
	}

	resolver := newTestResolver(t, triggers, templates, subscribers, jobs)

	err := resolver.handleTrigger(context.Background(), queue.TriggerMessage{TransactionID: "tx1"})
	if err != nil {
		t.Fatalf("handleTrigger() error = %v", err)
	}

	if len(scheduled) != 2 {
		t.Fatalf("scheduled %d jobs, want 2 (sub1 deduplicated)", len(scheduled))
	}
	if scheduled[0].subscriberID != "sub1" || scheduled[1].subscriberID != "sub2" {
		t.Fatalf("subscribers = %+v, want sub1 then sub2", scheduled)
	}
}

func TestResolverHandleTriggerAppliesStepFilters(t *testing.T) {
	t.Parallel()

	var scheduled []scheduledStep
	jobs := &fakeJobRepo{
		createOrGetFn: func(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
			scheduled = append(scheduled, scheduledStep{stepIndex: job.StepIndex, subscriberID: job.SubscriberID})
			return job, true, nil
		},
	}
	triggers := &fakeTriggerRepo{
		getByTransactionIDFn: func(ctx context.Context, transactionID string) (*domain.Trigger, error) {
			trigger := testTrigger()
			trigger.Payload = map[string]any{"orderId": "o-42", "priority": "low"}
			return trigger, nil
		},
	}
	templates := &fakeTemplateRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Template, error) {
			template := testTemplate()
			template.Steps = []domain.StepSpec{
				{
					Channel:         domain.ChannelSMS,
					ProviderID:      "twilio",
					ContentTemplate: "urgent",
					Filters: []domain.FilterCondition{
						{Field: "priority", Operator: domain.FilterEqual, Value: "high"},
					},
				},
				{
					Channel:         domain.ChannelEmail,
					ProviderID:      "sendgrid",
					ContentTemplate: "summary",
				},
			}
			return template, nil
		},
	}
	subscribers := &fakeSubscriberRepo{
		getByIDFn: func(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error) {
			return &domain.Subscriber{ID: id}, nil
		},
	}

	resolver := newTestResolver(t, triggers, templates, subscribers, jobs)

	err := resolver.handleTrigger(context.Background(), queue.TriggerMessage{TransactionID: "tx1"})
	if err != nil {
		t.Fatalf("handleTrigger() error = %v", err)
	}

	// The filtered SMS step produces no job; the email step still runs.
	if len(scheduled) != 1 {
		t.Fatalf("scheduled %d jobs, want 1", len(scheduled))
	}
	if scheduled[0].stepIndex != 1 {
		t.Fatalf("scheduled step = %d, want 1", scheduled[0].stepIndex)
	}
}

func TestResolverHandleTriggerSkipsUnknownSubscribers(t *testing.T) {
	t.Parallel()

	var scheduled []scheduledStep
	jobs := &fakeJobRepo{
		createOrGetFn: func(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
			scheduled = append(scheduled, scheduledStep{subscriberID: job.SubscriberID})
			return job, true, nil
		},
	}
	triggers := &fakeTriggerRepo{
		getByTransactionIDFn: func(ctx context.Context, transactionID string) (*domain.Trigger, error) {
			trigger := testTrigger()
			trigger.Targets = []domain.SubscriberTarget{
				{Type: domain.TargetSubscriber, ID: "ghost"},
				{Type: domain.TargetSubscriber, ID: "sub1"},
			}
			return trigger, nil
		},
	}
	templates := &fakeTemplateRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Template, error) {
			return testTemplate(), nil
		},
	}
	subscribers := &fakeSubscriberRepo{
		getByIDFn: func(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error) {
			if id == "ghost" {
				return nil, domain.ErrNotFound
			}
			return &domain.Subscriber{ID: id}, nil
		},
	}

	resolver := newTestResolver(t, triggers, templates, subscribers, jobs)

	err := resolver.handleTrigger(context.Background(), queue.TriggerMessage{TransactionID: "tx1"})
	if err != nil {
		t.Fatalf("handleTrigger() error = %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].subscriberID != "sub1" {
		t.Fatalf("scheduled = %+v, want only sub1", scheduled)
	}
}

func TestResolverHandleTriggerMissingTriggerAcks(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, &fakeTriggerRepo{}, &fakeTemplateRepo{}, &fakeSubscriberRepo{}, &fakeJobRepo{})

	if err := resolver.handleTrigger(context.Background(), queue.TriggerMessage{TransactionID: "missing"}); err != nil {
		t.Fatalf("missing trigger should be acked, got error %v", err)
	}
}

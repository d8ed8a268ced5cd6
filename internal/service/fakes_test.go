package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/provider"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
)

type fakeJobRepo struct {
	createOrGetFn         func(ctx context.Context, job *domain.Job) (*domain.Job, bool, error)
	getByIDFn             func(ctx context.Context, id string) (*domain.Job, error)
	transitionStatusFn    func(ctx context.Context, id string, from, to domain.JobStatus) error
	getDueForScheduleFn   func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	getOpenDigestFn       func(ctx context.Context, digestKey string) (*domain.Job, error)
	appendDigestPayloadFn func(ctx context.Context, id string, payload map[string]any) error
	getDueDigestsFn       func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	markForRetryFn        func(ctx context.Context, id string, nextRetryAt time.Time, errDetail string) error
	markCompletedFn       func(ctx context.Context, id string) error
	markFailedFn          func(ctx context.Context, id string, errDetail string) error
	getDueForRetryFn      func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	clearNextRetryAtFn    func(ctx context.Context, id string) error
	cancelByTransactionFn func(ctx context.Context, transactionID string, channel *domain.Channel) (int64, error)
	countNonTerminalFn    func(ctx context.Context, transactionID string) (int64, error)
	getByTransactionIDFn  func(ctx context.Context, transactionID string) ([]domain.Job, error)
}

func (f *fakeJobRepo) CreateOrGet(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	if f.createOrGetFn != nil {
		return f.createOrGetFn(ctx, job)
	}
	return job, true, nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) TransitionStatus(ctx context.Context, id string, from, to domain.JobStatus) error {
	if f.transitionStatusFn != nil {
		return f.transitionStatusFn(ctx, id, from, to)
	}
	return nil
}

func (f *fakeJobRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if f.getDueForScheduleFn != nil {
		return f.getDueForScheduleFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeJobRepo) GetOpenDigest(ctx context.Context, digestKey string) (*domain.Job, error) {
	if f.getOpenDigestFn != nil {
		return f.getOpenDigestFn(ctx, digestKey)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) AppendDigestPayload(ctx context.Context, id string, payload map[string]any) error {
	if f.appendDigestPayloadFn != nil {
		return f.appendDigestPayloadFn(ctx, id, payload)
	}
	return nil
}

func (f *fakeJobRepo) GetDueDigests(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if f.getDueDigestsFn != nil {
		return f.getDueDigestsFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeJobRepo) MarkForRetry(ctx context.Context, id string, nextRetryAt time.Time, errDetail string) error {
	if f.markForRetryFn != nil {
		return f.markForRetryFn(ctx, id, nextRetryAt, errDetail)
	}
	return nil
}

func (f *fakeJobRepo) MarkCompleted(ctx context.Context, id string) error {
	if f.markCompletedFn != nil {
		return f.markCompletedFn(ctx, id)
	}
	return nil
}

func (f *fakeJobRepo) MarkFailed(ctx context.Context, id string, errDetail string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, errDetail)
	}
	return nil
}

func (f *fakeJobRepo) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if f.getDueForRetryFn != nil {
		return f.getDueForRetryFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeJobRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	if f.clearNextRetryAtFn != nil {
		return f.clearNextRetryAtFn(ctx, id)
	}
	return nil
}

func (f *fakeJobRepo) CancelByTransaction(ctx context.Context, transactionID string, channel *domain.Channel) (int64, error) {
	if f.cancelByTransactionFn != nil {
		return f.cancelByTransactionFn(ctx, transactionID, channel)
	}
	return 0, nil
}

func (f *fakeJobRepo) CountNonTerminal(ctx context.Context, transactionID string) (int64, error) {
	if f.countNonTerminalFn != nil {
		return f.countNonTerminalFn(ctx, transactionID)
	}
	return 0, nil
}

func (f *fakeJobRepo) GetByTransactionID(ctx context.Context, transactionID string) ([]domain.Job, error) {
	if f.getByTransactionIDFn != nil {
		return f.getByTransactionIDFn(ctx, transactionID)
	}
	return nil, nil
}

type fakeTemplateRepo struct {
	getByIDFn                func(ctx context.Context, id string) (*domain.Template, error)
	getByTriggerIdentifierFn func(ctx context.Context, organizationID, environmentID, identifier string) (*domain.Template, error)
	createFn                 func(ctx context.Context, template *domain.Template) error
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTemplateRepo) GetByTriggerIdentifier(ctx context.Context, organizationID, environmentID, identifier string) (*domain.Template, error) {
	if f.getByTriggerIdentifierFn != nil {
		return f.getByTriggerIdentifierFn(ctx, organizationID, environmentID, identifier)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTemplateRepo) Create(ctx context.Context, template *domain.Template) error {
	if f.createFn != nil {
		return f.createFn(ctx, template)
	}
	return nil
}

type fakeTriggerRepo struct {
	createFn             func(ctx context.Context, trigger *domain.Trigger) (bool, error)
	getByTransactionIDFn func(ctx context.Context, transactionID string) (*domain.Trigger, error)
}

func (f *fakeTriggerRepo) Create(ctx context.Context, trigger *domain.Trigger) (bool, error) {
	if f.createFn != nil {
		return f.createFn(ctx, trigger)
	}
	return true, nil
}

func (f *fakeTriggerRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Trigger, error) {
	if f.getByTransactionIDFn != nil {
		return f.getByTransactionIDFn(ctx, transactionID)
	}
	return nil, domain.ErrNotFound
}

type fakeSubscriberRepo struct {
	getByIDFn    func(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error)
	getByTopicFn func(ctx context.Context, organizationID, environmentID, topicID string) ([]domain.Subscriber, error)
	createFn     func(ctx context.Context, subscriber *domain.Subscriber) error
	addToTopicFn func(ctx context.Context, membership *repository.TopicMembership) error
}

func (f *fakeSubscriberRepo) GetByID(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, organizationID, environmentID, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubscriberRepo) GetByTopic(ctx context.Context, organizationID, environmentID, topicID string) ([]domain.Subscriber, error) {
	if f.getByTopicFn != nil {
		return f.getByTopicFn(ctx, organizationID, environmentID, topicID)
	}
	return nil, nil
}

func (f *fakeSubscriberRepo) Create(ctx context.Context, subscriber *domain.Subscriber) error {
	if f.createFn != nil {
		return f.createFn(ctx, subscriber)
	}
	return nil
}

func (f *fakeSubscriberRepo) AddToTopic(ctx context.Context, membership *repository.TopicMembership) error {
	if f.addToTopicFn != nil {
		return f.addToTopicFn(ctx, membership)
	}
	return nil
}

type fakeMessageRepo struct {
	createFn              func(ctx context.Context, message *domain.Message) error
	findFn                func(ctx context.Context, filter repository.MessageFilter) ([]domain.Message, error)
	deleteByTransactionFn func(ctx context.Context, filter repository.MessageFilter) (int64, error)
}

func (f *fakeMessageRepo) Create(ctx context.Context, message *domain.Message) error {
	if f.createFn != nil {
		return f.createFn(ctx, message)
	}
	return nil
}

func (f *fakeMessageRepo) Find(ctx context.Context, filter repository.MessageFilter) ([]domain.Message, error) {
	if f.findFn != nil {
		return f.findFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeMessageRepo) DeleteByTransaction(ctx context.Context, filter repository.MessageFilter) (int64, error) {
	if f.deleteByTransactionFn != nil {
		return f.deleteByTransactionFn(ctx, filter)
	}
	return 0, nil
}

type fakeAttemptRepo struct {
	createFn     func(ctx context.Context, attempt *domain.JobAttempt) error
	getByJobIDFn func(ctx context.Context, jobID string) ([]domain.JobAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, attempt *domain.JobAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, attempt)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByJobID(ctx context.Context, jobID string) ([]domain.JobAttempt, error) {
	if f.getByJobIDFn != nil {
		return f.getByJobIDFn(ctx, jobID)
	}
	return nil, nil
}

type fakeCredentialRepo struct {
	getFn    func(ctx context.Context, organizationID, providerID string) (*domain.ProviderCredential, error)
	upsertFn func(ctx context.Context, credential *domain.ProviderCredential) error
}

func (f *fakeCredentialRepo) Get(ctx context.Context, organizationID, providerID string) (*domain.ProviderCredential, error) {
	if f.getFn != nil {
		return f.getFn(ctx, organizationID, providerID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCredentialRepo) Upsert(ctx context.Context, credential *domain.ProviderCredential) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, credential)
	}
	return nil
}

type fakePublisher struct {
	publishTriggerFn func(ctx context.Context, msg queue.TriggerMessage) error
	publishJobFn     func(ctx context.Context, queueName string, msg queue.JobMessage) error
	closeFn          func() error
}

func (f *fakePublisher) PublishTrigger(ctx context.Context, msg queue.TriggerMessage) error {
	if f.publishTriggerFn != nil {
		return f.publishTriggerFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) PublishJob(ctx context.Context, queueName string, msg queue.JobMessage) error {
	if f.publishJobFn != nil {
		return f.publishJobFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeConsumer struct {
	consumeTriggersFn func(ctx context.Context, handler queue.TriggerHandler) error
	consumeJobsFn     func(ctx context.Context, queueName string, handler queue.JobHandler) error
	closeFn           func() error
}

func (f *fakeConsumer) ConsumeTriggers(ctx context.Context, handler queue.TriggerHandler) error {
	if f.consumeTriggersFn != nil {
		return f.consumeTriggersFn(ctx, handler)
	}
	return nil
}

func (f *fakeConsumer) ConsumeJobs(ctx context.Context, queueName string, handler queue.JobHandler) error {
	if f.consumeJobsFn != nil {
		return f.consumeJobsFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

// fakeWindowLock runs the critical section inline without coordination.
type fakeWindowLock struct {
	withLockFn func(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func (f *fakeWindowLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if f.withLockFn != nil {
		return f.withLockFn(ctx, key, fn)
	}
	return fn(ctx)
}

type fakeAdapter struct {
	sendFn func(ctx context.Context, content provider.RenderedContent) (*provider.Receipt, error)
}

func (f *fakeAdapter) Send(ctx context.Context, content provider.RenderedContent) (*provider.Receipt, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, content)
	}
	return &provider.Receipt{StatusCode: 200}, nil
}

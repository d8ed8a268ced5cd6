package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/observability"
	"github.com/kursadbilgin/workflow-engine/internal/provider"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/ratelimit"
	"github.com/kursadbilgin/workflow-engine/internal/render"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minProcessorConcurrency = 1
	defaultMaxAttempts      = 5
	maxRetryDelay           = 60 * time.Second
	baseRetryDelay          = time.Second
	maxRetryJitterMillis    = 250
	notReadyRequeueDelay    = 200 * time.Millisecond
)

// Processor consumes channel queues and executes READY jobs: it claims the
// job, renders the step content, sends through the provider adapter, and
// records the outcome. Claiming is a compare-and-swap, so at most one worker
// processes a job at a time.
type Processor struct {
	jobs        repository.JobRepository
	attempts    repository.AttemptRepository
	messages    repository.MessageRepository
	subscribers repository.SubscriberRepository
	credentials repository.CredentialRepository
	consumer    queue.Consumer
	registry    *provider.Registry
	renderer    *render.Renderer
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	maxAttempts int
	now         func() time.Time
	randIntn    func(n int) int
	sleep       func(ctx context.Context, d time.Duration)
}

func NewProcessor(
	jobs repository.JobRepository,
	attempts repository.AttemptRepository,
	messages repository.MessageRepository,
	subscribers repository.SubscriberRepository,
	credentials repository.CredentialRepository,
	consumer queue.Consumer,
	registry *provider.Registry,
	renderer *render.Renderer,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	maxAttempts int,
	logger *zap.Logger,
) (*Processor, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if concurrency < minProcessorConcurrency {
		concurrency = minProcessorConcurrency
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		jobs:        jobs,
		attempts:    attempts,
		messages:    messages,
		subscribers: subscribers,
		credentials: credentials,
		consumer:    consumer,
		registry:    registry,
		renderer:    renderer,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		now:         time.Now,
		randIntn:    rand.Intn,
		sleep:       sleepWithContext,
	}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Processor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Start consumes channel queues and processes job messages until context
// cancellation.
func (p *Processor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			p.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := p.consumer.ConsumeJobs(groupCtx, queueName, p.processJob)
			if err != nil {
				p.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			p.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (p *Processor) processJob(ctx context.Context, msg queue.JobMessage) error {
	ctx = observability.WithTransactionID(ctx, msg.TransactionID)
	logger := p.logger.With(
		zap.String("jobId", msg.JobID),
		zap.String("transactionId", msg.TransactionID),
	)

	job, err := p.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("job not found during processing, skipping")
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	switch job.Status {
	case domain.JobReady:
		// Claim below.
	case domain.JobPending, domain.JobPendingDigest:
		// The queue message outran the scanner's ready mark. Back off before
		// the requeue so the redelivery does not spin until the mark lands.
		p.sleep(ctx, notReadyRequeueDelay)
		return fmt.Errorf("job %s not yet ready", job.ID)
	default:
		// Terminal or already claimed by another worker; ack and skip.
		return nil
	}

	if err := p.jobs.TransitionStatus(ctx, job.ID, domain.JobReady, domain.JobRunning); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("job claimed elsewhere or canceled, skipping")
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	channelName := strings.ToLower(job.Step.Channel.String())
	p.metrics.IncWorkerInFlight(channelName)
	defer p.metrics.DecWorkerInFlight(channelName)

	attemptNumber := job.AttemptCount + 1

	subscriber, err := p.subscribers.GetByID(ctx, job.OrganizationID, job.EnvironmentID, job.SubscriberID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.failPermanently(ctx, job, attemptNumber, channelName, "subscriber_not_found",
				fmt.Errorf("subscriber %q not found", job.SubscriberID))
		}
		return p.abandonClaim(ctx, job, fmt.Errorf("failed to load subscriber: %w", err))
	}

	content, err := p.renderer.Render(job.Step.ContentTemplate, render.Context{
		Subscriber: subscriber,
		Payloads:   job.PayloadSnapshots,
	})
	if err != nil {
		return p.failPermanently(ctx, job, attemptNumber, channelName, "render_failed", err)
	}

	factory, err := p.registry.Resolve(job.Step.Channel, job.Step.ProviderID)
	if err != nil {
		return p.failPermanently(ctx, job, attemptNumber, channelName, "handler_not_found", err)
	}

	adapter, err := factory(p.loadCredential(ctx, job))
	if err != nil {
		return p.failPermanently(ctx, job, attemptNumber, channelName, "bad_credential", err)
	}

	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(ctx, channelName); err != nil {
			return p.abandonClaim(ctx, job, fmt.Errorf("rate limiter wait failed: %w", err))
		}
	}

	rendered := provider.RenderedContent{
		TransactionID: job.TransactionID,
		Channel:       job.Step.Channel,
		Subscriber:    *subscriber,
		Content:       content,
	}

	sendStart := p.now()
	receipt, sendErr := adapter.Send(ctx, rendered)
	p.metrics.ObserveSendDuration(channelName, p.now().Sub(sendStart))

	if err := p.recordAttempt(ctx, job.ID, attemptNumber, receipt, sendErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if sendErr == nil {
		return p.complete(ctx, job, channelName, content, receipt, logger)
	}

	isTransient := provider.IsTransient(sendErr)
	if isTransient && attemptNumber < p.maxAttempts {
		nextRetryAt := p.now().UTC().Add(p.computeRetryDelay(attemptNumber))
		if err := p.jobs.MarkForRetry(ctx, job.ID, nextRetryAt, sendErr.Error()); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				logger.Info("job no longer running, dropping retry")
				return nil
			}
			return fmt.Errorf("failed to mark job for retry: %w", err)
		}
		p.metrics.IncRetryScheduled(channelName)
		logger.Warn("send failed, retry scheduled",
			zap.Int("attempt", attemptNumber),
			zap.Time("nextRetryAt", nextRetryAt),
			zap.Error(sendErr),
		)
		return nil
	}

	reason := "permanent_error"
	if isTransient {
		reason = "retry_exhausted"
	}
	return p.failWithMessage(ctx, job, channelName, content, reason, sendErr, logger)
}

// complete records the sent message and finishes the job. The job status is
// re-read before the message write so a cancellation racing the send does not
// leave a message behind; a cancel landing after this check is accepted as
// best effort.
func (p *Processor) complete(
	ctx context.Context,
	job *domain.Job,
	channelName string,
	content string,
	receipt *provider.Receipt,
	logger *zap.Logger,
) error {
	current, err := p.jobs.GetByID(ctx, job.ID)
	if err == nil && current.Status == domain.JobCanceled {
		logger.Info("job canceled during send, suppressing message")
		return nil
	}

	message := &domain.Message{
		ID:             uuid.NewString(),
		TransactionID:  job.TransactionID,
		JobID:          job.ID,
		OrganizationID: job.OrganizationID,
		EnvironmentID:  job.EnvironmentID,
		SubscriberID:   job.SubscriberID,
		Channel:        job.Step.Channel,
		ProviderID:     job.Step.ProviderID,
		Content:        content,
		DeliveryStatus: domain.DeliverySent,
		CreatedAt:      p.now().UTC(),
	}
	if receipt != nil && strings.TrimSpace(receipt.MessageID) != "" {
		id := receipt.MessageID
		message.ProviderMessageID = &id
	}

	if err := p.messages.Create(ctx, message); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	if err := p.jobs.MarkCompleted(ctx, job.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("job left running state before completion mark")
			return nil
		}
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	p.metrics.IncJobCompleted(channelName)
	logger.Info("job completed", zap.String("channel", channelName))
	return nil
}

// failWithMessage records a FAILED message alongside the terminal job state so
// the delivery audit trail covers permanent failures too.
func (p *Processor) failWithMessage(
	ctx context.Context,
	job *domain.Job,
	channelName string,
	content string,
	reason string,
	sendErr error,
	logger *zap.Logger,
) error {
	errDetail := sendErr.Error()
	message := &domain.Message{
		ID:             uuid.NewString(),
		TransactionID:  job.TransactionID,
		JobID:          job.ID,
		OrganizationID: job.OrganizationID,
		EnvironmentID:  job.EnvironmentID,
		SubscriberID:   job.SubscriberID,
		Channel:        job.Step.Channel,
		ProviderID:     job.Step.ProviderID,
		Content:        content,
		DeliveryStatus: domain.DeliveryFailed,
		ErrorDetail:    &errDetail,
		CreatedAt:      p.now().UTC(),
	}
	if err := p.messages.Create(ctx, message); err != nil {
		return fmt.Errorf("failed to persist failed message: %w", err)
	}

	if err := p.jobs.MarkFailed(ctx, job.ID, errDetail); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("job left running state before failure mark")
			return nil
		}
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	p.metrics.IncJobFailed(channelName, reason)
	logger.Warn("job failed",
		zap.String("reason", reason),
		zap.Error(sendErr),
	)
	return nil
}

// failPermanently finishes a job that never reached the provider. No message
// row is written because nothing was rendered and addressed for delivery.
func (p *Processor) failPermanently(
	ctx context.Context,
	job *domain.Job,
	attemptNumber int,
	channelName string,
	reason string,
	cause error,
) error {
	if err := p.recordAttempt(ctx, job.ID, attemptNumber, nil, cause); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if err := p.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	p.metrics.IncJobFailed(channelName, reason)
	p.logger.Warn("job failed before send",
		zap.String("jobId", job.ID),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	return nil
}

// abandonClaim returns a claimed job to READY after an infrastructure error
// so it is not stranded in RUNNING, then surfaces the error for requeue.
func (p *Processor) abandonClaim(ctx context.Context, job *domain.Job, cause error) error {
	if err := p.jobs.TransitionStatus(ctx, job.ID, domain.JobRunning, domain.JobReady); err != nil && !errors.Is(err, domain.ErrConflict) {
		p.logger.Error("failed to release job claim",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
	}
	return cause
}

func (p *Processor) loadCredential(ctx context.Context, job *domain.Job) domain.ProviderCredential {
	empty := domain.ProviderCredential{
		OrganizationID: job.OrganizationID,
		ProviderID:     job.Step.ProviderID,
	}
	if p.credentials == nil {
		return empty
	}

	credential, err := p.credentials.Get(ctx, job.OrganizationID, job.Step.ProviderID)
	if err != nil {
		// Adapters that need configuration reject the empty credential with a
		// validation error, which fails the job permanently.
		return empty
	}
	return *credential
}

func (p *Processor) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterMillis := 0
	if p.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = p.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (p *Processor) recordAttempt(
	ctx context.Context,
	jobID string,
	attemptNumber int,
	receipt *provider.Receipt,
	sendErr error,
) error {
	if p.attempts == nil {
		return nil
	}

	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if receipt != nil {
		if receipt.StatusCode > 0 {
			value := receipt.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(receipt.Body); body != "" {
			value := receipt.Body
			responseBody = &value
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 && statusCode == nil {
			value := providerErr.StatusCode
			statusCode = &value
		}
	}

	attempt := &domain.JobAttempt{
		ID:            uuid.NewString(),
		JobID:         jobID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		ResponseBody:  responseBody,
		Error:         attemptErr,
		CreatedAt:     p.now().UTC(),
	}

	return p.attempts.Create(ctx, attempt)
}

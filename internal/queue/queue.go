package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

// Publisher publishes trigger and job messages to the broker.
type Publisher interface {
	PublishTrigger(ctx context.Context, msg TriggerMessage) error
	PublishJob(ctx context.Context, queue string, msg JobMessage) error
	Close() error
}

// TriggerHandler handles a consumed trigger message.
type TriggerHandler func(ctx context.Context, msg TriggerMessage) error

// JobHandler handles a consumed job message.
type JobHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes trigger and job messages from the broker.
type Consumer interface {
	ConsumeTriggers(ctx context.Context, handler TriggerHandler) error
	ConsumeJobs(ctx context.Context, queue string, handler JobHandler) error
	Close() error
}

// TriggerQueueName is the intake handoff queue between the API and the
// resolver.
const TriggerQueueName = "trigger"

// QueueName returns the channel work queue name, e.g. email.
func QueueName(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}

// DLQName returns the dead-letter queue name, e.g. dlq.email.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all channel work queues.
func WorkQueueNames() []string {
	channels := domain.Channels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// AllQueueNames returns the trigger queue plus every channel work queue.
func AllQueueNames() []string {
	return append([]string{TriggerQueueName}, WorkQueueNames()...)
}

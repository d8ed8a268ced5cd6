package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) PublishTrigger(ctx context.Context, msg TriggerMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid trigger message: %w", err)
	}
	return p.publish(ctx, TriggerQueueName, msg.TransactionID, msg.TransactionID, msg)
}

func (p *RabbitMQPublisher) PublishJob(ctx context.Context, queue string, msg JobMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid job message: %w", err)
	}
	return p.publish(ctx, queue, msg.JobID, msg.TransactionID, msg)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue, messageID, correlationID string, body any) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     messageID,
		CorrelationId: correlationID,
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

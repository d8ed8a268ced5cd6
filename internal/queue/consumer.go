package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) ConsumeTriggers(ctx context.Context, handler TriggerHandler) error {
	if handler == nil {
		return fmt.Errorf("trigger handler is required")
	}
	return c.consume(ctx, TriggerQueueName, func(ctx context.Context, body []byte) (error, bool) {
		var msg TriggerMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return err, false
		}
		if err := msg.Validate(); err != nil {
			return err, false
		}
		return handler(ctx, msg), true
	})
}

func (c *RabbitMQConsumer) ConsumeJobs(ctx context.Context, queue string, handler JobHandler) error {
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}
	return c.consume(ctx, queue, func(ctx context.Context, body []byte) (error, bool) {
		var msg JobMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return err, false
		}
		if err := msg.Validate(); err != nil {
			return err, false
		}
		return handler(ctx, msg), true
	})
}

// decodeFunc returns (err, decoded): decoded=false means the body itself is
// invalid and must be rejected without requeue.
type decodeFunc func(ctx context.Context, body []byte) (error, bool)

func (c *RabbitMQConsumer) consume(ctx context.Context, queue string, decode decodeFunc) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, decode)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, decode decodeFunc) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, decode); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, decode decodeFunc) error {
	handlerErr, decoded := decode(ctx, d.Body)
	if !decoded {
		c.logger.Warn("rejecting message: invalid payload",
			zap.Error(handlerErr),
			zap.String("routingKey", d.RoutingKey),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if handlerErr != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

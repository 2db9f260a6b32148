package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"projectsync/pkg/metrics"
	appotel "projectsync/pkg/otel"
	apptrace "projectsync/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed is returned by StartConsuming when the broker closes the delivery
// channel (connection loss, queue deletion) without Stop having been called.
var ErrDeliveriesClosed = errors.New("delivery channel closed unexpectedly")

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// ConsumerOptions tunes delivery concurrency. Zero values fall back to a single worker
// with a prefetch of one.
type ConsumerOptions struct {
	Prefetch int
	Workers  int
}

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
	opts       ConsumerOptions
	tag        string

	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, opts ConsumerOptions, logger *zap.Logger) (*Consumer, error) {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	var q amqp091.Queue
	conn, ch, err := openChannel(url, queueName+"-consumer", func(ch *amqp091.Channel) error {
		if err := DeclareExchange(ch); err != nil {
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
		var err error
		if q, err = DeclareBoundQueue(ch, queueName, routingKey); err != nil {
			return err
		}
		if err := DeclareDLQExchange(ch); err != nil {
			return fmt.Errorf("failed to declare dlq exchange: %w", err)
		}
		if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
			return err
		}
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set qos: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
		zap.Int("prefetch", opts.Prefetch),
		zap.Int("workers", opts.Workers),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
		opts:       opts,
		tag:        queueName + ".worker",
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// IsConnected reports whether the underlying connection and channel are open.
func (c *Consumer) IsConnected() bool {
	if c.conn == nil || c.channel == nil {
		return false
	}
	return !c.conn.IsClosed() && !c.channel.IsClosed()
}

// Stop cancels the subscription and waits for in-flight deliveries to be acked or nacked.
func (c *Consumer) Stop() {
	c.stopping.Store(true)
	if c.channel != nil {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			c.logger.Warn("Failed to cancel consumer", zap.String("queue", c.queue.Name), zap.Error(err))
		}
	}
	c.wg.Wait()
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks until the subscription is
// cancelled and should be called in a goroutine. It returns nil after Stop and
// ErrDeliveriesClosed if the subscription ends for any other reason.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	return c.run(deliveries)
}

func (c *Consumer) run(deliveries <-chan amqp091.Delivery) error {
	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range deliveries {
				c.process(msg)
			}
		}()
	}
	c.wg.Wait()

	if c.stopping.Load() {
		return nil
	}
	c.logger.Error("Consumer delivery channel closed",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)
	return ErrDeliveriesClosed
}

// process 保证每条消息都会被 ack 或 nack
func (c *Consumer) process(msg amqp091.Delivery) {
	start := time.Now()
	ctx := c.deliveryContext(msg)

	ctx, span := appotel.MQConsumeSpan(ctx, c.queue.Name, c.routingKey, msg.MessageId, msg.Redelivered)
	defer span.End()

	c.logger.Debug("Received message",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("message_id", msg.MessageId),
		zap.Bool("redelivered", msg.Redelivered),
		zap.Int("message_size", len(msg.Body)),
	)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			// Panic → 拒绝消息并重新入队
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic",
					zap.String("routing_key", c.routingKey),
					zap.Error(err),
				)
			}
		}
	}()

	if err := c.handler(ctx, msg.Body); err != nil {
		c.logger.Error("Handler error",
			zap.String("routing_key", c.routingKey),
			zap.String("queue", c.queue.Name),
			zap.String("message_id", msg.MessageId),
			zap.Error(err),
		)
		span.RecordError(err)
		// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message",
				zap.String("routing_key", c.routingKey),
				zap.Error(err),
			)
		}
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, "nack", time.Since(start))
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("routing_key", c.routingKey),
			zap.Error(err),
		)
		return
	}
	metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, "ack", time.Since(start))
	c.logger.Debug("Message processed successfully",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)
}

// deliveryContext rebuilds the producer's trace context from message headers.
func (c *Consumer) deliveryContext(msg amqp091.Delivery) context.Context {
	ctx := context.Background()
	if msg.Headers == nil {
		return ctx
	}
	ctx = appotel.GetTextMapPropagator().Extract(ctx, appotel.NewMQHeaderCarrier(msg.Headers))
	if traceID, ok := msg.Headers[TraceHeader].(string); ok && traceID != "" {
		ctx = apptrace.WithContext(ctx, traceID)
	}
	return ctx
}

package mq

import (
	"context"
	"strconv"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"

	appotel "projectsync/pkg/otel"
)

// DLQExchangeName 死信交换机；每个 routing key 绑定一个 <routing_key>.dlq 队列
const DLQExchangeName = "events.dlq"

// Headers stamped on every dead-lettered message.
const (
	HeaderDeadReason   = "x-dead-reason"
	HeaderDeadError    = "x-dead-error"
	HeaderDeadAttempts = "x-dead-attempts"
	HeaderDeadSource   = "x-dead-source"
	HeaderDeadAt       = "x-dead-at"
)

// DeadLetter is a delivery parked for manual inspection. Body is kept byte for byte
// so it can be replayed onto the events exchange unchanged.
type DeadLetter struct {
	RoutingKey string
	Body       []byte
	// Reason is the error kind that stopped processing, e.g. "malformed" or "max_retries_exceeded".
	Reason   string
	Err      error
	Attempts int64
}

func (d DeadLetter) headers(source string, at time.Time) amqp091.Table {
	h := amqp091.Table{
		HeaderDeadReason:   d.Reason,
		HeaderDeadAttempts: strconv.FormatInt(d.Attempts, 10),
		HeaderDeadSource:   source,
		HeaderDeadAt:       at.UTC().Format(time.RFC3339),
	}
	if d.Err != nil {
		h[HeaderDeadError] = d.Err.Error()
	}
	return h
}

func DeclareDLQExchange(ch topologyChannel) error {
	return ch.ExchangeDeclare(DLQExchangeName, "topic", true, false, false, false, nil)
}

// DLQName returns the dead letter queue name for a routing key.
func DLQName(routingKey string) string {
	return routingKey + ".dlq"
}

// DeclareDLQQueue declares and binds the dead letter queue for routingKey.
func DeclareDLQQueue(ch topologyChannel, routingKey string) (amqp091.Queue, error) {
	return declareBound(ch, DLQName(routingKey), routingKey, DLQExchangeName)
}

// PublishDeadLetter publishes d to the DLQ exchange and waits for the broker confirm.
func (p *Publisher) PublishDeadLetter(ctx context.Context, d DeadLetter) error {
	ctx, span := appotel.MQPublishSpan(ctx, DLQExchangeName, d.RoutingKey, "")
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, DLQExchangeName, d.RoutingKey, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         d.Body,
			DeliveryMode: amqp091.Persistent,
			AppId:        p.source,
			Headers:      d.headers(p.source, time.Now()),
		},
	)
	if err == nil {
		err = waitConfirm(ctx, confirm)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

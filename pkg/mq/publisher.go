package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	appotel "projectsync/pkg/otel"
	apptrace "projectsync/pkg/trace"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
)

// TraceHeader carries the application trace id across the broker.
const TraceHeader = "x-trace-id"

var errNotConfirmed = errors.New("broker did not confirm message")

type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	source  string

	mu sync.Mutex
}

// NewPublisher opens a confirm-mode channel: publishing returns only after the broker has
// taken responsibility for the message. Each binding's queue and its dead letter queue are
// declared up front so that events published before any consumer starts are not dropped
// by the exchange.
func NewPublisher(url, source string, bindings ...Binding) (*Publisher, error) {
	conn, ch, err := openChannel(url, source+"-publisher", func(ch *amqp091.Channel) error {
		if err := declarePublisherTopology(ch, bindings); err != nil {
			return err
		}
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
		source:  source,
	}, nil
}

func declarePublisherTopology(ch topologyChannel, bindings []Binding) error {
	if err := DeclareExchange(ch); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	for _, b := range bindings {
		if _, err := DeclareBoundQueue(ch, b.Queue, b.RoutingKey); err != nil {
			return err
		}
		if _, err := DeclareDLQQueue(ch, b.RoutingKey); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed() && !p.channel.IsClosed()
}

// PublishWithContext publishes payload as JSON, propagating the trace id and span context
// through message headers.
func (p *Publisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	messageID := uuid.NewString()
	ctx, span := appotel.MQPublishSpan(ctx, ExchangeName, routingKey, messageID)
	defer span.End()

	headers := amqp091.Table{}
	appotel.GetTextMapPropagator().Inject(ctx, appotel.NewMQHeaderCarrier(headers))
	if traceID := apptrace.FromContext(ctx); traceID != "" {
		headers[TraceHeader] = traceID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			AppId:        p.source,
			Headers:      headers,
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

func waitConfirm(ctx context.Context, confirm *amqp091.DeferredConfirmation) error {
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errNotConfirmed
	}
	return nil
}

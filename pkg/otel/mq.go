package otel

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func messageSpan(ctx context.Context, operation string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.operation", operation),
	}
	return Tracer().Start(ctx, "mq."+operation, trace.WithSpanKind(kind), trace.WithAttributes(append(base, attrs...)...))
}

// MQPublishSpan 在 MQ 发布时创建 producer span
func MQPublishSpan(ctx context.Context, exchange, routingKey, messageID string) (context.Context, trace.Span) {
	return messageSpan(ctx, "publish", trace.SpanKindProducer,
		attribute.String("messaging.destination.name", exchange),
		attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		attribute.String("messaging.message.id", messageID),
	)
}

// MQConsumeSpan 在 MQ 消费时创建 consumer span；调用方需先从消息头中提取 trace context
func MQConsumeSpan(ctx context.Context, queue, routingKey, messageID string, redelivered bool) (context.Context, trace.Span) {
	return messageSpan(ctx, "process", trace.SpanKindConsumer,
		attribute.String("messaging.destination.name", queue),
		attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		attribute.String("messaging.message.id", messageID),
		attribute.Bool("messaging.rabbitmq.redelivered", redelivered),
	)
}

// MQHeaderCarrier adapts AMQP message headers to propagation.TextMapCarrier.
type MQHeaderCarrier map[string]any

// NewMQHeaderCarrier wraps headers in place; Set writes through to the caller's table.
func NewMQHeaderCarrier(headers map[string]any) MQHeaderCarrier {
	if headers == nil {
		headers = map[string]any{}
	}
	return MQHeaderCarrier(headers)
}

// Get accepts string and []byte values; brokers and other clients may deliver either.
func (c MQHeaderCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (c MQHeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c MQHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

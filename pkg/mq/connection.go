package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "events"
)

// NewConnection dials RabbitMQ; name shows up as the connection name in the management UI.
func NewConnection(url, name string) (*amqp091.Connection, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Properties: amqp091.Table{"connection_name": name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// openChannel dials, opens one channel and runs setup on it; on any failure both are closed.
func openChannel(url, name string, setup func(ch *amqp091.Channel) error) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := NewConnection(url, name)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := setup(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// topologyChannel is the part of *amqp091.Channel used to declare exchanges and queues.
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

// Binding names a durable queue that must exist, bound to the events exchange, before
// anything is published under RoutingKey.
type Binding struct {
	Queue      string
	RoutingKey string
}

// DeclareExchange declares the durable topic exchange all domain events go through.
func DeclareExchange(ch topologyChannel) error {
	return ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil)
}

// DeclareBoundQueue declares a durable queue and binds it to the events exchange.
func DeclareBoundQueue(ch topologyChannel, queueName, routingKey string) (amqp091.Queue, error) {
	return declareBound(ch, queueName, routingKey, ExchangeName)
}

func declareBound(ch topologyChannel, queueName, routingKey, exchange string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("bind queue %s to %s: %w", queueName, exchange, err)
	}
	return q, nil
}

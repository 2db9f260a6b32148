package publisher

import (
	"context"
	"errors"

	"go.uber.org/zap"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/circuitbreaker"
	"projectsync/pkg/errs"
	"projectsync/pkg/metrics"
	"projectsync/task-service/internal/model"
)

// Broker is the transport a TaskPublisher hands events to.
type Broker interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// TaskPublisher emits task.created for persisted tasks. It never waits for consumers.
type TaskPublisher struct {
	broker  Broker
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewTaskPublisher(broker Broker, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *TaskPublisher {
	return &TaskPublisher{broker: broker, breaker: breaker, logger: logger}
}

// PublishTaskCreated returns an *errs.TransportError when the broker does not accept the event.
func (p *TaskPublisher) PublishTaskCreated(ctx context.Context, t *model.Task) error {
	payload := t.Payload()
	err := p.breaker.Execute(func() error {
		return p.broker.PublishWithContext(ctx, mqcontracts.RoutingKeyTaskCreated, payload)
	})
	if err != nil {
		status := "failed"
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			status = "breaker_open"
		}
		metrics.IncrementEventPublish(mqcontracts.RoutingKeyTaskCreated, status)
		p.logger.Error("Failed to publish task.created",
			zap.Int64("task_id", t.ID),
			zap.String("status", status),
			zap.Error(err),
		)
		return &errs.TransportError{RoutingKey: mqcontracts.RoutingKeyTaskCreated, Err: err}
	}

	metrics.IncrementEventPublish(mqcontracts.RoutingKeyTaskCreated, "success")
	p.logger.Info("Published task.created",
		zap.Int64("task_id", t.ID),
		zap.Int64("origin_project_id", t.OriginProjectID),
	)
	return nil
}

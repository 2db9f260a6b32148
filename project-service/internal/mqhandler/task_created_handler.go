package mqhandler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/errs"
	"projectsync/pkg/logger"
	"projectsync/pkg/metrics"
	"projectsync/pkg/mq"
	"projectsync/pkg/util"
	"projectsync/project-service/internal/fanout"
)

const retryHandler = "task-created"

// Engine is the fan-out the handler drives.
type Engine interface {
	Handle(ctx context.Context, raw []byte) (fanout.Result, error)
}

type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, d mq.DeadLetter) error
}

type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// TaskCreatedHandler decides ack, requeue or dead-letter for each task.created delivery.
// Returning nil acks; returning an error nacks with requeue.
type TaskCreatedHandler struct {
	engine     Engine
	dlq        DeadLetterPublisher
	retries    RetryTracker
	maxRetries int64
	logger     *zap.Logger
}

func NewTaskCreatedHandler(engine Engine, dlq DeadLetterPublisher, retries RetryTracker, maxRetries int, logger *zap.Logger) *TaskCreatedHandler {
	return &TaskCreatedHandler{
		engine:     engine,
		dlq:        dlq,
		retries:    retries,
		maxRetries: int64(maxRetries),
		logger:     logger,
	}
}

func (h *TaskCreatedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)
	res, err := h.engine.Handle(ctx, raw)
	retryKey := util.FormatRetryKey(retryHandler, messageKey(res, raw))

	if err == nil {
		if rerr := h.retries.Reset(ctx, retryKey); rerr != nil {
			log.Warn("Failed to reset retry count", zap.String("retry_key", retryKey), zap.Error(rerr))
		}
		return nil
	}

	retryable, kind := util.IsRetryableError(err)
	log = log.With(
		zap.Int64("task_id", res.TaskID),
		zap.Int64("project_id", res.OriginProjectID),
		zap.String("reason", res.Reason),
		zap.String("error_type", kind),
		zap.Bool("retryable", retryable),
	)

	// 终态：格式错误、校验失败、源项目不存在
	if errs.IsTerminal(err) {
		if errors.Is(err, errs.ErrNotFound) {
			log.Warn("Origin project gone, dropping task.created", zap.Error(err))
			return nil
		}
		return h.deadLetter(ctx, log, mq.DeadLetter{Body: raw, Reason: kind, Err: err})
	}

	// 其余失败（合并失败、源项目查询失败）一律重投，由重试计数兜底
	count, cerr := h.retries.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		log.Warn("Failed to get retry count, requeueing", zap.Error(cerr))
		return err
	}
	if !util.ShouldRetry(count, h.maxRetries) {
		log.Error("Retries exhausted", zap.Int64("retry_count", count), zap.Int64("max_retries", h.maxRetries))
		dl := mq.DeadLetter{Body: raw, Reason: "max_retries_exceeded", Err: err, Attempts: count}
		if dlqErr := h.deadLetter(ctx, log, dl); dlqErr != nil {
			return dlqErr
		}
		if rerr := h.retries.Reset(ctx, retryKey); rerr != nil {
			log.Warn("Failed to reset retry count", zap.String("retry_key", retryKey), zap.Error(rerr))
		}
		return nil
	}

	log.Warn("Fan-out failed, requeueing",
		zap.Int64("retry_count", count),
		zap.Int("failed", res.Failed),
		zap.Error(err),
	)
	return err
}

// deadLetter parks raw on the DLQ. A failed DLQ publish is returned so the delivery is requeued.
func (h *TaskCreatedHandler) deadLetter(ctx context.Context, log *zap.Logger, d mq.DeadLetter) error {
	d.RoutingKey = mqcontracts.RoutingKeyTaskCreated
	if err := h.dlq.PublishDeadLetter(ctx, d); err != nil {
		log.Error("Failed to publish to DLQ", zap.String("reason", d.Reason), zap.Error(err))
		return err
	}
	metrics.IncrementDeadLetter(d.RoutingKey, d.Reason)
	log.Error("Message sent to DLQ", zap.String("reason", d.Reason), zap.Error(d.Err))
	return nil
}

// messageKey identifies a delivery for retry bookkeeping: the task id when the body
// decoded, otherwise a digest of the body.
func messageKey(res fanout.Result, raw []byte) string {
	if res.TaskID != 0 {
		return strconv.FormatInt(res.TaskID, 10)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

package service

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"projectsync/pkg/errs"
	"projectsync/pkg/logger"
	"projectsync/task-service/internal/model"
	"projectsync/task-service/internal/repository"
)

// TaskStore is the persistence the service needs.
type TaskStore interface {
	Insert(ctx context.Context, t *model.Task) error
	InsertWithOutbox(ctx context.Context, t *model.Task, enqueue repository.EnqueueFunc) error
	Get(ctx context.Context, id int64) (*model.Task, error)
	List(ctx context.Context) ([]model.Task, error)
	FindByName(ctx context.Context, name string) ([]model.Task, error)
	Update(ctx context.Context, t *model.Task) error
	Delete(ctx context.Context, id int64) error
}

// EventPublisher publishes task.created directly to the broker.
type EventPublisher interface {
	PublishTaskCreated(ctx context.Context, t *model.Task) error
}

// OutboxWriter records task.created in the transaction that created the task.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, t *model.Task) error
}

type TaskService struct {
	store     TaskStore
	publisher EventPublisher
	outbox    OutboxWriter
	logger    *zap.Logger
}

// NewTaskService publishes directly after insert when outbox is nil.
func NewTaskService(store TaskStore, publisher EventPublisher, outbox OutboxWriter, logger *zap.Logger) *TaskService {
	return &TaskService{store: store, publisher: publisher, outbox: outbox, logger: logger}
}

// Create validates and persists a task, then emits task.created. When the broker rejects the
// event the persisted task is returned together with an *errs.TransportError.
func (s *TaskService) Create(ctx context.Context, in model.TaskInput) (*model.Task, error) {
	log := logger.WithTrace(ctx, s.logger)
	if err := in.ValidateCreate(); err != nil {
		return nil, err
	}
	task := model.NewTask(in)

	if s.outbox != nil {
		if err := s.store.InsertWithOutbox(ctx, task, s.outbox.Enqueue); err != nil {
			return nil, err
		}
		log.Info("Task created, event queued in outbox", zap.Int64("task_id", task.ID))
		return task, nil
	}

	if err := s.store.Insert(ctx, task); err != nil {
		return nil, err
	}
	if err := s.publisher.PublishTaskCreated(ctx, task); err != nil {
		log.Warn("Task persisted but task.created was not accepted",
			zap.Int64("task_id", task.ID),
			zap.Error(err),
		)
		return task, err
	}
	log.Info("Task created", zap.Int64("task_id", task.ID))
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (*model.Task, error) {
	return s.store.Get(ctx, id)
}

// List returns every task; an empty slice is not an error.
func (s *TaskService) List(ctx context.Context) ([]model.Task, error) {
	return s.store.List(ctx)
}

func (s *TaskService) FindByName(ctx context.Context, name string) ([]model.Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.NewValidation("name", "is required")
	}
	tasks, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, errs.NewNotFoundByName("task", name)
	}
	return tasks, nil
}

// Update overwrites only the fields present in in.
func (s *TaskService) Update(ctx context.Context, id int64, in model.TaskInput) (*model.Task, error) {
	if err := in.ValidateUpdate(); err != nil {
		return nil, err
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Apply(in)
	if err := s.store.Update(ctx, task); err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Task updated", zap.Int64("task_id", id))
	return task, nil
}

// Delete removes the task and returns its last state.
func (s *TaskService) Delete(ctx context.Context, id int64) (*model.Task, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Task deleted", zap.Int64("task_id", id))
	return task, nil
}

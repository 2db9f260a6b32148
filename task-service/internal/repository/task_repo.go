package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"projectsync/pkg/errs"
	"projectsync/task-service/internal/model"
)

// EnqueueFunc writes follow-up rows inside the transaction that inserted t.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, t *model.Task) error

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// EnsureSchema creates the tasks table if it does not exist.
func (r *TaskRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, taskSchema); err != nil {
		return fmt.Errorf("failed to create tasks schema: %w", err)
	}
	return nil
}

const taskColumns = `id, name, description, observation, hourly_rate, budget, estimated_hours,
	active, origin_project_id, created_at, updated_at`

const insertTask = `
	INSERT INTO tasks (name, description, observation, hourly_rate, budget, estimated_hours, active, origin_project_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, created_at, updated_at
`

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insert(ctx context.Context, q queryRower, t *model.Task) error {
	return q.QueryRow(ctx, insertTask,
		t.Name,
		t.Description,
		t.Observation,
		t.HourlyRate,
		t.Budget,
		t.EstimatedHours,
		t.Active,
		t.OriginProjectID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepository) Insert(ctx context.Context, t *model.Task) error {
	if err := insert(ctx, r.db, t); err != nil {
		r.logger.Error("Failed to insert task", zap.String("name", t.Name), zap.Error(err))
		return fmt.Errorf("insert task: %w", err)
	}
	r.logger.Info("Task inserted successfully",
		zap.Int64("task_id", t.ID),
		zap.Int64("origin_project_id", t.OriginProjectID),
	)
	return nil
}

// InsertWithOutbox inserts t and runs enqueue in the same transaction.
func (r *TaskRepository) InsertWithOutbox(ctx context.Context, t *model.Task, enqueue EnqueueFunc) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := insert(ctx, tx, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return enqueue(ctx, tx, t)
	})
	if err != nil {
		r.logger.Error("Failed to insert task with outbox event", zap.String("name", t.Name), zap.Error(err))
		return err
	}
	r.logger.Info("Task inserted with outbox event",
		zap.Int64("task_id", t.ID),
		zap.Int64("origin_project_id", t.OriginProjectID),
	)
	return nil
}

func scanTask(row pgx.Row, t *model.Task) error {
	return row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.Observation,
		&t.HourlyRate,
		&t.Budget,
		&t.EstimatedHours,
		&t.Active,
		&t.OriginProjectID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
}

func (r *TaskRepository) Get(ctx context.Context, id int64) (*model.Task, error) {
	var t model.Task
	err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id), &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NewNotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &t, nil
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		var t model.Task
		if err := scanTask(rows, &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) List(ctx context.Context) ([]model.Task, error) {
	tasks, err := r.list(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Error(err))
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) FindByName(ctx context.Context, name string) ([]model.Task, error) {
	tasks, err := r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE name = $1 ORDER BY id`, name)
	if err != nil {
		r.logger.Error("Failed to find tasks by name", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("find tasks by name: %w", err)
	}
	return tasks, nil
}

// Update persists the mutable fields of t and refreshes UpdatedAt.
func (r *TaskRepository) Update(ctx context.Context, t *model.Task) error {
	err := r.db.QueryRow(ctx, `
		UPDATE tasks
		SET name = $2, description = $3, observation = $4, hourly_rate = $5, budget = $6,
		    estimated_hours = $7, active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, t.Name, t.Description, t.Observation, t.HourlyRate, t.Budget, t.EstimatedHours, t.Active,
	).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NewNotFound("task", t.ID)
	}
	if err != nil {
		r.logger.Error("Failed to update task", zap.Int64("task_id", t.ID), zap.Error(err))
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete task", zap.Int64("task_id", id), zap.Error(err))
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return errs.NewNotFound("task", id)
	}
	r.logger.Info("Task deleted", zap.Int64("task_id", id))
	return nil
}

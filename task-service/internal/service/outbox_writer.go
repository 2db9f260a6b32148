package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/outbox"
	"projectsync/pkg/trace"
	"projectsync/task-service/internal/model"
)

const aggregateTask = "task"

// TaskOutbox writes task.created rows to the shared outbox table.
type TaskOutbox struct {
	repo *outbox.Repository
}

func NewTaskOutbox(repo *outbox.Repository) *TaskOutbox {
	return &TaskOutbox{repo: repo}
}

func (o *TaskOutbox) Enqueue(ctx context.Context, tx pgx.Tx, t *model.Task) error {
	id := t.ID
	_, err := outbox.InsertEventInTx(ctx, tx, o.repo, aggregateTask, &id,
		mqcontracts.RoutingKeyTaskCreated, trace.FromContext(ctx), t.Payload())
	return err
}

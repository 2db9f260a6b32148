package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"projectsync/pkg/errs"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// claimLease keeps a claimed row invisible to other dispatchers while it is being published.
const claimLease = 30 * time.Second

// Event 表示一个待发布的事件
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   *int64
	RoutingKey    string
	Payload       json.RawMessage
	TraceID       string
	Status        string
	RetryCount    int
	LastError     *string
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is what the dispatcher and replay service depend on.
type Store interface {
	ClaimPending(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int, cause error) error
	GetEventByID(ctx context.Context, eventID int64) (*Event, error)
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
}

// Repository 提供 Outbox 的 PostgreSQL 实现
type Repository struct {
	db DB
}

// NewRepository 创建新的 Outbox Repository
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   BIGINT,
	routing_key    TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	trace_id       TEXT        NOT NULL DEFAULT '',
	status         TEXT        NOT NULL DEFAULT 'pending',
	retry_count    INT         NOT NULL DEFAULT 0,
	last_error     TEXT,
	next_retry_at  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (status, next_retry_at, created_at);
`

// EnsureSchema 创建 outbox 表（幂等）
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create outbox schema: %w", err)
	}
	return nil
}

const eventColumns = `id, aggregate_type, aggregate_id, routing_key, payload, trace_id, status,
	retry_count, last_error, next_retry_at, created_at, updated_at`

// InsertEvent 在事务中插入事件到 outbox
// 必须在事务中调用，确保与业务数据的一致性
func (r *Repository) InsertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	if event.Status == "" {
		event.Status = StatusPending
	}
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, trace_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		event.AggregateType,
		event.AggregateID,
		event.RoutingKey,
		event.Payload,
		event.TraceID,
		event.Status,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// InsertEventInTx 序列化 payload 并在事务中插入
func InsertEventInTx(
	ctx context.Context,
	tx pgx.Tx,
	repo *Repository,
	aggregateType string,
	aggregateID *int64,
	routingKey string,
	traceID string,
	payload any,
) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	event := &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		TraceID:       traceID,
		Status:        StatusPending,
	}
	if err := repo.InsertEvent(ctx, tx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ClaimPending 领取一批到期的待发送事件，并在租约期内对其他实例隐藏
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		UPDATE outbox_events
		SET next_retry_at = NOW() + $2::interval, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'pending'
			AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + eventColumns

	rows, err := r.db.Query(ctx, query, limit, claimLease.String())
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING 不保证顺序
	slices.SortFunc(events, func(a, b *Event) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return events, nil
}

// MarkAsSent 标记事件为已发送
func (r *Repository) MarkAsSent(ctx context.Context, eventID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'sent', next_retry_at = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkAsFailed 增加重试次数，按线性退避安排下次重试；达到上限后置为 failed
func (r *Repository) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int, cause error) error {
	var lastErr *string
	if cause != nil {
		msg := cause.Error()
		lastErr = &msg
	}
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN retry_count + 1 >= $2 THEN NULL
		                         ELSE NOW() + (retry_count + 1) * INTERVAL '5 seconds' END,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, eventID, maxRetries, lastErr)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// GetEventByID 根据 ID 获取事件（用于 Replay）
func (r *Repository) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errs.NewNotFound("outbox event", eventID)
	}
	return events[0], nil
}

// GetFailedEvents 获取失败的事件（用于管理接口）
func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_events
		WHERE status = 'failed'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.RoutingKey,
			&e.Payload,
			&e.TraceID,
			&e.Status,
			&e.RetryCount,
			&e.LastError,
			&e.NextRetryAt,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return events, nil
}

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"projectsync/pkg/errs"
	"projectsync/pkg/trace"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ClaimPending(ctx context.Context, limit int) ([]*Event, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*Event)
	return events, args.Error(1)
}

func (m *mockStore) MarkAsSent(ctx context.Context, eventID int64) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *mockStore) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int, cause error) error {
	return m.Called(ctx, eventID, maxRetries, cause).Error(0)
}

func (m *mockStore) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	args := m.Called(ctx, eventID)
	event, _ := args.Get(0).(*Event)
	return event, args.Error(1)
}

func (m *mockStore) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*Event)
	return events, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	return m.Called(ctx, routingKey, payload).Error(0)
}

func event(id int64, traceID string) *Event {
	return &Event{
		ID:         id,
		RoutingKey: "task.created",
		Payload:    json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)),
		TraceID:    traceID,
		Status:     StatusPending,
	}
}

func TestDispatchOnce_PublishesAndMarks(t *testing.T) {
	store := new(mockStore)
	pub := new(mockPublisher)
	e1, e2 := event(1, "trace-1"), event(2, "")

	store.On("ClaimPending", mock.Anything, 10).Return([]*Event{e1, e2}, nil)
	pub.On("PublishWithContext", mock.MatchedBy(func(ctx context.Context) bool {
		return trace.FromContext(ctx) == "trace-1"
	}), "task.created", e1.Payload).Return(nil)
	pub.On("PublishWithContext", mock.Anything, "task.created", e2.Payload).Return(errors.New("channel closed"))
	store.On("MarkAsSent", mock.Anything, int64(1)).Return(nil)
	store.On("MarkAsFailed", mock.Anything, int64(2), 3, mock.Anything).Return(nil)

	d := NewDispatcher(store, pub, zap.NewNop()).WithBatchSize(10).WithMaxRetries(3)
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDispatchOnce_ClaimError(t *testing.T) {
	store := new(mockStore)
	store.On("ClaimPending", mock.Anything, 100).Return(nil, errors.New("db down"))

	d := NewDispatcher(store, new(mockPublisher), zap.NewNop())
	_, err := d.DispatchOnce(context.Background())
	require.Error(t, err)
}

func TestDispatchOnce_Empty(t *testing.T) {
	store := new(mockStore)
	pub := new(mockPublisher)
	store.On("ClaimPending", mock.Anything, 100).Return([]*Event{}, nil)

	sent, err := NewDispatcher(store, pub, zap.NewNop()).DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, sent)
	pub.AssertNotCalled(t, "PublishWithContext", mock.Anything, mock.Anything, mock.Anything)
}

func TestReplayEvent_NotFound(t *testing.T) {
	store := new(mockStore)
	store.On("GetEventByID", mock.Anything, int64(9)).Return(nil, errs.NewNotFound("outbox event", 9))

	svc := NewReplayService(store, new(mockPublisher), zap.NewNop(), 0)
	err := svc.ReplayEvent(context.Background(), 9)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReplayFailedEvents_ContinuesPastFailures(t *testing.T) {
	store := new(mockStore)
	pub := new(mockPublisher)
	e1, e2 := event(1, ""), event(2, "")
	e1.Status, e2.Status = StatusFailed, StatusFailed

	store.On("GetFailedEvents", mock.Anything, 50).Return([]*Event{e1, e2}, nil)
	store.On("GetEventByID", mock.Anything, int64(1)).Return(e1, nil)
	store.On("GetEventByID", mock.Anything, int64(2)).Return(e2, nil)
	pub.On("PublishWithContext", mock.Anything, "task.created", e1.Payload).Return(errors.New("nack"))
	pub.On("PublishWithContext", mock.Anything, "task.created", e2.Payload).Return(nil)
	store.On("MarkAsFailed", mock.Anything, int64(1), 5, mock.Anything).Return(nil)
	store.On("MarkAsSent", mock.Anything, int64(2)).Return(nil)

	svc := NewReplayService(store, pub, zap.NewNop(), 5)
	n, err := svc.ReplayFailedEvents(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	store.AssertExpectations(t)
}

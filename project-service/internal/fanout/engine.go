// Package fanout merges a created task into its origin project and every project that
// depends on the origin.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/errs"
	"projectsync/pkg/logger"
	"projectsync/pkg/metrics"
	appotel "projectsync/pkg/otel"
	"projectsync/project-service/internal/model"
	"projectsync/project-service/internal/relation"
)

const markerHandler = "fanout-merge"

const (
	defaultCASAttempts = 5
	defaultParallelism = 4
)

// Store is the project persistence the engine merges into.
type Store interface {
	Get(ctx context.Context, id int64) (*model.Project, error)
	AppendTask(ctx context.Context, projectID, expectedVersion int64, task model.Task) (bool, error)
}

// Marker remembers (task, project) pairs already merged. It is a shortcut only; a missing
// or lost marker falls back to the project's own task collection.
type Marker interface {
	Seen(ctx context.Context, handler, key string) bool
	Mark(ctx context.Context, handler, key string)
}

type Outcome string

const (
	OutcomeMerged  Outcome = "merged"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Merge is the outcome for one project.
type Merge struct {
	ProjectID int64
	Outcome   Outcome
	Err       error
}

// Result summarizes one handled event. Merged, Skipped and Failed count dependents only;
// the origin project's own copy is reported in Origin.
type Result struct {
	State           State
	Reason          string
	TaskID          int64
	OriginProjectID int64
	Origin          Merge
	Dependents      []Merge
	Merged          int
	Skipped         int
	Failed          int
}

type Engine struct {
	store       Store
	index       relation.Index
	marker      Marker
	casAttempts int
	parallelism int
	logger      *zap.Logger
}

func NewEngine(store Store, index relation.Index, logger *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		index:       index,
		casAttempts: defaultCASAttempts,
		parallelism: defaultParallelism,
		logger:      logger,
	}
}

func (e *Engine) WithMarker(m Marker) *Engine {
	e.marker = m
	return e
}

func (e *Engine) WithCASAttempts(n int) *Engine {
	if n > 0 {
		e.casAttempts = n
	}
	return e
}

// WithParallelism bounds how many dependents are merged at once.
func (e *Engine) WithParallelism(n int) *Engine {
	if n > 0 {
		e.parallelism = n
	}
	return e
}

// Handle runs one task.created body through received -> resolved -> applied, or to failed.
// The returned error is nil only when the event reached applied.
func (e *Engine) Handle(ctx context.Context, raw []byte) (res Result, err error) {
	ctx, span := appotel.StartSpan(ctx, "fanout.handle")
	defer func() {
		span.SetAttributes(
			attribute.Int64("task.id", res.TaskID),
			attribute.Int64("project.origin_id", res.OriginProjectID),
			attribute.String("fanout.state", string(res.State)),
			attribute.Int("fanout.merged", res.Merged),
			attribute.Int("fanout.failed", res.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, res.Reason)
		}
		span.End()
	}()

	res, err = e.handle(ctx, raw)
	return res, err
}

func (e *Engine) handle(ctx context.Context, raw []byte) (Result, error) {
	m := newMachine()
	res := Result{State: m.state}
	log := logger.WithTrace(ctx, e.logger)

	payload, err := mqcontracts.DecodeTaskCreated(raw)
	if err != nil {
		return e.fail(log, m, res, "malformed", err)
	}
	task := model.TaskFromPayload(payload)
	res.TaskID = task.ID
	res.OriginProjectID = task.OriginProjectID
	log = log.With(zap.Int64("task_id", task.ID), zap.Int64("project_id", task.OriginProjectID))

	origin, err := e.store.Get(ctx, task.OriginProjectID)
	if err != nil {
		reason := "origin_lookup"
		if errors.Is(err, errs.ErrNotFound) {
			reason = "origin_not_found"
		}
		return e.fail(log, m, res, reason, err)
	}

	dependents, err := e.index.DependentsOf(ctx, origin.ID)
	if err != nil {
		return e.fail(log, m, res, "resolve_dependents", fmt.Errorf("resolve dependents of project %d: %w", origin.ID, err))
	}
	if err := m.to(StateResolved); err != nil {
		return res, err
	}
	res.State = m.state
	metrics.ObserveFanoutDependents(len(dependents))

	res.Origin = e.merge(ctx, origin, task)

	res.Dependents = make([]Merge, len(dependents))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i := range dependents {
		dep := &dependents[i]
		if dep.ID == origin.ID {
			res.Dependents[i] = Merge{ProjectID: dep.ID, Outcome: OutcomeSkipped}
			continue
		}
		g.Go(func() error {
			res.Dependents[i] = e.merge(ctx, dep, task)
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	if res.Origin.Outcome == OutcomeFailed {
		failures = append(failures, res.Origin.Err)
	}
	for _, d := range res.Dependents {
		switch d.Outcome {
		case OutcomeMerged:
			res.Merged++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeFailed:
			res.Failed++
			failures = append(failures, d.Err)
		}
	}
	metrics.AddFanoutMerges(res.Merged, res.Skipped, res.Failed)

	if len(failures) > 0 {
		return e.fail(log, m, res, "merge_failed", errors.Join(failures...))
	}
	if err := m.to(StateApplied); err != nil {
		return res, err
	}
	res.State = m.state
	metrics.IncrementFanoutEvent(string(res.State), "")
	log.Info("Task fan-out applied",
		zap.String("state", string(res.State)),
		zap.String("origin", string(res.Origin.Outcome)),
		zap.Int("dependents", len(res.Dependents)),
		zap.Int("merged", res.Merged),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// merge appends task to project p unless it is already there. A lost version check reloads
// the project and tries again, up to casAttempts times.
func (e *Engine) merge(ctx context.Context, p *model.Project, task model.Task) Merge {
	out := Merge{ProjectID: p.ID}
	key := fmt.Sprintf("%d:%d", task.ID, p.ID)
	if e.marker != nil && e.marker.Seen(ctx, markerHandler, key) {
		out.Outcome = OutcomeSkipped
		return out
	}

	current := p
	var err error
	for attempt := 0; attempt < e.casAttempts; attempt++ {
		if attempt > 0 {
			current, err = e.store.Get(ctx, p.ID)
			if errors.Is(err, errs.ErrNotFound) {
				out.Outcome = OutcomeSkipped
				return out
			}
			if err != nil {
				break
			}
		}
		if current.HasTask(task.ID) {
			e.mark(ctx, key)
			out.Outcome = OutcomeSkipped
			return out
		}

		var added bool
		added, err = e.store.AppendTask(ctx, current.ID, current.Version, task)
		if err == nil {
			e.mark(ctx, key)
			out.Outcome = OutcomeSkipped
			if added {
				out.Outcome = OutcomeMerged
			}
			return out
		}
		if errors.Is(err, errs.ErrNotFound) {
			out.Outcome = OutcomeSkipped
			return out
		}
		if !errors.Is(err, errs.ErrConflict) || attempt == e.casAttempts-1 {
			break
		}
		if waitErr := backoff(ctx, attempt); waitErr != nil {
			err = waitErr
			break
		}
	}

	e.logger.Warn("Failed to merge task copy",
		zap.Int64("task_id", task.ID),
		zap.Int64("project_id", p.ID),
		zap.Error(err),
	)
	out.Outcome = OutcomeFailed
	out.Err = fmt.Errorf("merge task %d into project %d: %w", task.ID, p.ID, err)
	return out
}

func (e *Engine) mark(ctx context.Context, key string) {
	if e.marker != nil {
		e.marker.Mark(ctx, markerHandler, key)
	}
}

func (e *Engine) fail(log *zap.Logger, m *machine, res Result, reason string, cause error) (Result, error) {
	if err := m.to(StateFailed); err != nil {
		return res, errors.Join(cause, err)
	}
	res.State = m.state
	res.Reason = reason
	metrics.IncrementFanoutEvent(string(res.State), reason)
	log.Warn("Task fan-out failed",
		zap.String("state", string(res.State)),
		zap.String("reason", reason),
		zap.Int("merged", res.Merged),
		zap.Int("failed", res.Failed),
		zap.Error(cause),
	)
	return res, cause
}

func backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt+1) * 5 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

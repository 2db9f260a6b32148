package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"projectsync/pkg/errs"
	appotel "projectsync/pkg/otel"
	"projectsync/project-service/internal/model"
)

// ProjectRepository stores projects with their task copies and outgoing links in PostgreSQL.
// Every write to a project row bumps version; writers pass the version they read.
type ProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProjectRepository(db *pgxpool.Pool, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger}
}

// EnsureSchema creates the project tables if they do not exist.
func (r *ProjectRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, projectSchema); err != nil {
		return fmt.Errorf("failed to create project schema: %w", err)
	}
	return nil
}

const projectColumns = `p.id, p.name, p.description, p.progress, p.total_cost, p.estimated_hours, p.budget,
	p.client, p.client_address, p.active, p.version, p.created_at, p.updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *ProjectRepository) Create(ctx context.Context, p *model.Project) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO projects (name, description, progress, total_cost, estimated_hours, budget, client, client_address, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at, updated_at
	`, p.Name, p.Description, p.Progress, p.TotalCost, p.EstimatedHours, p.Budget, p.Client, p.ClientAddress, p.Active,
	).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert project", zap.String("name", p.Name), zap.Error(err))
		return fmt.Errorf("insert project: %w", err)
	}
	if p.Tasks == nil {
		p.Tasks = []model.Task{}
	}
	if p.RelatedProjects == nil {
		p.RelatedProjects = []model.RelatedProject{}
	}
	r.logger.Info("Project inserted successfully", zap.Int64("project_id", p.ID))
	return nil
}

func (r *ProjectRepository) Get(ctx context.Context, id int64) (*model.Project, error) {
	projects, err := r.query(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	if len(projects) == 0 {
		return nil, errs.NewNotFound("project", id)
	}
	return &projects[0], nil
}

// List returns every project with its full state.
func (r *ProjectRepository) List(ctx context.Context) ([]model.Project, error) {
	projects, err := r.query(ctx, `SELECT `+projectColumns+` FROM projects p ORDER BY p.id`)
	if err != nil {
		r.logger.Error("Failed to list projects", zap.Error(err))
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (r *ProjectRepository) FindByName(ctx context.Context, name string) ([]model.Project, error) {
	projects, err := r.query(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.name = $1 ORDER BY p.id`, name)
	if err != nil {
		return nil, fmt.Errorf("find projects by name: %w", err)
	}
	return projects, nil
}

// DependentsOf returns the projects holding a link to targetID, via the target index.
func (r *ProjectRepository) DependentsOf(ctx context.Context, targetID int64) (projects []model.Project, err error) {
	ctx, span := appotel.DBSpan(ctx, "select", "related_projects")
	defer func() { appotel.EndDBSpan(span, err) }()

	projects, err = r.query(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN related_projects rp ON rp.project_id = p.id
		WHERE rp.target_project_id = $1
		ORDER BY p.id
	`, targetID)
	if err != nil {
		r.logger.Error("Failed to resolve dependents", zap.Int64("project_id", targetID), zap.Error(err))
		return nil, fmt.Errorf("dependents of project %d: %w", targetID, err)
	}
	return projects, nil
}

// Update writes the scalar fields of p if its version is still p.Version.
func (r *ProjectRepository) Update(ctx context.Context, p *model.Project) error {
	err := r.db.QueryRow(ctx, `
		UPDATE projects
		SET name = $3, description = $4, progress = $5, total_cost = $6, estimated_hours = $7, budget = $8,
		    client = $9, client_address = $10, active = $11, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, p.ID, p.Version, p.Name, p.Description, p.Progress, p.TotalCost, p.EstimatedHours, p.Budget,
		p.Client, p.ClientAddress, p.Active,
	).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrConflict(ctx, p.ID, p.Version)
	}
	if err != nil {
		r.logger.Error("Failed to update project", zap.Int64("project_id", p.ID), zap.Error(err))
		return fmt.Errorf("update project %d: %w", p.ID, err)
	}
	return nil
}

// Delete removes the project with its task copies and its own links. Links held by other
// projects that target it are left in place.
func (r *ProjectRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete project", zap.Int64("project_id", id), zap.Error(err))
		return fmt.Errorf("delete project %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return errs.NewNotFound("project", id)
	}
	r.logger.Info("Project deleted", zap.Int64("project_id", id))
	return nil
}

// AddRelation stores the link projectID -> targetID if the target exists. It reports false
// when the link already existed.
func (r *ProjectRepository) AddRelation(ctx context.Context, projectID, targetID int64, targetName string) (bool, error) {
	result, err := r.db.Exec(ctx, `
		INSERT INTO related_projects (project_id, target_project_id, name)
		SELECT $1, id, $3 FROM projects WHERE id = $2
		ON CONFLICT (project_id, target_project_id) DO NOTHING
	`, projectID, targetID, targetName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return false, errs.NewNotFound("project", projectID)
		}
		r.logger.Error("Failed to add relation",
			zap.Int64("project_id", projectID),
			zap.Int64("target_project_id", targetID),
			zap.Error(err),
		)
		return false, fmt.Errorf("relate project %d to %d: %w", projectID, targetID, err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	var linked bool
	err = r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM related_projects WHERE project_id = $1 AND target_project_id = $2)
	`, projectID, targetID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("check relation %d -> %d: %w", projectID, targetID, err)
	}
	if !linked {
		return false, errs.NewNotFound("project", targetID)
	}
	return false, nil
}

// AppendTask adds a copy of task to projectID if the project is still at expectedVersion.
// It reports false when the copy was already present.
func (r *ProjectRepository) AppendTask(ctx context.Context, projectID, expectedVersion int64, task model.Task) (appended bool, err error) {
	ctx, span := appotel.DBSpan(ctx, "append_task", "project_tasks")
	defer func() { appotel.EndDBSpan(span, err) }()

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE projects SET version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $2
		`, projectID, expectedVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.missOrConflict(ctx, projectID, expectedVersion)
		}

		tag, err = tx.Exec(ctx, `
			INSERT INTO project_tasks (project_id, task_id, name, description, observation, hourly_rate, budget,
			                           estimated_hours, active, origin_project_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (project_id, task_id) DO NOTHING
		`, projectID, task.ID, task.Name, task.Description, task.Observation, task.HourlyRate, task.Budget,
			task.EstimatedHours, task.Active, task.OriginProjectID, task.CreatedAt, task.UpdatedAt)
		if err != nil {
			return err
		}
		appended = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return appended, nil
}

func (r *ProjectRepository) missOrConflict(ctx context.Context, id, expectedVersion int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check project %d: %w", id, err)
	}
	if !exists {
		return errs.NewNotFound("project", id)
	}
	return &errs.ConflictError{Entity: "project", ID: id, ExpectedVersion: expectedVersion}
}

// query runs a project SELECT and attaches the owned collections of every row returned.
func (r *ProjectRepository) query(ctx context.Context, sql string, args ...any) ([]model.Project, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	projects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Project, error) {
		var p model.Project
		err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Progress, &p.TotalCost, &p.EstimatedHours, &p.Budget,
			&p.Client, &p.ClientAddress, &p.Active, &p.Version, &p.CreatedAt, &p.UpdatedAt)
		p.Tasks = []model.Task{}
		p.RelatedProjects = []model.RelatedProject{}
		return p, err
	})
	if err != nil || len(projects) == 0 {
		return projects, err
	}

	index := make(map[int64]int, len(projects))
	ids := make([]int64, len(projects))
	for i, p := range projects {
		index[p.ID] = i
		ids[i] = p.ID
	}
	if err := loadTasks(ctx, r.db, ids, projects, index); err != nil {
		return nil, err
	}
	if err := loadRelations(ctx, r.db, ids, projects, index); err != nil {
		return nil, err
	}
	return projects, nil
}

func loadTasks(ctx context.Context, q querier, ids []int64, projects []model.Project, index map[int64]int) error {
	rows, err := q.Query(ctx, `
		SELECT project_id, task_id, name, description, observation, hourly_rate, budget, estimated_hours,
		       active, origin_project_id, created_at, updated_at
		FROM project_tasks
		WHERE project_id = ANY($1)
		ORDER BY project_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load task copies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var projectID int64
		var t model.Task
		if err := rows.Scan(&projectID, &t.ID, &t.Name, &t.Description, &t.Observation, &t.HourlyRate, &t.Budget,
			&t.EstimatedHours, &t.Active, &t.OriginProjectID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return fmt.Errorf("scan task copy: %w", err)
		}
		i := index[projectID]
		projects[i].Tasks = append(projects[i].Tasks, t)
	}
	return rows.Err()
}

func loadRelations(ctx context.Context, q querier, ids []int64, projects []model.Project, index map[int64]int) error {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, target_project_id, name, created_at
		FROM related_projects
		WHERE project_id = ANY($1)
		ORDER BY project_id, id
	`, ids)
	if err != nil {
		return fmt.Errorf("load related projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rp model.RelatedProject
		if err := rows.Scan(&rp.ID, &rp.ProjectID, &rp.TargetProjectID, &rp.Name, &rp.CreatedAt); err != nil {
			return fmt.Errorf("scan related project: %w", err)
		}
		i := index[rp.ProjectID]
		projects[i].RelatedProjects = append(projects[i].RelatedProjects, rp)
	}
	return rows.Err()
}

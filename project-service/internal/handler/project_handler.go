package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projectsync/pkg/errs"
	"projectsync/pkg/logger"
	"projectsync/project-service/internal/model"
)

type ProjectService interface {
	Create(ctx context.Context, in model.ProjectInput) (*model.Project, error)
	Get(ctx context.Context, id int64) (*model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
	FindByName(ctx context.Context, name string) ([]model.Project, error)
	Update(ctx context.Context, id int64, in model.ProjectInput) (*model.Project, error)
	Delete(ctx context.Context, id int64) (*model.Project, error)
	Relate(ctx context.Context, projectID, targetID int64) (*model.Project, error)
	Dependents(ctx context.Context, id int64) ([]model.Project, error)
}

type ProjectHandler struct {
	svc    ProjectService
	logger *zap.Logger
}

func NewProjectHandler(svc ProjectService, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, logger: logger}
}

func (h *ProjectHandler) fail(c *gin.Context, op string, err error) {
	status := errs.HTTPStatus(err)
	log := logger.WithTrace(c.Request.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err))
	} else {
		log.Warn(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id: " + c.Param(param)})
		return 0, false
	}
	return id, true
}

func bindInput(c *gin.Context) (model.ProjectInput, bool) {
	var in model.ProjectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return in, false
	}
	return in, true
}

func (h *ProjectHandler) CreateProject(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	p, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "CreateProject", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *ProjectHandler) GetProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "GetProject", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProjectHandler) ListProjects(c *gin.Context) {
	projects, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, "ListProjects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *ProjectHandler) SearchProjects(c *gin.Context) {
	projects, err := h.svc.FindByName(c.Request.Context(), c.Query("name"))
	if err != nil {
		h.fail(c, "SearchProjects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	in, ok := bindInput(c)
	if !ok {
		return
	}
	p, err := h.svc.Update(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, "UpdateProject", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Delete(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "DeleteProject", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// RelateProject makes :id depend on :targetId.
func (h *ProjectHandler) RelateProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	targetID, ok := parseID(c, "targetId")
	if !ok {
		return
	}
	p, err := h.svc.Relate(c.Request.Context(), id, targetID)
	if err != nil {
		h.fail(c, "RelateProject", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProjectHandler) ListDependents(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	projects, err := h.svc.Dependents(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "ListDependents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projectsync/pkg/errs"
	"projectsync/pkg/logger"
	"projectsync/task-service/internal/model"
)

// TaskService is the use-case surface the handler drives.
type TaskService interface {
	Create(ctx context.Context, in model.TaskInput) (*model.Task, error)
	Get(ctx context.Context, id int64) (*model.Task, error)
	List(ctx context.Context) ([]model.Task, error)
	FindByName(ctx context.Context, name string) ([]model.Task, error)
	Update(ctx context.Context, id int64, in model.TaskInput) (*model.Task, error)
	Delete(ctx context.Context, id int64) (*model.Task, error)
}

type TaskHandler struct {
	svc    TaskService
	logger *zap.Logger
}

func NewTaskHandler(svc TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

func (h *TaskHandler) fail(c *gin.Context, op string, err error) {
	status := errs.HTTPStatus(err)
	log := logger.WithTrace(c.Request.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err))
	} else {
		log.Warn(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return id, true
}

func bindInput(c *gin.Context) (model.TaskInput, bool) {
	var in model.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return in, false
	}
	return in, true
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}

	task, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		// 任务已持久化但事件未被 broker 接收：返回任务本身并标记发布失败
		if errors.Is(err, errs.ErrTransport) && task != nil {
			logger.WithTrace(c.Request.Context(), h.logger).Error("CreateTask: event not published",
				zap.Int64("task_id", task.ID),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "task": task})
			return
		}
		h.fail(c, "CreateTask", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "GetTask", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, "ListTasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) SearchTasks(c *gin.Context) {
	tasks, err := h.svc.FindByName(c.Request.Context(), c.Query("name"))
	if err != nil {
		h.fail(c, "SearchTasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	in, ok := bindInput(c)
	if !ok {
		return
	}
	task, err := h.svc.Update(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, "UpdateTask", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task, err := h.svc.Delete(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "DeleteTask", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"projectsync/pkg/auth"
	"projectsync/pkg/metrics"
	appotel "projectsync/pkg/otel"
	"projectsync/pkg/rbac"
	"projectsync/pkg/trace"
	"projectsync/task-service/internal/handler"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Tasks  *handler.TaskHandler
	Outbox *handler.OutboxHandler // nil unless publish.mode is outbox
	Guard  *auth.Guard
	Ready  []ReadinessCheck
	Logger *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(trace.GinMiddleware())
	r.Use(appotel.GinMiddleware())
	r.Use(metrics.GinMiddleware())

	// 添加请求日志中间件
	logger := d.Logger
	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
	})

	registerHealth(r, d.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guard := d.Guard
	if guard == nil {
		guard = auth.NewGuard("")
	}
	api := r.Group("/", guard.Authenticate())

	tasks := api.Group("/tasks")
	tasks.POST("", guard.Require(rbac.PermissionWriteTask), d.Tasks.CreateTask)
	tasks.GET("", guard.Require(rbac.PermissionReadTask), d.Tasks.ListTasks)
	tasks.GET("/search", guard.Require(rbac.PermissionReadTask), d.Tasks.SearchTasks)
	tasks.GET("/:id", guard.Require(rbac.PermissionReadTask), d.Tasks.GetTask)
	tasks.PATCH("/:id", guard.Require(rbac.PermissionWriteTask), d.Tasks.UpdateTask)
	tasks.PUT("/:id", guard.Require(rbac.PermissionWriteTask), d.Tasks.UpdateTask)
	tasks.DELETE("/:id", guard.Require(rbac.PermissionDeleteTask), d.Tasks.DeleteTask)

	if d.Outbox != nil {
		api.POST("/admin/outbox/replay", guard.Require(rbac.PermissionReplayOutbox), d.Outbox.Replay)
	}
	return r
}

func registerHealth(r *gin.Engine, checks []ReadinessCheck) {
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	head := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/healthz", ok)
	r.HEAD("/healthz", head)
	r.GET("/health", ok)
	r.HEAD("/health", head)

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": check.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

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
	"projectsync/project-service/internal/handler"
)

type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Projects *handler.ProjectHandler
	Guard    *auth.Guard
	Ready    []ReadinessCheck
	Logger   *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(trace.GinMiddleware())
	r.Use(appotel.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(requestLog(d.Logger))

	registerHealth(r, d.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guard := d.Guard
	if guard == nil {
		guard = auth.NewGuard("")
	}
	projects := r.Group("/projects", guard.Authenticate())
	projects.POST("", guard.Require(rbac.PermissionWriteProject), d.Projects.CreateProject)
	projects.GET("", guard.Require(rbac.PermissionReadProject), d.Projects.ListProjects)
	projects.GET("/search", guard.Require(rbac.PermissionReadProject), d.Projects.SearchProjects)
	projects.GET("/:id", guard.Require(rbac.PermissionReadProject), d.Projects.GetProject)
	projects.PATCH("/:id", guard.Require(rbac.PermissionWriteProject), d.Projects.UpdateProject)
	projects.PUT("/:id", guard.Require(rbac.PermissionWriteProject), d.Projects.UpdateProject)
	projects.DELETE("/:id", guard.Require(rbac.PermissionDeleteProject), d.Projects.DeleteProject)
	projects.POST("/:id/related/:targetId", guard.Require(rbac.PermissionRelateProject), d.Projects.RelateProject)
	projects.GET("/:id/dependents", guard.Require(rbac.PermissionReadProject), d.Projects.ListDependents)
	return r
}

func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
	}
}

func registerHealth(r *gin.Engine, checks []ReadinessCheck) {
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	r.GET("/healthz", ok)
	r.GET("/health", ok)

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

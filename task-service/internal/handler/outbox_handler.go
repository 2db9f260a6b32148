package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projectsync/pkg/errs"
)

// OutboxReplayer re-publishes outbox events that exhausted their retries.
type OutboxReplayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type OutboxHandler struct {
	replayer OutboxReplayer
	logger   *zap.Logger
}

func NewOutboxHandler(replayer OutboxReplayer, logger *zap.Logger) *OutboxHandler {
	return &OutboxHandler{replayer: replayer, logger: logger}
}

// Replay handles POST /admin/outbox/replay[?event_id=N][&limit=N].
func (h *OutboxHandler) Replay(c *gin.Context) {
	if raw := c.Query("event_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
			return
		}
		if err := h.replayer.ReplayEvent(c.Request.Context(), id); err != nil {
			h.logger.Warn("Outbox replay failed", zap.Int64("event_id", id), zap.Error(err))
			c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"replayed": 1})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	n, err := h.replayer.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Outbox replay failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": n})
}

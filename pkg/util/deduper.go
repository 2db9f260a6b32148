package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis 的去重标记。Redis 不可用时一律放行，数据库约束仍是最终保障。
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// DedupKey formats the marker key for a handler and an entity key.
func DedupKey(handler, key string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, key)
}

// Seen reports whether a marker exists. Errors count as not seen.
func (d *Deduper) Seen(ctx context.Context, handler, key string) bool {
	n, err := d.rdb.Exists(ctx, DedupKey(handler, key)).Result()
	if err != nil {
		d.logger.Warn("Redis dedup lookup failed", zap.String("handler", handler), zap.Error(err))
		return false
	}
	return n > 0
}

// Mark records handler+key as processed. Failures are logged only.
func (d *Deduper) Mark(ctx context.Context, handler, key string) {
	if err := d.rdb.Set(ctx, DedupKey(handler, key), 1, d.ttl).Err(); err != nil {
		d.logger.Warn("Redis dedup mark failed", zap.String("handler", handler), zap.Error(err))
	}
}

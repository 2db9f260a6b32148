package util

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR 与首次设置过期时间在同一个脚本里完成，避免计数键永不过期
var incrWithTTL = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RetryCounter counts failed deliveries of one message across redeliveries and consumer restarts.
type RetryCounter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRetryCounter(rdb redis.Cmdable, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet bumps the count for key and returns the new value. The key expires
// ttl after its first increment.
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	return incrWithTTL.Run(ctx, r.rdb, []string{key}, r.ttl.Milliseconds()).Int64()
}

func (r *RetryCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatRetryKey builds the key for handler's retry count of the message identified by id.
func FormatRetryKey(handler, id string) string {
	return "retry:" + handler + ":" + id
}

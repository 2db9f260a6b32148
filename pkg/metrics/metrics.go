package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue", "outcome"},
	)

	// 事件发布计数
	EventPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of task events handed to the broker",
		},
		[]string{"routing_key", "status"}, // status: success, failed, breaker_open
	)

	// Fan-out 事件终态计数
	FanoutEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_events_total",
			Help: "Task events processed by the fan-out engine, by terminal state",
		},
		[]string{"state", "reason"},
	)

	// Fan-out 每个依赖项目的合并结果
	FanoutMergeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_merges_total",
			Help: "Per-project merge outcomes of the fan-out engine",
		},
		[]string{"outcome"}, // outcome: merged, skipped, failed
	)

	// Fan-out 每个事件的依赖项目数量
	FanoutDependents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_dependents",
			Help:    "Number of dependent projects resolved per task event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// 死信计数
	DeadLetterCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_dead_letter_total",
			Help: "Messages routed to the dead-letter queue",
		},
		[]string{"routing_key", "reason"},
	)

	// 数据库慢查询计数
	DBSlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
	)

	// 数据库慢查询耗时（秒）
	DBSlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12.8s
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Outbox 待发送积压
	OutboxDispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dispatch_total",
			Help: "Outbox events dispatched by result",
		},
		[]string{"event_type", "status"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue, outcome string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue, outcome).Observe(float64(duration.Milliseconds()))
}

// IncrementEventPublish 记录事件发布结果
func IncrementEventPublish(routingKey, status string) {
	EventPublishCount.WithLabelValues(routingKey, status).Inc()
}

// IncrementFanoutEvent 记录 fan-out 事件终态
func IncrementFanoutEvent(state, reason string) {
	FanoutEventCount.WithLabelValues(state, reason).Inc()
}

// AddFanoutMerges 批量记录合并结果
func AddFanoutMerges(merged, skipped, failed int) {
	FanoutMergeCount.WithLabelValues("merged").Add(float64(merged))
	FanoutMergeCount.WithLabelValues("skipped").Add(float64(skipped))
	FanoutMergeCount.WithLabelValues("failed").Add(float64(failed))
}

// ObserveFanoutDependents 记录依赖项目数量
func ObserveFanoutDependents(n int) {
	FanoutDependents.Observe(float64(n))
}

// IncrementDeadLetter 记录死信
func IncrementDeadLetter(routingKey, reason string) {
	DeadLetterCount.WithLabelValues(routingKey, reason).Inc()
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(duration time.Duration) {
	DBSlowQueryCount.Inc()
	DBSlowQueryDuration.Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementOutboxDispatch 记录 outbox 发送结果
func IncrementOutboxDispatch(eventType, status string) {
	OutboxDispatchCount.WithLabelValues(eventType, status).Inc()
}

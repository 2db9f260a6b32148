package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"projectsync/pkg/circuitbreaker"
	"projectsync/pkg/errs"
)

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 终态错误：重投同一条消息不会改变结果
	if errs.IsTerminal(err) {
		switch {
		case errors.Is(err, errs.ErrMalformedEvent):
			return false, "malformed_event"
		case errors.Is(err, errs.ErrNotFound):
			return false, "not_found"
		default:
			return false, "validation"
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	// 并发冲突、broker 拒绝：稍后重试即可
	if errors.Is(err, errs.ErrConflict) {
		return true, "conflict"
	}
	if errors.Is(err, errs.ErrTransport) || errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "transport"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(pgErr.Code)
	}
	if pgconn.SafeToRetry(err) {
		return true, "db_connection_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// classifyPgError maps a SQLSTATE to (retryable, kind).
func classifyPgError(code string) (bool, string) {
	switch code {
	case "23505": // unique_violation
		return false, "duplicate_key"
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true, "db_serialization"
	}
	if len(code) < 2 {
		return false, "db_error"
	}
	switch code[:2] {
	case "08", "57": // connection exception; operator intervention incl. 57014 query_canceled
		return true, "db_connection_error"
	case "53": // insufficient resources, e.g. 53300 too_many_connections
		return true, "db_resources"
	case "55": // object not in prerequisite state, e.g. 55P03 lock_not_available
		return true, "db_lock"
	}
	return false, "db_error"
}

// ShouldRetry reports whether a delivery that has failed retryCount times may be requeued again.
func ShouldRetry(retryCount, maxRetries int64) bool {
	return retryCount <= maxRetries
}

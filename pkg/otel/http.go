package otel

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// 探针和抓取接口不产生 span
var untracedRoutes = map[string]bool{
	"/healthz": true,
	"/health":  true,
	"/readyz":  true,
	"/metrics": true,
}

// GinMiddleware starts a server span per request, continuing any traceparent the caller sent.
// Only 5xx responses mark the span as failed; 4xx are the caller's error.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if untracedRoutes[route] {
			c.Next()
			return
		}
		if route == "" {
			route = "unmatched"
		}

		carrier := propagation.HeaderCarrier(c.Request.Header)
		ctx := GetTextMapPropagator().Extract(c.Request.Context(), carrier)
		ctx, span := Tracer().Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", c.Request.URL.Path),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		for _, e := range c.Errors {
			span.RecordError(e.Err)
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(status))
		}
	}
}

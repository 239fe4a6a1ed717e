package middleware

import (
	"log/slog"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is stored.
	RequestIDKey = "request_id"

	// LoggerKey is the gin.Context key of the request-scoped *slog.Logger.
	LoggerKey = "logger"
)

// RequestContextMiddleware prepares the per-request context shared by every later
// handler:
//   - a request identifier, reused from an inbound X-Request-ID header or generated
//     as a UUID v4, stored under RequestIDKey and echoed in the response header;
//   - a logger derived from slog.Default() carrying request_id, stored under LoggerKey;
//   - a permission memo on the request context, so repeated authorization checks in
//     one request resolve the actor's grants once.
//
// Register it right after gin.Recovery():
//
//	router.Use(gin.Recovery())
//	router.Use(RequestContextMiddleware())
//	router.Use(MetricsMiddleware())
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Set(LoggerKey, slog.Default().With("request_id", id))

		c.Request = c.Request.WithContext(auth.WithMemo(c.Request.Context()))

		c.Next()
	}
}

// RequestID returns the request identifier, or "" outside RequestContextMiddleware.
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// Logger returns the request-scoped logger, falling back to slog.Default().
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

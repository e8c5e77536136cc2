package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anuraggoyal1/stock-screener/internal/logger"
)

// trace attaches a request-scoped trace ID to the context and echoes it
// back in the X-Trace-ID header.
func (s *Server) trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Trace-ID")
		if id == "" {
			id = logger.GenerateTraceID("http", time.Now())
		}
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), id))
		c.Header("X-Trace-ID", id)
		c.Next()
	}
}

// instrument records every request in the metrics registry, labeled by
// the matched route template, and logs failures.
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveHTTP(c.Request.Method, path, status, time.Since(start))

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", logger.TraceID(c.Request.Context()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			slog.Error("http request", attrs...)
		case status >= http.StatusBadRequest:
			slog.Warn("http request", attrs...)
		default:
			slog.Debug("http request", attrs...)
		}
	}
}

// cors allows browser frontends on the configured origins. A "*" entry
// allows any origin; the request origin is echoed back so credentialed
// requests keep working.
func (s *Server) cors() gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool)
	if s.cfg != nil {
		for _, o := range s.cfg.App.CORSOrigins {
			if o == "*" {
				allowAll = true
				continue
			}
			allowed[strings.TrimRight(o, "/")] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[strings.TrimRight(origin, "/")]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

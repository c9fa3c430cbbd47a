// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request-logging spine of the API: a correlation ID
// injector, a structured access logger, and a panic-safe recovery handler.
//
//   - RequestID() gives every request a stable correlation ID, propagated via
//     the X-Request-ID header and the Gin context.
//   - Logger() emits one structured access line per request (method, route,
//     status, latency, sizes) and stores a request-scoped zerolog.Logger so
//     handlers and services can log with the same correlation fields, for
//     example lg.Info().Str("roadmap_id", id).Msg("progress updated").
//   - Recovery() converts panics into the standard JSON 500 envelope while
//     keeping the correlation ID on the response.
//   - LoggerFrom() retrieves the request-scoped logger; it never returns nil.
//
// Install order matters: RequestID first, then Logger (or RedactingLogger),
// then Recovery, so a panic is logged with the correlation ID already set.
// Query strings are truncated before logging to keep log lines bounded.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey is the Gin context key for the request-scoped logger.
	loggerKey = "logger"
	// maxLoggedQuery caps the bytes of raw query string written per log line.
	// Roadmap listing and resource search accept free-text query parameters,
	// so the cap keeps a hostile ?q= from bloating the access log.
	maxLoggedQuery = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An inbound X-Request-ID is reused as-is (header lookup is case-insensitive);
// otherwise a new UUIDv4 is generated. The ID is echoed on the response header
// and stored in the context under requestIDKey.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log for each request and response and
// attaches a request-scoped zerolog.Logger under loggerKey.
//
// The line's level follows the outcome: error for 5xx or when the Gin context
// collected errors, warn for 4xx, info otherwise. The path field prefers the
// route template (e.g. /roadmaps/:id) so log aggregation groups by endpoint,
// falling back to the raw URL path for unmatched routes.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		l := accessLogger(c)
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.With().
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// accessLogger builds the request-scoped logger carrying the common access
// fields: correlation ID, acting user, method, path, client metadata and
// request size. ContentLength may be -1 when unknown.
func accessLogger(c *gin.Context) zerolog.Logger {
	rid, _ := c.Get(requestIDKey)
	uid, _ := c.Get("userID")
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}

	return log.With().
		Str("request_id", asString(rid)).
		Str("user_id", asString(uid)).
		Str("method", c.Request.Method).
		Str("path", path).
		Str("remote_ip", c.ClientIP()).
		Str("user_agent", c.Request.UserAgent()).
		Str("referer", c.Request.Referer()).
		Str("query", truncate(c.Request.URL.RawQuery, maxLoggedQuery)).
		Int64("bytes_in", c.Request.ContentLength).
		Logger()
}

// Recovery intercepts panics, logs the stack trace with the correlation ID,
// and answers with the standard JSON 500 envelope. When the handler already
// started writing the response, only the status is forced; no JSON body is
// appended to a partial one.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger attached by Logger().
// Without one it falls back to the global logger, so callers never need a nil
// check.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// asString unwraps a context value as a string, empty when it is anything else.
func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables the
// cap. Byte (not rune) truncation is fine for log output.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

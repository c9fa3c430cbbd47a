// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers every endpoint goes through, so
// success and failure bodies keep one shape across the whole surface. Error
// responses always carry a stable machine-readable code (see errors.go) next
// to the human-readable message, and echo the request's correlation ID:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "roadmap not found"
//	}
//
// Success responses are the DTO itself, no envelope:
//
//	HTTP/1.1 200 OK
//	{ "id": "abc123", "title": "Backend Fundamentals" }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tracklane/go-roadmap-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints. RequestID
// correlates the response with the server-side log line for the same request;
// Code is one of the errors.go constants and is the field clients should
// branch on, Message is display text only.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"roadmap not found"`
}

// fail aborts the request with the standard error envelope. Server-side
// failures (>= 500) are additionally logged through the request-scoped logger
// so the envelope's request_id finds the full context in the logs; client
// errors are already covered by the access log line.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail exposes fail to the router package for NoRoute/NoMethod handlers, so
// even unrouted requests answer with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as the JSON success response with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent answers 204 for mutations that have nothing to return, such as
// roadmap and resource updates or deletes.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tracker/internal/core"
)

// statusFor maps a core error kind to an HTTP status.
func statusFor(err error) int {
	switch kind := core.KindOf(err); {
	case errors.Is(kind, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(kind, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(kind, core.ErrHierarchyViolation),
		errors.Is(kind, core.ErrUnknownStatus),
		errors.Is(kind, core.ErrCrossProject):
		return http.StatusUnprocessableEntity
	case errors.Is(kind, core.ErrInvalidOperation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the error and returns the failure envelope. Storage
// failures are reported without their driver detail.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		message = core.ErrStorage.Error()
	} else {
		s.logger.Debug("request rejected", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	body := gin.H{"success": false, "message": message}
	if fields := core.FieldsOf(err); len(fields) > 0 {
		body["errors"] = fields
	}
	c.JSON(status, body)
}

// respondSuccess marks the payload successful and writes it.
func respondSuccess(c *gin.Context, status int, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(status, payload)
}

// bind decodes the JSON body into dst, answering 400 on malformed input.
func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, &core.Error{Kind: core.ErrInvalidInput, Message: "malformed request body", Err: err})
		return false
	}
	return true
}

// queryLimit reads the optional limit query parameter.
func (s *Server) queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.respondError(c, &core.Error{Kind: core.ErrInvalidInput, Message: "limit must be a non-negative integer",
			Fields: []core.FieldError{{Field: "limit", Message: "limit must be a non-negative integer"}}})
		return 0, false
	}
	return n, true
}

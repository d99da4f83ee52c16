package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/voice2soap/internal/api/dto"
	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/gin-gonic/gin"
)

// Error codes carried in dto.ErrorResponse
const (
	CodeValidation  = "VAL001"
	CodeNotFound    = "RES404"
	CodeUnavailable = "SRV503"
	CodeInternal    = "SRV500"
)

const internalErrorMessage = "An unexpected error occurred"

// writeError maps a service error onto the HTTP error body.
// Validation wins over not-found: an unknown id inside a request body is bad input.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		abort(c, http.StatusBadRequest, CodeValidation, validation.Message)
	case errors.Is(err, domain.ErrJobNotFound):
		abort(c, http.StatusNotFound, CodeNotFound, "Job not found")
	case domain.IsRetryable(err):
		logger.Error("Dependency unavailable", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		abort(c, http.StatusServiceUnavailable, CodeUnavailable, "Service temporarily unavailable")
	default:
		logger.Error("Request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		abort(c, http.StatusInternalServerError, CodeInternal, internalErrorMessage)
	}
	_ = c.Error(err)
}

func badRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, CodeValidation, message)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Message:    message,
		ErrorCode:  code,
		StatusCode: status,
	})
}

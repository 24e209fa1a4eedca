package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/llm"
	"github.com/psmp-io/psmp/pkg/services"
	"github.com/psmp-io/psmp/pkg/storage"
)

// writeServiceError maps service-layer errors to HTTP error responses.
func writeServiceError(c *gin.Context, err error) {
	var blocked *services.BlockedError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusConflict, gin.H{
			"error":           blocked.Error(),
			"blocking_report": blocked.Report,
		})
		return
	}
	if errors.Is(err, services.ErrInvalidDeclaration) ||
		errors.Is(err, services.ErrDependencyCycle) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, services.ErrNotFound) ||
		errors.Is(err, services.ErrConflictNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, services.ErrDuplicateProject) ||
		errors.Is(err, services.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if errors.Is(err, storage.ErrUnavailable) {
		slog.Error("Storage unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// writeDispatchError maps LLM dispatch failures to HTTP error responses.
func writeDispatchError(c *gin.Context, err error) {
	var dErr *llm.DispatchError
	if !errors.As(err, &dErr) {
		slog.Error("Unexpected dispatch error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	status := http.StatusBadGateway
	switch dErr.Category {
	case llm.FailurePolicyViolation:
		status = http.StatusForbidden
	case llm.FailureModelUnknown:
		status = http.StatusBadRequest
	case llm.FailureUnavailableProvider:
		status = http.StatusServiceUnavailable
	case llm.FailureTimeout:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{
		"error":            dErr.Error(),
		"failure_category": string(dErr.Category),
	})
}

package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/generator"
	"github.com/mentora/engine/internal/domain/resolver"
	"github.com/mentora/engine/internal/domain/schedule"
)

// retryAfterSeconds is advertised when a regeneration holds the dates.
const retryAfterSeconds = 2

// classify maps an engine error onto a status code and a stable kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, blueprint.ErrParse),
		errors.Is(err, blueprint.ErrRatioSum),
		errors.Is(err, resolver.ErrCyclicDependency):
		return http.StatusBadRequest, blueprint.ErrorKind(err)
	case errors.Is(err, schedule.ErrInstanceNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, schedule.ErrSnoozeExhausted):
		return http.StatusConflict, "snooze_exhausted"
	case errors.Is(err, schedule.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, schedule.ErrNoSlotAvailable):
		return http.StatusUnprocessableEntity, "no_slot_available"
	case errors.Is(err, generator.ErrNoBlueprint):
		return http.StatusConflict, "no_blueprint"
	case errors.Is(err, schedule.ErrRegenerationInProgress):
		return http.StatusLocked, "regeneration_in_progress"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status, kind := classify(err)
	if status == http.StatusLocked {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"kind":      kind,
		"retryable": schedule.IsRetryable(err),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"kind":  "invalid_request",
	})
}

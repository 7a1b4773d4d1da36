package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mentora/engine/internal/domain/recovery"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/shared/utils"
)

// instanceID validates the :id path parameter.
func instanceID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := utils.ValidateID(id, "id", true); err != nil {
		badRequest(c, err)
		return "", false
	}
	return id, true
}

// GetInstance returns one scheduled slot
func (h *Handlers) GetInstance(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}
	slot, found := h.engine.Slot(id)
	if !found {
		h.fail(c, schedule.ErrInstanceNotFound)
		return
	}
	c.JSON(http.StatusOK, slot)
}

// MarkDone completes a pending instance
func (h *Handlers) MarkDone(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}
	inst, err := h.engine.MarkDone(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// MarkMissed records a miss and returns where the replacement landed
func (h *Handlers) MarkMissed(c *gin.Context) {
	h.applyRecovery(c, h.engine.MarkMissed)
}

// Snooze pushes an instance to the next free slot
func (h *Handlers) Snooze(c *gin.Context) {
	h.applyRecovery(c, h.engine.Snooze)
}

func (h *Handlers) applyRecovery(c *gin.Context, op func(context.Context, string) (*recovery.Outcome, error)) {
	id, ok := instanceID(c)
	if !ok {
		return
	}
	out, err := op(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

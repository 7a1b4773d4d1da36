package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/generator"
	"github.com/mentora/engine/internal/shared/utils"
)

var contentTypes = map[blueprint.Format]string{
	blueprint.FormatJSON: "application/json; charset=utf-8",
	blueprint.FormatYAML: "application/yaml; charset=utf-8",
	blueprint.FormatTOML: "application/toml; charset=utf-8",
}

// GetBlueprint returns the active blueprint. ?format=yaml|toml re-encodes it.
func (h *Handlers) GetBlueprint(c *gin.Context) {
	bp, lastErr := h.engine.Blueprint()
	if bp == nil {
		h.fail(c, generator.ErrNoBlueprint)
		return
	}

	format := blueprint.Format(c.DefaultQuery("format", string(blueprint.FormatJSON)))
	if format == blueprint.FormatJSON {
		body := gin.H{"blueprint": bp}
		if lastErr != nil {
			body["last_error"] = lastErr.Error()
			body["last_error_kind"] = blueprint.ErrorKind(lastErr)
		}
		c.JSON(http.StatusOK, body)
		return
	}

	ct, ok := contentTypes[format]
	if !ok {
		badRequest(c, errors.New("format must be json, yaml or toml"))
		return
	}
	data, err := blueprint.Encode(bp, format)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, ct, data)
}

// PutBlueprint replaces the active blueprint. The document format follows
// the Content-Type header; a rejected document leaves the previous one active.
func (h *Handlers) PutBlueprint(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, utils.MaxBlueprintSize+1))
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateSize(body, utils.MaxBlueprintSize); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": err.Error(),
			"kind":  "too_large",
		})
		return
	}

	format := blueprint.FormatFromContentType(c.GetHeader("Content-Type"))
	bp, err := h.engine.LoadBlueprint(body, format)
	if err != nil {
		h.logger.Warn("Blueprint rejected",
			zap.String("format", string(format)),
			zap.String("kind", blueprint.ErrorKind(err)),
			zap.Error(err),
		)
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version":   bp.Version,
		"digest":    bp.Digest,
		"templates": len(bp.Templates),
	})
}

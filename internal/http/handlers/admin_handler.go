// README: Admin-only ride maintenance.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/http/middleware"
	"ridebid/internal/modules/dispatch"
	"ridebid/internal/modules/ride"
	"ridebid/internal/types"
)

type AdminHandler struct {
	engine *dispatch.Engine
	log    *zap.Logger
}

func NewAdminHandler(engine *dispatch.Engine, log *zap.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, log: log}
}

// RequireAdmin rejects callers without the admin role claim.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if middleware.CallerRole(c) != ride.ActorAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{
				Error: "admin role required",
				Kind:  string(apperr.KindAuthorization),
				Code:  "admin_only",
			})
			return
		}
		c.Next()
	}
}

func (h *AdminHandler) History(c *gin.Context) {
	events, err := h.engine.RideHistory(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

func (h *AdminHandler) Delete(c *gin.Context) {
	if err := h.engine.DeleteRide(c.Request.Context(), types.ID(c.Param("id")), caller(c)); err != nil {
		writeAppError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) Restore(c *gin.Context) {
	if err := h.engine.RestoreRide(c.Request.Context(), types.ID(c.Param("id")), caller(c)); err != nil {
		writeAppError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

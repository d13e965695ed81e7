// README: Websocket endpoint; upgrades and hands the connection to the event hub.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ridebid/internal/events"
	"ridebid/internal/http/middleware"
	"ridebid/internal/modules/ride"
)

type WSHandler struct {
	hub      *events.Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWSHandler(hub *events.Hub, log *zap.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve joins drivers to the room for their vehicle (?vehicle=taxi|moto|any).
func (h *WSHandler) Serve(c *gin.Context) {
	id := events.Identity{Kind: events.AudiencePassenger, ID: middleware.CallerUID(c)}
	if middleware.CallerRole(c) == ride.ActorDriver || c.Query("as") == ride.ActorDriver {
		vehicle := ride.VehicleType(c.DefaultQuery("vehicle", string(ride.VehicleAny)))
		if !vehicle.Valid() {
			writeError(c, http.StatusBadRequest, "unknown vehicle")
			return
		}
		id.Kind = events.AudienceDriver
		id.Rooms = []string{events.DriverRoom(string(vehicle))}
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(conn, id)
}

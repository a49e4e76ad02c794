package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/taskboard-live/backend/internal/presence"
	"github.com/taskboard-live/backend/internal/ws"
)

// WebSocketHandler attaches realtime connections and exposes board presence.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	registry  *presence.Registry
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler, registry *presence.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
		registry:  registry,
	}
}

// Attach handles GET /ws - upgrades to the realtime protocol.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error
		log.WithError(err).Debug("WebSocket attach failed")
		return
	}
}

// Presence handles GET /api/boards/:id/presence - the current roster.
func (h *WebSocketHandler) Presence(c *gin.Context) {
	roster, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get presence: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, roster)
}

// RegisterRoutes registers the websocket route on the engine root and the
// presence route on the API group.
func (h *WebSocketHandler) RegisterRoutes(root gin.IRoutes, api *gin.RouterGroup) {
	root.GET("/ws", h.Attach)
	api.GET("/boards/:id/presence", h.Presence)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wwng2333/nexus-terminal-sub000/internal/relay"
	"github.com/wwng2333/nexus-terminal-sub000/internal/session"
)

// AttachHandler handles browser WebSocket attachment to sessions.
type AttachHandler struct {
	registry *session.Registry
	relay    *relay.Handler
}

// NewAttachHandler creates a new AttachHandler.
func NewAttachHandler(registry *session.Registry, relayHandler *relay.Handler) *AttachHandler {
	return &AttachHandler{
		registry: registry,
		relay:    relayHandler,
	}
}

// Attach handles WS /api/sessions/:id/attach - attaches a browser client.
func (h *AttachHandler) Attach(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	if err := h.relay.HandleConnection(c.Writer, c.Request, sess); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to attach: "+err.Error())
	}
}

// RegisterRoutes registers the attach route on a Gin router group.
func (h *AttachHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:id/attach", h.Attach)
}

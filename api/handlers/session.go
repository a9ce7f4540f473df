// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wwng2333/nexus-terminal-sub000/internal/channel"
	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
	"github.com/wwng2333/nexus-terminal-sub000/internal/request"
	"github.com/wwng2333/nexus-terminal-sub000/internal/session"
)

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	registry *session.Registry
	onClose  func(sessionID string)
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// SetOnClose sets a hook invoked after a session closes, used to detach any
// browser clients still attached to it.
func (h *SessionHandler) SetOnClose(fn func(sessionID string)) {
	h.onClose = fn
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID        string `json:"id"`
	TargetID  string `json:"targetId"`
	State     string `json:"state"`
	SFTPReady bool   `json:"sftpReady"`
	Cwd       string `json:"cwd"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendOperationError maps session and request errors to HTTP responses.
func sendOperationError(c *gin.Context, err error) {
	var serverErr *request.ServerError
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrNotConnected):
		sendError(c, http.StatusConflict, "NOT_CONNECTED", err.Error())
	case errors.Is(err, model.ErrSFTPNotReady):
		sendError(c, http.StatusConflict, "SFTP_NOT_READY", err.Error())
	case errors.Is(err, model.ErrTransferNotFound):
		sendError(c, http.StatusNotFound, "TRANSFER_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrTransferFinished):
		sendError(c, http.StatusConflict, "TRANSFER_FINISHED", err.Error())
	case errors.Is(err, request.ErrTimeout):
		sendError(c, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", err.Error())
	case errors.As(err, &serverErr):
		sendError(c, http.StatusBadGateway, "GATEWAY_ERROR", serverErr.Message)
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// toSessionResponse converts a live session to its API representation.
func (h *SessionHandler) toSessionResponse(s *session.Session) *SessionResponse {
	active := h.registry.Active()
	return &SessionResponse{
		ID:        s.ID,
		TargetID:  s.TargetID,
		State:     string(s.Channel.State()),
		SFTPReady: s.Channel.SFTPReady(),
		Cwd:       s.Files.Cwd(),
		Active:    active != nil && active.ID == s.ID,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

// Open handles POST /api/sessions - opens a session against a target.
func (h *SessionHandler) Open(c *gin.Context) {
	var req model.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.registry.Open(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrTargetRequired) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to open session: "+err.Error())
		return
	}

	c.JSON(http.StatusCreated, h.toSessionResponse(sess))
}

// List handles GET /api/sessions - lists all live sessions.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.registry.List()
	response := make([]*SessionResponse, len(sessions))
	for i, sess := range sessions {
		response[i] = h.toSessionResponse(sess)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:id - gets a specific session.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toSessionResponse(sess))
}

// Activate handles POST /api/sessions/:id/activate - makes a session active.
func (h *SessionHandler) Activate(c *gin.Context) {
	if err := h.registry.Activate(c.Param("id")); err != nil {
		sendOperationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Close handles DELETE /api/sessions/:id - closes a session.
func (h *SessionHandler) Close(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Close(c.Request.Context(), id); err != nil {
		sendOperationError(c, err)
		return
	}
	if h.onClose != nil {
		h.onClose(id)
	}
	c.Status(http.StatusNoContent)
}

// InputRequest is the body of a terminal input request.
type InputRequest struct {
	Data string `json:"data" binding:"required"`
}

// Input handles POST /api/sessions/:id/input - sends keystrokes.
func (h *SessionHandler) Input(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := sess.Input(req.Data); err != nil {
		sendOperationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResizeRequest is the body of a terminal resize request.
type ResizeRequest struct {
	Rows uint16 `json:"rows" binding:"required"`
	Cols uint16 `json:"cols" binding:"required"`
}

// Resize handles POST /api/sessions/:id/resize - reports a window size change.
func (h *SessionHandler) Resize(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := sess.Terminal.Resize(req.Rows, req.Cols); err != nil {
		sendOperationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History handles GET /api/sessions/:id/history - returns buffered scrollback.
func (h *SessionHandler) History(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", sess.Terminal.History())
}

// Status handles GET /api/sessions/:id/status - returns the latest host
// status snapshot.
func (h *SessionHandler) Status(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	snapshot, at, ok := sess.Status.Latest()
	if !ok {
		sendError(c, http.StatusNotFound, "STATUS_UNAVAILABLE", "No status snapshot received yet")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshot":   snapshot,
		"receivedAt": at.Format(time.RFC3339),
	})
}

// Recording handles GET /api/sessions/:id/recording - downloads the session
// recording.
func (h *SessionHandler) Recording(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	path := sess.RecordingPath()
	if path == "" {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording not enabled for session "+sess.ID)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sess.ID+".cast")
	c.File(path)
}

// Reconnect handles POST /api/sessions/:id/reconnect - retries a session
// whose channel gave up.
func (h *SessionHandler) Reconnect(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	switch sess.Channel.State() {
	case channel.StateDisconnected, channel.StateError:
		sess.Channel.Connect(sess.Channel.URL())
		c.Status(http.StatusAccepted)
	default:
		sendError(c, http.StatusConflict, "INVALID_STATE", "Session is "+string(sess.Channel.State()))
	}
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Open)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Close)
		sessions.POST("/:id/activate", h.Activate)
		sessions.POST("/:id/reconnect", h.Reconnect)
		sessions.POST("/:id/input", h.Input)
		sessions.POST("/:id/resize", h.Resize)
		sessions.GET("/:id/history", h.History)
		sessions.GET("/:id/status", h.Status)
		sessions.GET("/:id/recording", h.Recording)
	}
}

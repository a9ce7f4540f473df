package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wwng2333/nexus-terminal-sub000/internal/session"
)

// FilesHandler handles HTTP requests for remote file operations.
type FilesHandler struct {
	registry *session.Registry
}

// NewFilesHandler creates a new FilesHandler.
func NewFilesHandler(registry *session.Registry) *FilesHandler {
	return &FilesHandler{registry: registry}
}

// List handles GET /api/sessions/:id/files - lists a remote directory. The
// listed directory becomes the session's working directory.
func (h *FilesHandler) List(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	path := c.Query("path")
	if path == "" {
		path = sess.Files.Cwd()
	}

	entries, err := sess.Files.List(path)
	if err != nil {
		sendOperationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"path":    sess.Files.Cwd(),
		"entries": entries,
	})
}

// Delete handles DELETE /api/sessions/:id/files - removes a remote path.
func (h *FilesHandler) Delete(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	path := c.Query("path")
	if path == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "path query parameter is required")
		return
	}

	if err := sess.Files.Delete(path); err != nil {
		sendOperationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MkdirRequest is the body of a directory creation request.
type MkdirRequest struct {
	Path string `json:"path" binding:"required"`
}

// Mkdir handles POST /api/sessions/:id/files/mkdir - creates a remote
// directory.
func (h *FilesHandler) Mkdir(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	var req MkdirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := sess.Files.Mkdir(req.Path); err != nil {
		sendOperationError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// RenameRequest is the body of a rename request.
type RenameRequest struct {
	Path    string `json:"path" binding:"required"`
	NewPath string `json:"newPath" binding:"required"`
}

// Rename handles POST /api/sessions/:id/files/rename - moves a remote path.
func (h *FilesHandler) Rename(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := sess.Files.Rename(req.Path, req.NewPath); err != nil {
		sendOperationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the file handler routes on a Gin router group.
func (h *FilesHandler) RegisterRoutes(rg *gin.RouterGroup) {
	files := rg.Group("/sessions/:id/files")
	{
		files.GET("", h.List)
		files.DELETE("", h.Delete)
		files.POST("/mkdir", h.Mkdir)
		files.POST("/rename", h.Rename)
	}
}

package handlers

import (
	"bytes"
	"io"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/wwng2333/nexus-terminal-sub000/internal/session"
	"github.com/wwng2333/nexus-terminal-sub000/internal/transfer"
)

// TransferHandler handles HTTP requests for chunked uploads.
type TransferHandler struct {
	registry *session.Registry
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(registry *session.Registry) *TransferHandler {
	return &TransferHandler{registry: registry}
}

// TransferResponse represents a transfer in API responses.
type TransferResponse struct {
	ID       string `json:"id"`
	Dest     string `json:"dest"`
	Size     int64  `json:"size"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

func toTransferResponse(t *transfer.Transfer) *TransferResponse {
	return &TransferResponse{
		ID:       t.ID(),
		Dest:     t.Dest(),
		Size:     t.Size(),
		Status:   string(t.Status()),
		Progress: t.Progress(),
		Error:    t.Err(),
	}
}

// Upload handles POST /api/sessions/:id/uploads - starts a chunked upload of
// a multipart file. The destination directory defaults to the session's
// working directory.
func (h *TransferHandler) Upload(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "file form field is required: "+err.Error())
		return
	}

	dir := c.PostForm("dir")
	if dir == "" {
		dir = sess.Files.Cwd()
	}
	dest := path.Join(dir, path.Base(fileHeader.Filename))

	file, err := fileHeader.Open()
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to open upload: "+err.Error())
		return
	}
	defer file.Close()

	// Buffer the file so chunk emission can outlive the multipart request.
	data, err := io.ReadAll(file)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read upload: "+err.Error())
		return
	}

	t, err := sess.Uploader.Upload(dest, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		sendOperationError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toTransferResponse(t))
}

// List handles GET /api/sessions/:id/uploads - lists active transfers.
func (h *TransferHandler) List(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	transfers := sess.Uploader.List()
	response := make([]*TransferResponse, len(transfers))
	for i, t := range transfers {
		response[i] = toTransferResponse(t)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:id/uploads/:transferId.
func (h *TransferHandler) Get(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	t, ok := sess.Uploader.Get(c.Param("transferId"))
	if !ok {
		sendError(c, http.StatusNotFound, "TRANSFER_NOT_FOUND", "Transfer not found")
		return
	}
	c.JSON(http.StatusOK, toTransferResponse(t))
}

// Pause handles POST /api/sessions/:id/uploads/:transferId/pause.
func (h *TransferHandler) Pause(c *gin.Context) {
	h.control(c, func(sess *session.Session, id string) error {
		return sess.Uploader.Pause(id)
	})
}

// Resume handles POST /api/sessions/:id/uploads/:transferId/resume. The
// transfer restarts from the beginning of the file.
func (h *TransferHandler) Resume(c *gin.Context) {
	h.control(c, func(sess *session.Session, id string) error {
		return sess.Uploader.Resume(id)
	})
}

// Cancel handles DELETE /api/sessions/:id/uploads/:transferId. The transfer
// is cancelled locally before the gateway acknowledges.
func (h *TransferHandler) Cancel(c *gin.Context) {
	h.control(c, func(sess *session.Session, id string) error {
		return sess.Uploader.Cancel(id)
	})
}

func (h *TransferHandler) control(c *gin.Context, op func(sess *session.Session, id string) error) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		sendOperationError(c, err)
		return
	}

	if err := op(sess, c.Param("transferId")); err != nil {
		sendOperationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the transfer handler routes on a Gin router group.
func (h *TransferHandler) RegisterRoutes(rg *gin.RouterGroup) {
	uploads := rg.Group("/sessions/:id/uploads")
	{
		uploads.POST("", h.Upload)
		uploads.GET("", h.List)
		uploads.GET("/:transferId", h.Get)
		uploads.POST("/:transferId/pause", h.Pause)
		uploads.POST("/:transferId/resume", h.Resume)
		uploads.DELETE("/:transferId", h.Cancel)
	}
}

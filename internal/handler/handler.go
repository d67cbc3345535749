package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"taskattach/internal/attachment"
	authmw "taskattach/internal/middleware"
	"taskattach/internal/repository"
	"taskattach/internal/storage"
	"taskattach/internal/version"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Handler struct {
	svc    *attachment.Service
	blobs  storage.BlobStore
	signer *storage.URLSigner
}

// NewHandler wires the HTTP layer. signer may be nil when the backend
// presigns its own URLs.
func NewHandler(svc *attachment.Service, blobs storage.BlobStore, signer *storage.URLSigner) *Handler {
	return &Handler{
		svc:    svc,
		blobs:  blobs,
		signer: signer,
	}
}

// Register mounts the API, blob and version routes
func (h *Handler) Register(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.HTTPErrorHandler = h.errorHandler(e.HTTPErrorHandler)

	api := e.Group("/api")

	// Version info endpoint (public)
	api.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, version.GetInfo())
	})

	protected := api.Group("")
	protected.Use(auth)

	protected.POST("/tasks", h.CreateTask)
	protected.GET("/tasks/:id", h.GetTask)
	protected.DELETE("/tasks/:id", h.DeleteTask)

	protected.POST("/tasks/:id/attachments", h.UploadAttachment)
	protected.GET("/tasks/:id/attachments", h.ListAttachments)
	protected.GET("/attachments/:id/download", h.DownloadAttachment)
	protected.DELETE("/attachments/:id", h.DeleteAttachment)

	// Signed URLs carry their own authorization
	if h.signer != nil && storage.ServesBlobs(h.blobs) {
		e.GET("/blobs/*", h.ServeBlob)
	}
}

// errorHandler reshapes 413s raised by the body limit middleware
func (h *Handler) errorHandler(next echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if tooLarge(err) && !c.Response().Committed {
			if rerr := h.rejectOversized(c); rerr == nil {
				return
			}
		}
		next(err, c)
	}
}

type attachmentView struct {
	ID          int       `json:"id"`
	TaskID      int       `json:"task_id"`
	Filename    string    `json:"filename"`
	ByteSize    int64     `json:"byte_size"`
	Size        string    `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	DownloadURL string    `json:"download_url"`
}

func viewOf(a *repository.Attachment) attachmentView {
	return attachmentView{
		ID:          a.ID,
		TaskID:      a.TaskID,
		Filename:    a.OriginalFilename,
		ByteSize:    a.ByteSize,
		Size:        humanize.IBytes(uint64(a.ByteSize)),
		ContentType: a.ContentType,
		CreatedAt:   a.CreatedAt,
		DownloadURL: "/api/attachments/" + strconv.Itoa(a.ID) + "/download",
	}
}

func viewsOf(list []*repository.Attachment) []attachmentView {
	out := make([]attachmentView, 0, len(list))
	for _, a := range list {
		out = append(out, viewOf(a))
	}
	return out
}

func parseID(c echo.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	return id, err == nil && id > 0
}

// fail maps service errors onto status codes. Storage and internal detail
// is logged, never returned.
func fail(c echo.Context, err error) error {
	var ve *attachment.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ve.Message, "reason": string(ve.Reason)})
	case errors.Is(err, attachment.ErrNotPermitted):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Not permitted"})
	case errors.Is(err, attachment.ErrCapacity):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, attachment.ErrBlobMissing):
		return c.JSON(http.StatusNotFound, map[string]string{"error": attachment.ErrBlobMissing.Error()})
	case errors.Is(err, attachment.ErrStorageUnavailable):
		zap.L().Error("Storage unavailable", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": attachment.ErrStorageUnavailable.Error()})
	}
	zap.L().Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

func principal(c echo.Context) int {
	return authmw.UserID(c)
}

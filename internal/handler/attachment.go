package handler

import (
	"errors"
	"net/http"

	"taskattach/internal/attachment"

	"github.com/labstack/echo/v4"
)

const multipartMemory = 1 << 20

// UploadAttachment uploads the multipart "file" field to a task
func (h *Handler) UploadAttachment(c echo.Context) error {
	taskID, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid task ID"})
	}

	// parts beyond this spill to temp files
	if err := c.Request().ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			return h.rejectOversized(c)
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to open uploaded file"})
	}
	defer src.Close()

	att, err := h.svc.Upload(c.Request().Context(), principal(c), taskID, attachment.Upload{
		Filename: file.Filename,
		Size:     file.Size,
		Body:     src,
	})
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, viewOf(att))
}

// ListAttachments lists a task's attachments, newest first
func (h *Handler) ListAttachments(c echo.Context) error {
	taskID, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid task ID"})
	}

	list, err := h.svc.List(c.Request().Context(), principal(c), taskID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, viewsOf(list))
}

// DownloadAttachment redirects to a short-lived signed URL
func (h *Handler) DownloadAttachment(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid attachment ID"})
	}

	url, err := h.svc.DownloadURL(c.Request().Context(), principal(c), id)
	if err != nil {
		return fail(c, err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Redirect(http.StatusFound, url)
}

// DeleteAttachment deletes an attachment once the caller confirms with
// ?confirm=true; otherwise it answers 428 with what would be deleted
func (h *Handler) DeleteAttachment(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid attachment ID"})
	}
	ctx := c.Request().Context()

	if c.QueryParam("confirm") != "true" {
		att, err := h.svc.Get(ctx, principal(c), id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusPreconditionRequired, map[string]interface{}{
			"error":      "Confirm deletion by repeating the request with confirm=true",
			"attachment": viewOf(att),
		})
	}

	if err := h.svc.Delete(ctx, principal(c), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Attachment deleted successfully"})
}

func tooLarge(err error) bool {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code == http.StatusRequestEntityTooLarge
	}
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// rejectOversized answers a body cut off by the size limit in the same shape
// as any other rejected upload
func (h *Handler) rejectOversized(c echo.Context) error {
	ve := h.svc.TooLarge()
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": ve.Message, "reason": string(ve.Reason)})
}

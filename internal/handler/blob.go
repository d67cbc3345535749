package handler

import (
	"errors"
	"net/http"
	"net/url"

	"taskattach/internal/storage"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ServeBlob streams a blob for a signed URL issued by the local or WebDAV
// backend. The token is the only credential.
func (h *Handler) ServeBlob(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid blob path"})
	}

	granted, err := h.signer.Verify(key, c.QueryParam("token"))
	if err != nil {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Link is invalid or has expired"})
	}

	reader, ok := h.blobs.(storage.BlobReader)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	rc, err := reader.Open(c.Request().Context(), granted.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "File not found"})
		}
		zap.L().Error("Failed to open blob", zap.String("storage_key", granted.Key), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Storage temporarily unavailable"})
	}
	defer rc.Close()

	contentType := granted.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, storage.ContentDisposition(granted.DownloadName))
	header.Set(echo.HeaderXContentTypeOptions, "nosniff")
	header.Set("Cache-Control", "private, no-store")
	return c.Stream(http.StatusOK, contentType, rc)
}

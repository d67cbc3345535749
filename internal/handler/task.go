package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type createTaskRequest struct {
	Title string `json:"title"`
}

// CreateTask creates a task owned by the caller
func (h *Handler) CreateTask(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Title) > 200 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Title must be 1 to 200 characters"})
	}

	task, err := h.svc.CreateTask(c.Request().Context(), principal(c), req.Title)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

// GetTask returns the task with its attachments, newest first
func (h *Handler) GetTask(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid task ID"})
	}

	detail, err := h.svc.GetTask(c.Request().Context(), principal(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":          detail.ID,
		"owner_id":    detail.OwnerID,
		"title":       detail.Title,
		"created_at":  detail.CreatedAt,
		"updated_at":  detail.UpdatedAt,
		"attachments": viewsOf(detail.Attachments),
	})
}

// DeleteTask deletes the task and cascades to its attachments
func (h *Handler) DeleteTask(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid task ID"})
	}

	if err := h.svc.DeleteTask(c.Request().Context(), principal(c), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

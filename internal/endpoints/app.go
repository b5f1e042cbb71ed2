// Package endpoints implements the HTTP API: upload, task lifecycle,
// progress and artifact downloads. Handlers are thin; pipeline semantics
// live in the worker and coordinator.
package endpoints

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/queue"
	"slidespeaker/internal/repo"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// App bundles the dependencies handlers need.
type App struct {
	Queue   *queue.Queue
	States  *state.Manager
	Repo    *repo.Repository
	Storage storage.Provider
}

// ownedTask loads the task row for the task_id path param and enforces
// ownership. An ownership mismatch is indistinguishable from a missing task.
// Writes the error response and returns ok=false on any failure.
func ownedTask(c *gin.Context, app *App) (*repo.TaskRow, bool) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}
	taskID := c.Param("task_id")
	row, err := app.Repo.GetTask(c.Request.Context(), taskID)
	if errors.Is(err, repo.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
		return nil, false
	}
	if row.UserID != "" && row.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return nil, false
	}
	return row, true
}

// ownedUpload is the upload-row analog of ownedTask.
func ownedUpload(c *gin.Context, app *App, uploadID string) (*repo.UploadRow, bool) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}
	u, err := app.Repo.GetUpload(c.Request.Context(), uploadID)
	if errors.Is(err, repo.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load file"})
		return nil, false
	}
	if u.UserID != "" && u.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return nil, false
	}
	return u, true
}

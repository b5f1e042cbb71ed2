package endpoints

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/queue"
	"slidespeaker/internal/repo"
	"slidespeaker/internal/state"
)

// ListTasksResponse represents a page of tasks
type ListTasksResponse struct {
	Tasks []*repo.TaskRow `json:"tasks"`
	Count int             `json:"count"`
}

// StepProgress is one entry of the ordered step list in a progress response
type StepProgress struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ProgressResponse represents the live progress of a task
type ProgressResponse struct {
	TaskID      string                 `json:"task_id"`
	Status      string                 `json:"status"`
	Progress    int                    `json:"progress"`
	CurrentStep string                 `json:"current_step,omitempty"`
	Steps       []StepProgress         `json:"steps,omitempty"`
	Errors      []state.TaskErrorEntry `json:"errors,omitempty"`
}

// RetryRequest selects where a retry resumes
type RetryRequest struct {
	Step string `json:"step,omitempty"`
}

// HandleGetTask returns a handler that loads one task row
// @Summary      Get task
// @Tags         tasks
// @Produce      json
// @Param        task_id path string true "Task id"
// @Success      200  {object}  repo.TaskRow
// @Failure      404  {object}  map[string]string
// @Router       /tasks/{task_id} [get]
func HandleGetTask(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// HandleGetTaskStatus returns a handler that reports live task status
// @Summary      Get task status
// @Description  Merge the queue record and runtime state into a single status view
// @Tags         tasks
// @Produce      json
// @Param        task_id path string true "Task id"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /tasks/{task_id}/status [get]
func HandleGetTaskStatus(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		resp := gin.H{
			"task_id":   row.TaskID,
			"file_id":   row.UploadID,
			"task_type": row.TaskType,
			"status":    row.Status,
			"progress":  0,
		}
		if row.Status == state.TaskCompleted {
			resp["progress"] = 100
		}
		if row.Error != "" {
			resp["error"] = row.Error
		}
		if rec, err := app.Queue.GetTask(ctx, row.TaskID); err == nil {
			resp["status"] = rec.Status
			if rec.Error != "" {
				resp["error"] = rec.Error
			}
		}
		if ts, err := app.States.GetStateByTask(ctx, row.TaskID); err == nil {
			resp["status"] = ts.Status
			resp["progress"] = ts.Progress()
			if ts.CurrentStep != "" {
				resp["current_step"] = ts.CurrentStep
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleGetProgress returns a handler that reports per-step progress
// @Summary      Get task progress
// @Tags         tasks
// @Produce      json
// @Param        task_id path string true "Task id"
// @Success      200  {object}  ProgressResponse
// @Failure      404  {object}  map[string]string
// @Router       /tasks/{task_id}/progress [get]
func HandleGetProgress(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		resp := ProgressResponse{TaskID: row.TaskID, Status: string(row.Status)}
		if row.Status == state.TaskCompleted {
			resp.Progress = 100
		}
		ts, err := app.States.GetStateByTask(c.Request.Context(), row.TaskID)
		if err == nil {
			resp.Status = string(ts.Status)
			resp.Progress = ts.Progress()
			resp.CurrentStep = ts.CurrentStep
			resp.Errors = ts.Errors
			for _, name := range ts.StepOrder {
				snap := ts.Steps[name]
				if snap == nil {
					continue
				}
				resp.Steps = append(resp.Steps, StepProgress{Name: name, Status: string(snap.Status)})
			}
		} else if !errors.Is(err, state.ErrStateNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task state"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// resumeStep resolves where a retry restarts: the explicit request, the most
// recent error, the first failed step by order, the current step, then the
// plan start.
func resumeStep(ts *state.TaskState, explicit string) (string, error) {
	if explicit != "" {
		for _, name := range ts.StepOrder {
			if name == explicit {
				return explicit, nil
			}
		}
		return "", errors.New("unknown step")
	}
	if step := ts.LastErrorStep(); step != "" {
		return step, nil
	}
	if step := ts.FirstFailedStep(); step != "" {
		return step, nil
	}
	if ts.CurrentStep != "" {
		return ts.CurrentStep, nil
	}
	if len(ts.StepOrder) > 0 {
		return ts.StepOrder[0], nil
	}
	return "", errors.New("task has no steps")
}

// HandleRetryTask returns a handler that re-runs a failed task
// @Summary      Retry a failed task
// @Description  Reset the resume step and everything after it, then requeue the task
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Param        task_id path string true "Task id"
// @Param        request body RetryRequest false "Optional explicit resume step"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /tasks/{task_id}/retry [post]
func HandleRetryTask(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		if row.Status != state.TaskFailed {
			c.JSON(http.StatusConflict, gin.H{"error": "Only failed tasks can be retried"})
			return
		}
		var req RetryRequest
		_ = c.ShouldBindJSON(&req)

		ctx := c.Request.Context()
		ts, err := app.States.GetStateByTask(ctx, row.TaskID)
		if errors.Is(err, state.ErrStateNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "Task state has expired"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task state"})
			return
		}
		step, err := resumeStep(ts, req.Step)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := app.States.ResetStepsFromTask(ctx, row.TaskID, step); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset task state"})
			return
		}
		if err := app.Queue.ClearCancelFlag(ctx, row.TaskID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cancellation"})
			return
		}
		// The queue record may have expired; rebuild it from the row.
		if _, err := app.Queue.GetTask(ctx, row.TaskID); errors.Is(err, queue.ErrTaskNotFound) {
			if _, err := app.Queue.Submit(ctx, &queue.TaskRecord{
				TaskID:     row.TaskID,
				FileID:     row.UploadID,
				UserID:     row.UserID,
				TaskType:   queue.TaskType(row.TaskType),
				SourceType: ts.SourceType,
				FileExt:    ts.FileExt,
				Knobs:      row.Kwargs,
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to requeue task"})
				return
			}
		} else {
			if err := app.Queue.UpdateStatus(ctx, row.TaskID, state.TaskProcessing, ""); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update task"})
				return
			}
			if err := app.Queue.EnqueueExisting(ctx, row.TaskID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to requeue task"})
				return
			}
		}
		if err := app.Repo.UpdateTask(ctx, row.TaskID, state.TaskProcessing, ""); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update task row"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"task_id": row.TaskID, "status": "processing", "resume_step": step})
	}
}

// HandleCancelTask returns a handler that cancels a queued or running task
// @Summary      Cancel a task
// @Tags         tasks
// @Produce      json
// @Param        task_id path string true "Task id"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /tasks/{task_id}/cancel [post]
func HandleCancelTask(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		cancelled, err := app.Queue.Cancel(c.Request.Context(), row.TaskID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel task"})
			return
		}
		if !cancelled {
			c.JSON(http.StatusConflict, gin.H{"error": "Task is not cancellable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"task_id": row.TaskID, "status": "cancelled"})
	}
}

// HandleDeleteTask returns a handler that deletes a task and, when it was the
// file's last task, queues a storage purge.
// @Summary      Delete a task
// @Description  Cancel if running, remove the task record, and enqueue a file purge when no sibling task remains
// @Tags         tasks
// @Produce      json
// @Param        task_id path string true "Task id"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /tasks/{task_id}/delete [delete]
func HandleDeleteTask(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		// Best effort: a running worker observes the flag at the next
		// cancellation point.
		_, _ = app.Queue.Cancel(ctx, row.TaskID)
		if err := app.Queue.Remove(ctx, row.TaskID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove task"})
			return
		}
		if err := app.Repo.DeleteTask(ctx, row.TaskID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task row"})
			return
		}
		remaining, err := app.States.UnbindTask(ctx, row.UploadID, row.TaskID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unbind task"})
			return
		}
		if err := app.States.DeleteStateByTask(ctx, row.TaskID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task state"})
			return
		}

		purgeQueued := false
		if remaining == 0 {
			ext := ""
			if upload, err := app.Repo.GetUpload(ctx, row.UploadID); err == nil {
				ext = upload.FileExt
			}
			if _, err := app.Queue.Submit(ctx, &queue.TaskRecord{
				FileID:       row.UploadID,
				UserID:       row.UserID,
				TaskType:     queue.TaskPurge,
				FileExt:      ext,
				PurgeTaskIDs: []string{row.TaskID},
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue purge"})
				return
			}
			if err := app.Repo.DeleteUpload(ctx, row.UploadID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete upload row"})
				return
			}
			purgeQueued = true
		}
		c.JSON(http.StatusOK, gin.H{"task_id": row.TaskID, "status": "deleted", "purge_queued": purgeQueued})
	}
}

// HandleListTasks returns a handler that lists the caller's tasks
// @Summary      List tasks
// @Tags         tasks
// @Produce      json
// @Param        status query string false "Status filter"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200  {object}  ListTasksResponse
// @Router       /tasks [get]
func HandleListTasks(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := GetUserID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		tasks, err := app.Repo.ListTasks(c.Request.Context(), limit, offset, state.TaskStatus(c.Query("status")), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks"})
			return
		}
		if tasks == nil {
			tasks = []*repo.TaskRow{}
		}
		c.JSON(http.StatusOK, ListTasksResponse{Tasks: tasks, Count: len(tasks)})
	}
}

// HandleStatistics returns a handler that aggregates the caller's task counts
// @Summary      Task statistics
// @Tags         tasks
// @Produce      json
// @Success      200  {object}  repo.Statistics
// @Router       /tasks/statistics [get]
func HandleStatistics(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := GetUserID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		stats, err := app.Repo.GetStatistics(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate statistics"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

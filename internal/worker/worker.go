// Package worker runs the queue-draining loop: pop a task id, check its
// record and cancellation flag, dispatch to the pipeline coordinator and
// write the terminal status back.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"slidespeaker/internal/pipeline"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
)

// Worker drains the task queue. Multiple workers may run concurrently; the
// queue delivers each pop to exactly one of them.
type Worker struct {
	queue      *queue.Queue
	coord      *pipeline.Coordinator
	popTimeout time.Duration
}

func New(q *queue.Queue, coord *pipeline.Coordinator) *Worker {
	return &Worker{queue: q, coord: coord, popTimeout: queue.DefaultPopTimeout}
}

// Run loops until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopping")
			return
		default:
		}
		taskID, err := w.queue.Pop(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Queue pop failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if taskID == "" {
			continue
		}
		w.ProcessOne(ctx, taskID)
	}
}

// ProcessOne handles a single popped task id end to end.
func (w *Worker) ProcessOne(ctx context.Context, taskID string) {
	rec, err := w.queue.GetTask(ctx, taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		slog.Warn("Popped task has no record, dropping", "task_id", taskID)
		return
	}
	if err != nil {
		slog.Error("Failed to load task record", "task_id", taskID, "error", err)
		return
	}
	if w.queue.IsCancelled(ctx, taskID) {
		if err := w.queue.UpdateStatus(ctx, taskID, state.TaskCancelled, ""); err != nil {
			slog.Warn("Failed to record pre-run cancellation", "task_id", taskID, "error", err)
		}
		slog.Info("Task cancelled before start", "task_id", taskID)
		return
	}
	if err := w.queue.UpdateStatus(ctx, taskID, state.TaskProcessing, ""); err != nil {
		slog.Warn("Failed to mark task processing", "task_id", taskID, "error", err)
	}
	slog.Info("Task started", "task_id", taskID, "task_type", rec.TaskType)

	switch err := w.coord.AcceptTask(ctx, rec); {
	case err == nil:
		if err := w.queue.UpdateStatus(ctx, taskID, state.TaskCompleted, ""); err != nil {
			slog.Warn("Failed to mark task completed", "task_id", taskID, "error", err)
		}
		slog.Info("Task completed", "task_id", taskID)
	case errors.Is(err, pipeline.ErrCancelled):
		if err := w.queue.UpdateStatus(ctx, taskID, state.TaskCancelled, ""); err != nil {
			slog.Warn("Failed to mark task cancelled", "task_id", taskID, "error", err)
		}
		slog.Info("Task cancelled", "task_id", taskID)
	default:
		if uerr := w.queue.UpdateStatus(ctx, taskID, state.TaskFailed, err.Error()); uerr != nil {
			slog.Warn("Failed to mark task failed", "task_id", taskID, "error", uerr)
		}
		slog.Error("Task failed", "task_id", taskID, "error", err)
	}
}

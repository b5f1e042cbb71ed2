package pipeline

import (
	"context"
	"log/slog"
)

// purgeTaskFiles sweeps every artifact of the deleted tasks and their upload.
// Purge is best-effort and idempotent: failures are logged, never surfaced,
// and a second run finds nothing to delete.
func (c *Coordinator) purgeTaskFiles(ctx context.Context, t *Task) error {
	deleted := 0
	for _, target := range t.PurgeTargets {
		result, err := c.deps.Registry.PurgeTask(ctx, target)
		if err != nil {
			slog.Warn("Task purge failed", "task_id", t.TaskID, "target", target, "error", err)
			continue
		}
		deleted += len(result.DeletedKeys)
	}
	if t.FileID != "" {
		result, err := c.deps.Registry.PurgeUpload(ctx, t.FileID, t.FileExt)
		if err != nil {
			slog.Warn("Upload purge failed", "task_id", t.TaskID, "file_id", t.FileID, "error", err)
		} else {
			deleted += len(result.DeletedKeys)
		}
		if err := c.deps.States.DeleteStateByFile(ctx, t.FileID); err != nil {
			slog.Warn("Failed to delete file state", "file_id", t.FileID, "error", err)
		}
	}
	slog.Info("Purge finished", "task_id", t.TaskID, "file_id", t.FileID, "deleted", deleted)
	return nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"slidespeaker/internal/config"
	"slidespeaker/internal/state"
)

// TaskType selects the pipeline variant.
type TaskType string

const (
	TaskVideo   TaskType = "video"
	TaskPodcast TaskType = "podcast"
	TaskBoth    TaskType = "both"
	TaskPurge   TaskType = "file_purge"
)

const (
	// QueueKey is the redis list of queued task ids.
	QueueKey = "ss:queue"
	// DefaultPopTimeout is how long Pop blocks waiting for a task.
	DefaultPopTimeout = 1 * time.Second
	// cancelFlagTTL bounds how long a cancellation flag lives.
	cancelFlagTTL = 24 * time.Hour
	// recordTTL keeps task records around for status queries after finish.
	recordTTL = 7 * 24 * time.Hour
)

func taskKey(taskID string) string       { return "ss:task:" + taskID }
func cancelFlagKey(taskID string) string { return "ss:task:" + taskID + ":cancelled" }

// ErrTaskNotFound is returned for operations on unknown task ids.
var ErrTaskNotFound = errors.New("queue: task not found")

// TaskRecord is the durable per-task record alongside the queue.
type TaskRecord struct {
	TaskID     string           `json:"task_id"`
	FileID     string           `json:"file_id"`
	UserID     string           `json:"user_id,omitempty"`
	TaskType   TaskType         `json:"task_type"`
	SourceType string           `json:"source_type,omitempty"`
	FileExt    string           `json:"file_ext,omitempty"`
	FilePath   string           `json:"file_path,omitempty"`
	Status     state.TaskStatus `json:"status"`
	Knobs      state.Knobs      `json:"kwargs"`
	// PurgeTaskIDs carries the already-deleted task ids a file_purge task
	// should sweep outputs for.
	PurgeTaskIDs []string  `json:"purge_task_ids,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RowRecorder mirrors task records into the persistent repository. All calls
// are best-effort from the queue's perspective.
type RowRecorder interface {
	RecordTask(ctx context.Context, rec *TaskRecord) error
	RecordTaskStatus(ctx context.Context, taskID string, status state.TaskStatus, errMsg string) error
}

// Queue is the durable FIFO of task ids with per-task records and
// cancellation flags. Delivery is at-least-once; step idempotence upstream
// makes reprocessing safe.
type Queue struct {
	client *redis.Client
	rows   RowRecorder
}

// NewQueue connects using the REDIS_* environment settings.
func NewQueue(ctx context.Context) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.RedisHost, config.RedisPort),
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to task queue: %w", err)
	}
	slog.Info("Task queue initialized", "host", config.RedisHost, "port", config.RedisPort)
	return &Queue{client: client}, nil
}

// NewQueueWithClient wraps an existing client (tests, shared connections).
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// WithRows attaches the persistent row recorder.
func (q *Queue) WithRows(rows RowRecorder) *Queue {
	q.rows = rows
	return q
}

func (q *Queue) Close() error { return q.client.Close() }

func (q *Queue) writeRecord(ctx context.Context, rec *TaskRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task record: %w", err)
	}
	if err := q.client.Set(ctx, taskKey(rec.TaskID), data, recordTTL).Err(); err != nil {
		return fmt.Errorf("failed to write task record: %w", err)
	}
	return nil
}

// Submit creates a task record, pushes the id onto the queue tail and
// mirrors the row into the repository (best effort).
func (q *Queue) Submit(ctx context.Context, rec *TaskRecord) (string, error) {
	if rec.TaskID == "" {
		rec.TaskID = uuid.New().String()
	}
	rec.Status = state.TaskQueued
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := q.writeRecord(ctx, rec); err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, QueueKey, rec.TaskID).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	if q.rows != nil {
		if err := q.rows.RecordTask(ctx, rec); err != nil {
			slog.Warn("Failed to record task row", "task_id", rec.TaskID, "error", err)
		}
	}
	slog.Info("Task submitted", "task_id", rec.TaskID, "task_type", rec.TaskType, "file_id", rec.FileID)
	return rec.TaskID, nil
}

// SaveTask rewrites an existing task record in place without touching the
// queue itself. Admin tooling uses it to edit type and knobs.
func (q *Queue) SaveTask(ctx context.Context, rec *TaskRecord) error {
	return q.writeRecord(ctx, rec)
}

// Pop blocks up to timeout for the next task id. Returns "" when the queue
// stayed empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultPopTimeout
	}
	result, err := q.client.BRPop(ctx, timeout, QueueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to pop task: %w", err)
	}
	if len(result) < 2 {
		return "", fmt.Errorf("invalid BRPOP result: %v", result)
	}
	return result[1], nil
}

// GetTask loads a task record.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	data, err := q.client.Get(ctx, taskKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task record: %w", err)
	}
	var rec TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task record: %w", err)
	}
	return &rec, nil
}

// UpdateStatus updates the record status; terminal statuses are mirrored to
// the repository, and cancelled additionally raises the cancellation flag.
func (q *Queue) UpdateStatus(ctx context.Context, taskID string, status state.TaskStatus, errMsg string) error {
	rec, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	rec.Status = status
	if errMsg != "" {
		rec.Error = errMsg
	}
	if err := q.writeRecord(ctx, rec); err != nil {
		return err
	}
	if status == state.TaskCancelled {
		if err := q.client.Set(ctx, cancelFlagKey(taskID), "1", cancelFlagTTL).Err(); err != nil {
			slog.Warn("Failed to set cancellation flag", "task_id", taskID, "error", err)
		}
	}
	if q.rows != nil && status.Terminal() {
		if err := q.rows.RecordTaskStatus(ctx, taskID, status, errMsg); err != nil {
			slog.Warn("Failed to record task row status", "task_id", taskID, "error", err)
		}
	}
	return nil
}

// Cancel raises the cancellation flag for a queued or processing task.
// Returns false when the task is unknown or already terminal.
func (q *Queue) Cancel(ctx context.Context, taskID string) (bool, error) {
	rec, err := q.GetTask(ctx, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Status != state.TaskQueued && rec.Status != state.TaskProcessing {
		return false, nil
	}
	if err := q.client.Set(ctx, cancelFlagKey(taskID), "1", cancelFlagTTL).Err(); err != nil {
		return false, fmt.Errorf("failed to set cancellation flag: %w", err)
	}
	if err := q.UpdateStatus(ctx, taskID, state.TaskCancelled, ""); err != nil {
		return false, err
	}
	slog.Info("Task cancelled", "task_id", taskID)
	return true, nil
}

// IsCancelled is the hot-path cancellation probe polled inside long steps.
func (q *Queue) IsCancelled(ctx context.Context, taskID string) bool {
	n, err := q.client.Exists(ctx, cancelFlagKey(taskID)).Result()
	if err != nil {
		slog.Warn("Cancellation probe failed", "task_id", taskID, "error", err)
		return false
	}
	return n > 0
}

// ClearCancelFlag removes a stale flag (used by retry re-entry).
func (q *Queue) ClearCancelFlag(ctx context.Context, taskID string) error {
	return q.client.Del(ctx, cancelFlagKey(taskID)).Err()
}

// EnqueueExisting re-pushes an in-flight task id for retry or crash
// recovery. The record must exist and be processing.
func (q *Queue) EnqueueExisting(ctx context.Context, taskID string) error {
	rec, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if rec.Status != state.TaskProcessing {
		return fmt.Errorf("task %s is %s, not processing", taskID, rec.Status)
	}
	if err := q.client.LPush(ctx, QueueKey, taskID).Err(); err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	slog.Info("Task requeued", "task_id", taskID)
	return nil
}

// Remove deletes the record, the cancellation flag and any queued entries
// for a task.
func (q *Queue) Remove(ctx context.Context, taskID string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, QueueKey, 0, taskID)
	pipe.Del(ctx, taskKey(taskID))
	pipe.Del(ctx, cancelFlagKey(taskID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove task %s: %w", taskID, err)
	}
	return nil
}

// Length returns the number of queued task ids.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

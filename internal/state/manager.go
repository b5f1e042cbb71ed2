package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"slidespeaker/internal/config"
)

// ErrStateNotFound is returned when no state exists for the given id.
var ErrStateNotFound = errors.New("state: not found")

const (
	// Sliding TTL refreshed on every write.
	stateTTL = 24 * time.Hour
	// Task<->file mappings outlive the state so reruns can find prior tasks.
	mappingTTL = 30 * 24 * time.Hour
)

func fileStateKey(fileID string) string { return "ss:state:" + fileID }
func taskStateKey(taskID string) string { return "ss:state:task:" + taskID }
func task2fileKey(taskID string) string { return "ss:task2file:" + taskID }
func file2taskKey(fileID string) string { return "ss:file2task:" + fileID }
func file2tasksKey(fileID string) string { return "ss:file2tasks:" + fileID }

// Manager owns TaskState records and task<->file mappings in redis.
type Manager struct {
	client *redis.Client
}

// NewManager wraps an existing client (used by tests with miniredis).
func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// NewManagerFromConfig connects using the REDIS_* environment settings.
func NewManagerFromConfig(ctx context.Context) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.RedisHost, config.RedisPort),
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to state store: %w", err)
	}
	slog.Info("State store initialized", "host", config.RedisHost, "port", config.RedisPort)
	return &Manager{client: client}, nil
}

// Client exposes the underlying connection for components sharing the
// substrate (queue, repo cache, sessions).
func (m *Manager) Client() *redis.Client { return m.client }

func (m *Manager) Close() error { return m.client.Close() }

func (ts *TaskState) key() string {
	if ts.TaskID != "" {
		return taskStateKey(ts.TaskID)
	}
	return fileStateKey(ts.FileID)
}

// save serializes the state to its canonical key with the sliding TTL. When
// the state is task-scoped any stale file-scoped mirror is removed so a new
// run never bleeds into an older file-scoped record.
func (m *Manager) save(ctx context.Context, ts *TaskState) error {
	ts.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := m.client.Set(ctx, ts.key(), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if ts.TaskID != "" {
		if err := m.client.Del(ctx, fileStateKey(ts.FileID)).Err(); err != nil {
			slog.Warn("Failed to delete file-scoped state mirror", "file_id", ts.FileID, "error", err)
		}
	}
	return nil
}

func (m *Manager) loadKey(ctx context.Context, key string) (*TaskState, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var ts TaskState
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &ts, nil
}

// CreateState materializes a new state and binds the task<->file mappings.
func (m *Manager) CreateState(ctx context.Context, fileID, taskID, sourceType, fileExt string, knobs Knobs, plan []PlannedStep) (*TaskState, error) {
	ts := NewTaskState(fileID, taskID, sourceType, fileExt, knobs, plan)
	if err := m.save(ctx, ts); err != nil {
		return nil, err
	}
	if taskID != "" {
		if err := m.BindTask(ctx, fileID, taskID); err != nil {
			return nil, err
		}
	}
	slog.Info("Task state created", "file_id", fileID, "task_id", taskID, "steps", len(plan))
	return ts, nil
}

// GetState resolves a state by file id: the file2task mapping first, then
// the legacy file-scoped record.
func (m *Manager) GetState(ctx context.Context, fileID string) (*TaskState, error) {
	taskID, err := m.client.Get(ctx, file2taskKey(fileID)).Result()
	if err == nil && taskID != "" {
		if ts, err := m.loadKey(ctx, taskStateKey(taskID)); err == nil {
			return ts, nil
		} else if !errors.Is(err, ErrStateNotFound) {
			return nil, err
		}
	} else if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to resolve file mapping: %w", err)
	}
	return m.loadKey(ctx, fileStateKey(fileID))
}

// GetStateByTask prefers the task-scoped record, then falls back through the
// task2file mapping to a legacy file-scoped record.
func (m *Manager) GetStateByTask(ctx context.Context, taskID string) (*TaskState, error) {
	ts, err := m.loadKey(ctx, taskStateKey(taskID))
	if err == nil {
		return ts, nil
	}
	if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}
	fileID, err := m.client.Get(ctx, task2fileKey(taskID)).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve task mapping: %w", err)
	}
	return m.loadKey(ctx, fileStateKey(fileID))
}

// UpdateState is the generic read-modify-write all mutations go through.
// A task is owned by a single worker at a time, so best-effort RMW suffices.
func (m *Manager) UpdateState(ctx context.Context, taskID string, mutate func(*TaskState) error) (*TaskState, error) {
	ts, err := m.GetStateByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := mutate(ts); err != nil {
		return nil, err
	}
	if err := m.save(ctx, ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// UpdateStepStatus mutates one step, records it as the current step and
// re-serializes. Re-writing an identical status is a no-op mutation.
func (m *Manager) UpdateStepStatus(ctx context.Context, taskID, step string, status StepStatus, data *StepData) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		snap := ts.Step(step)
		snap.Status = status
		if data != nil {
			snap.Data = data
		}
		ts.CurrentStep = step
		return nil
	})
	return err
}

// SetStepMarkdown attaches rendered markdown to a step snapshot.
func (m *Manager) SetStepMarkdown(ctx context.Context, taskID, step, markdown string) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		ts.Step(step).Markdown = markdown
		return nil
	})
	return err
}

// GetStepSnapshot returns a copy of one step's snapshot.
func (m *Manager) GetStepSnapshot(ctx context.Context, taskID, step string) (*StepSnapshot, error) {
	ts, err := m.GetStateByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	snap, ok := ts.Steps[step]
	if !ok {
		return &StepSnapshot{Status: StepPending}, nil
	}
	cp := *snap
	return &cp, nil
}

// ResetStepsFromTask resets startStep and every later non-skipped step to
// pending in declared order, clears error entries referencing the reset set
// and moves the task back to processing. Steps before startStep keep their
// status and data.
func (m *Manager) ResetStepsFromTask(ctx context.Context, taskID, startStep string) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		idx := -1
		for i, name := range ts.StepOrder {
			if name == startStep {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("unknown step %q", startStep)
		}
		reset := make(map[string]bool)
		for _, name := range ts.StepOrder[idx:] {
			snap := ts.Steps[name]
			if snap == nil || snap.Status == StepSkipped {
				continue
			}
			ts.Steps[name] = &StepSnapshot{Status: StepPending}
			reset[name] = true
		}
		kept := ts.Errors[:0]
		for _, e := range ts.Errors {
			if !reset[e.Step] {
				kept = append(kept, e)
			}
		}
		ts.Errors = kept
		ts.Status = TaskProcessing
		ts.CurrentStep = startStep
		return nil
	})
	return err
}

// MarkProcessing moves a queued or retried task to processing.
func (m *Manager) MarkProcessing(ctx context.Context, taskID string) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		if !ts.Status.Terminal() {
			ts.Status = TaskProcessing
		}
		return nil
	})
	return err
}

// MarkCompleted sets the terminal completed status.
func (m *Manager) MarkCompleted(ctx context.Context, taskID string) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		ts.Status = TaskCompleted
		return nil
	})
	return err
}

// MarkFailed sets the terminal failed status.
func (m *Manager) MarkFailed(ctx context.Context, taskID string) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		ts.Status = TaskFailed
		return nil
	})
	return err
}

// MarkCancelled sets the terminal cancelled status and cancels every step
// still pending or processing. cancelledStep names the step the worker was
// in when the flag was observed; it may be empty.
func (m *Manager) MarkCancelled(ctx context.Context, taskID, cancelledStep string) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		ts.Status = TaskCancelled
		if cancelledStep != "" {
			ts.CurrentStep = cancelledStep
		}
		for _, snap := range ts.Steps {
			if snap.Status == StepPending || snap.Status == StepProcessing {
				snap.Status = StepCancelled
			}
		}
		return nil
	})
	return err
}

// RecordError appends a timestamped error entry for a step.
func (m *Manager) RecordError(ctx context.Context, taskID, step, msg string) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		ts.Errors = append(ts.Errors, TaskErrorEntry{
			Step:      step,
			Error:     msg,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	})
	return err
}

// SetKnobs replaces the task knobs (used when a rerun changes options before
// any step has run).
func (m *Manager) SetKnobs(ctx context.Context, taskID string, knobs Knobs) error {
	_, err := m.UpdateState(ctx, taskID, func(ts *TaskState) error {
		ts.Knobs = knobs
		return nil
	})
	return err
}

// BindTask records the task<->file mappings: the scalar pair for legacy
// lookups and the set for multi-task files.
func (m *Manager) BindTask(ctx context.Context, fileID, taskID string) error {
	pipe := m.client.Pipeline()
	pipe.Set(ctx, task2fileKey(taskID), fileID, mappingTTL)
	pipe.Set(ctx, file2taskKey(fileID), taskID, mappingTTL)
	pipe.SAdd(ctx, file2tasksKey(fileID), taskID)
	pipe.Expire(ctx, file2tasksKey(fileID), mappingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bind task %s to file %s: %w", taskID, fileID, err)
	}
	return nil
}

// UnbindTask removes the mappings for one task and returns how many tasks
// remain bound to the file, enabling last-writer purge decisions.
func (m *Manager) UnbindTask(ctx context.Context, fileID, taskID string) (int64, error) {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, task2fileKey(taskID))
	pipe.SRem(ctx, file2tasksKey(fileID), taskID)
	remaining := pipe.SCard(ctx, file2tasksKey(fileID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to unbind task %s: %w", taskID, err)
	}
	// Repoint or drop the scalar mapping.
	current, err := m.client.Get(ctx, file2taskKey(fileID)).Result()
	if err == nil && current == taskID {
		others, _ := m.client.SMembers(ctx, file2tasksKey(fileID)).Result()
		if len(others) > 0 {
			m.client.Set(ctx, file2taskKey(fileID), others[0], mappingTTL)
		} else {
			m.client.Del(ctx, file2taskKey(fileID))
		}
	}
	return remaining.Val(), nil
}

// TasksForFile lists every task id bound to a file.
func (m *Manager) TasksForFile(ctx context.Context, fileID string) ([]string, error) {
	ids, err := m.client.SMembers(ctx, file2tasksKey(fileID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for file %s: %w", fileID, err)
	}
	return ids, nil
}

// DeleteStateByTask removes a task-scoped state record.
func (m *Manager) DeleteStateByTask(ctx context.Context, taskID string) error {
	return m.client.Del(ctx, taskStateKey(taskID)).Err()
}

// DeleteStateByFile removes a legacy file-scoped state record.
func (m *Manager) DeleteStateByFile(ctx context.Context, fileID string) error {
	return m.client.Del(ctx, fileStateKey(fileID)).Err()
}

// PurgeLegacyFileStates deletes every file-scoped state record, returning
// the number removed. Task-scoped records are untouched.
func (m *Manager) PurgeLegacyFileStates(ctx context.Context) (int, error) {
	var purged int
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, "ss:state:*", 200).Result()
		if err != nil {
			return purged, fmt.Errorf("failed to scan states: %w", err)
		}
		for _, key := range keys {
			if strings.HasPrefix(key, "ss:state:task:") {
				continue
			}
			if err := m.client.Del(ctx, key).Err(); err != nil {
				slog.Warn("Failed to delete legacy state", "key", key, "error", err)
				continue
			}
			purged++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return purged, nil
}

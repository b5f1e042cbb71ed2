// Package repo persists Upload and Task rows for listing, statistics and
// ownership checks. The state store holds runtime detail; these rows are the
// source of truth for history and search.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"slidespeaker/internal/config"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("repo: not found")

// UploadRow is the immutable source document record.
type UploadRow struct {
	UploadID    string    `json:"upload_id"`
	UserID      string    `json:"user_id"`
	Filename    string    `json:"filename"`
	FileExt     string    `json:"file_ext"`
	SourceType  string    `json:"source_type"`
	ContentType string    `json:"content_type"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int64     `json:"size_bytes"`
	StorageURI  string    `json:"storage_uri"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskRow is the persistent task record.
type TaskRow struct {
	TaskID           string           `json:"task_id"`
	UploadID         string           `json:"upload_id"`
	TaskType         string           `json:"task_type"`
	Status           state.TaskStatus `json:"status"`
	Kwargs           state.Knobs      `json:"kwargs"`
	VoiceLanguage    string           `json:"voice_language,omitempty"`
	SubtitleLanguage string           `json:"subtitle_language,omitempty"`
	Error            string           `json:"error,omitempty"`
	Filename         string           `json:"filename,omitempty"`
	UserID           string           `json:"user_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Statistics summarizes task counts.
type Statistics struct {
	Total      int64 `json:"total"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Uploads    int64 `json:"uploads"`
}

// Repository wraps the sql database plus an optional read cache.
type Repository struct {
	db    *sql.DB
	cache *readCache
}

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	upload_id    TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	filename     TEXT NOT NULL,
	file_ext     TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	checksum     TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	storage_uri  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	task_id           TEXT PRIMARY KEY,
	upload_id         TEXT NOT NULL REFERENCES uploads(upload_id),
	task_type         TEXT NOT NULL,
	status            TEXT NOT NULL,
	kwargs            TEXT NOT NULL DEFAULT '{}',
	voice_language    TEXT NOT NULL DEFAULT '',
	subtitle_language TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_upload ON tasks(upload_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// Open opens (creating if needed) the repository database.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite tolerates one writer; keep the pool small.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("Task repository initialized", "path", path)
	return &Repository{db: db}, nil
}

// OpenFromConfig opens the DATABASE_URL database.
func OpenFromConfig() (*Repository, error) {
	return Open(config.DatabaseURL)
}

func (r *Repository) Close() error { return r.db.Close() }

// --- uploads ---

func (r *Repository) InsertUpload(ctx context.Context, u *UploadRow) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uploads (upload_id, user_id, filename, file_ext, source_type, content_type, checksum, size_bytes, storage_uri, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET updated_at = excluded.updated_at`,
		u.UploadID, u.UserID, u.Filename, u.FileExt, u.SourceType, u.ContentType, u.Checksum, u.SizeBytes, u.StorageURI, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}
	r.invalidate(ctx)
	return nil
}

func (r *Repository) GetUpload(ctx context.Context, uploadID string) (*UploadRow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT upload_id, user_id, filename, file_ext, source_type, content_type, checksum, size_bytes, storage_uri, created_at, updated_at
		FROM uploads WHERE upload_id = ?`, uploadID)
	var u UploadRow
	err := row.Scan(&u.UploadID, &u.UserID, &u.Filename, &u.FileExt, &u.SourceType, &u.ContentType, &u.Checksum, &u.SizeBytes, &u.StorageURI, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}
	return &u, nil
}

func (r *Repository) UploadExists(ctx context.Context, uploadID string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM uploads WHERE upload_id = ?`, uploadID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check upload: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) DeleteUpload(ctx context.Context, uploadID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	r.invalidate(ctx)
	return nil
}

// --- tasks ---

func (r *Repository) InsertTask(ctx context.Context, t *TaskRow) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	kwargs, err := json.Marshal(t.Kwargs)
	if err != nil {
		return fmt.Errorf("failed to marshal kwargs: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, upload_id, task_type, status, kwargs, voice_language, subtitle_language, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.UploadID, t.TaskType, string(t.Status), string(kwargs), t.VoiceLanguage, t.SubtitleLanguage, t.Error, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	r.invalidate(ctx)
	return nil
}

func scanTask(scan func(dest ...any) error) (*TaskRow, error) {
	var t TaskRow
	var kwargs, status string
	err := scan(&t.TaskID, &t.UploadID, &t.TaskType, &status, &kwargs, &t.VoiceLanguage, &t.SubtitleLanguage, &t.Error, &t.CreatedAt, &t.UpdatedAt, &t.Filename, &t.UserID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = state.TaskStatus(status)
	if err := json.Unmarshal([]byte(kwargs), &t.Kwargs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kwargs: %w", err)
	}
	return &t, nil
}

const taskSelect = `
	SELECT t.task_id, t.upload_id, t.task_type, t.status, t.kwargs, t.voice_language, t.subtitle_language, t.error, t.created_at, t.updated_at,
	       COALESCE(u.filename, ''), COALESCE(u.user_id, '')
	FROM tasks t LEFT JOIN uploads u ON u.upload_id = t.upload_id`

func (r *Repository) GetTask(ctx context.Context, taskID string) (*TaskRow, error) {
	if t, ok := r.cacheGetTask(ctx, taskID); ok {
		return t, nil
	}
	row := r.db.QueryRowContext(ctx, taskSelect+` WHERE t.task_id = ?`, taskID)
	t, err := scanTask(row.Scan)
	if err != nil {
		return nil, err
	}
	r.cachePutTask(ctx, t)
	return t, nil
}

// UpdateTask sets status and error; updated_at is strictly non-decreasing.
func (r *Repository) UpdateTask(ctx context.Context, taskID string, status state.TaskStatus, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, updated_at = MAX(updated_at, ?) WHERE task_id = ?`,
		string(status), errMsg, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	r.invalidate(ctx)
	return nil
}

// SetTaskType rewrites a task's type and kwargs (admin tooling).
func (r *Repository) SetTaskType(ctx context.Context, taskID, taskType string, kwargs state.Knobs) error {
	kw, err := json.Marshal(kwargs)
	if err != nil {
		return fmt.Errorf("failed to marshal kwargs: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET task_type = ?, kwargs = ?, updated_at = MAX(updated_at, ?) WHERE task_id = ?`,
		taskType, string(kw), time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task type: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	r.invalidate(ctx)
	return nil
}

func (r *Repository) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	r.invalidate(ctx)
	return nil
}

// ListTasks returns tasks newest first, optionally filtered by status and
// owner.
func (r *Repository) ListTasks(ctx context.Context, limit, offset int, status state.TaskStatus, userID string) ([]*TaskRow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := taskSelect + ` WHERE 1=1`
	args := []any{}
	if status != "" {
		query += ` AND t.status = ?`
		args = append(args, string(status))
	}
	if userID != "" {
		query += ` AND u.user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY t.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskRow
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TasksByUpload returns every task over one upload, newest first.
func (r *Repository) TasksByUpload(ctx context.Context, uploadID string) ([]*TaskRow, error) {
	rows, err := r.db.QueryContext(ctx, taskSelect+` WHERE t.upload_id = ? ORDER BY t.created_at DESC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by upload: %w", err)
	}
	defer rows.Close()

	var tasks []*TaskRow
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// OwnerOf resolves a task's owner through its upload.
func (r *Repository) OwnerOf(ctx context.Context, taskID string) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `
		SELECT u.user_id FROM tasks t JOIN uploads u ON u.upload_id = t.upload_id WHERE t.task_id = ?`, taskID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve owner: %w", err)
	}
	return owner, nil
}

// GetStatistics aggregates task counts, optionally scoped to one owner.
func (r *Repository) GetStatistics(ctx context.Context, userID string) (*Statistics, error) {
	query := `
		SELECT COALESCE(t.status, ''), COUNT(1)
		FROM tasks t LEFT JOIN uploads u ON u.upload_id = t.upload_id`
	args := []any{}
	if userID != "" {
		query += ` WHERE u.user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY t.status`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}
	defer rows.Close()

	stats := &Statistics{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch state.TaskStatus(status) {
		case state.TaskQueued:
			stats.Queued = count
		case state.TaskProcessing:
			stats.Processing = count
		case state.TaskCompleted:
			stats.Completed = count
		case state.TaskFailed:
			stats.Failed = count
		case state.TaskCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	uq := `SELECT COUNT(1) FROM uploads`
	uargs := []any{}
	if userID != "" {
		uq += ` WHERE user_id = ?`
		uargs = append(uargs, userID)
	}
	if err := r.db.QueryRowContext(ctx, uq, uargs...).Scan(&stats.Uploads); err != nil {
		return nil, fmt.Errorf("failed to count uploads: %w", err)
	}
	return stats, nil
}

// --- queue.RowRecorder ---

// RecordTask implements queue.RowRecorder for submit-time mirroring. Purge
// tasks are queue-internal and get no row.
func (r *Repository) RecordTask(ctx context.Context, rec *queue.TaskRecord) error {
	if rec.TaskType == queue.TaskPurge {
		return nil
	}
	return r.InsertTask(ctx, &TaskRow{
		TaskID:           rec.TaskID,
		UploadID:         rec.FileID,
		TaskType:         string(rec.TaskType),
		Status:           rec.Status,
		Kwargs:           rec.Knobs,
		VoiceLanguage:    rec.Knobs.VoiceLanguage,
		SubtitleLanguage: rec.Knobs.SubtitleLanguage,
		CreatedAt:        rec.CreatedAt,
	})
}

// RecordTaskStatus implements queue.RowRecorder for terminal transitions.
func (r *Repository) RecordTaskStatus(ctx context.Context, taskID string, status state.TaskStatus, errMsg string) error {
	err := r.UpdateTask(ctx, taskID, status, errMsg)
	if errors.Is(err, ErrNotFound) {
		// Purge tasks have no row; nothing to mirror.
		return nil
	}
	return err
}

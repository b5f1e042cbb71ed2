package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func seedUpload(t *testing.T, r *Repository, uploadID, userID string) {
	t.Helper()
	require.NoError(t, r.InsertUpload(context.Background(), &UploadRow{
		UploadID:   uploadID,
		UserID:     userID,
		Filename:   "paper.pdf",
		FileExt:    ".pdf",
		SourceType: state.SourcePDF,
		SizeBytes:  1024,
		StorageURI: "local://uploads/" + uploadID + ".pdf",
	}))
}

func TestUploadRoundTrip(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	seedUpload(t, r, "ab12cd34ef56ab12", "user-1")

	u, err := r.GetUpload(ctx, "ab12cd34ef56ab12")
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", u.Filename)
	assert.Equal(t, "user-1", u.UserID)

	ok, err := r.UploadExists(ctx, "ab12cd34ef56ab12")
	require.NoError(t, err)
	assert.True(t, ok)

	// Duplicate insert of the same content id is an upsert, not an error.
	seedUpload(t, r, "ab12cd34ef56ab12", "user-1")

	_, err = r.GetUpload(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskLifecycle(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	seedUpload(t, r, "file-1", "user-1")

	task := &TaskRow{
		TaskID:        "task-1",
		UploadID:      "file-1",
		TaskType:      "video",
		Status:        state.TaskQueued,
		Kwargs:        state.Knobs{GenerateVideo: true, VoiceLanguage: "english"},
		VoiceLanguage: "english",
	}
	require.NoError(t, r.InsertTask(ctx, task))

	got, err := r.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", got.Filename)
	assert.Equal(t, "user-1", got.UserID)
	assert.True(t, got.Kwargs.GenerateVideo)

	before := got.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.UpdateTask(ctx, "task-1", state.TaskFailed, "tts down"))
	got, err = r.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, state.TaskFailed, got.Status)
	assert.Equal(t, "tts down", got.Error)
	assert.False(t, got.UpdatedAt.Before(before), "updated_at must be non-decreasing")

	owner, err := r.OwnerOf(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	require.NoError(t, r.DeleteTask(ctx, "task-1"))
	_, err = r.GetTask(ctx, "task-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.UpdateTask(ctx, "task-1", state.TaskCompleted, ""), ErrNotFound)
}

func TestListTasksAndStatistics(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	seedUpload(t, r, "file-1", "user-1")
	seedUpload(t, r, "file-2", "user-2")

	require.NoError(t, r.InsertTask(ctx, &TaskRow{TaskID: "t1", UploadID: "file-1", TaskType: "video", Status: state.TaskCompleted}))
	require.NoError(t, r.InsertTask(ctx, &TaskRow{TaskID: "t2", UploadID: "file-1", TaskType: "podcast", Status: state.TaskFailed}))
	require.NoError(t, r.InsertTask(ctx, &TaskRow{TaskID: "t3", UploadID: "file-2", TaskType: "video", Status: state.TaskCompleted}))

	all, err := r.ListTasks(ctx, 50, 0, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completed, err := r.ListTasks(ctx, 50, 0, state.TaskCompleted, "")
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	mine, err := r.ListTasks(ctx, 50, 0, "", "user-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	byUpload, err := r.TasksByUpload(ctx, "file-1")
	require.NoError(t, err)
	assert.Len(t, byUpload, 2)

	stats, err := r.GetStatistics(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), stats.Uploads)

	stats, err = r.GetStatistics(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Uploads)
}

func TestRowRecorder(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	seedUpload(t, r, "file-1", "user-1")

	rec := &queue.TaskRecord{
		TaskID:   "task-1",
		FileID:   "file-1",
		TaskType: queue.TaskVideo,
		Status:   state.TaskQueued,
		Knobs:    state.Knobs{VoiceLanguage: "english", SubtitleLanguage: "zh"},
	}
	require.NoError(t, r.RecordTask(ctx, rec))

	got, err := r.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "english", got.VoiceLanguage)
	assert.Equal(t, "zh", got.SubtitleLanguage)

	require.NoError(t, r.RecordTaskStatus(ctx, "task-1", state.TaskCompleted, ""))
	got, err = r.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, got.Status)

	// Rows for unknown tasks (purge tasks) are silently skipped.
	assert.NoError(t, r.RecordTaskStatus(ctx, "no-row", state.TaskCompleted, ""))
}

func TestReadCacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := openTestRepo(t).WithCache(client)
	ctx := context.Background()

	seedUpload(t, r, "file-1", "user-1")
	require.NoError(t, r.InsertTask(ctx, &TaskRow{TaskID: "task-1", UploadID: "file-1", TaskType: "video", Status: state.TaskQueued}))

	// Prime the cache.
	_, err := r.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ss:cache:task:task-1"))

	// Mutation invalidates; the next read sees the new status.
	require.NoError(t, r.UpdateTask(ctx, "task-1", state.TaskProcessing, ""))
	assert.False(t, mr.Exists("ss:cache:task:task-1"))

	got, err := r.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, state.TaskProcessing, got.Status)
}

package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewManager(client)
}

func testPlan() []PlannedStep {
	return []PlannedStep{
		{Name: "segment_pdf_content"},
		{Name: "revise_pdf_transcripts"},
		{Name: "translate_voice_transcripts", Skipped: true},
		{Name: "generate_pdf_audio"},
		{Name: "compose_video"},
	}
}

func TestNormalizeStepStatus(t *testing.T) {
	cases := map[string]StepStatus{
		"complete":    StepCompleted,
		"completed":   StepCompleted,
		"in_progress": StepProcessing,
		"processing":  StepProcessing,
		"canceled":    StepCancelled,
		"cancelled":   StepCancelled,
		"error":       StepFailed,
		"failed":      StepFailed,
		"queued":      StepPending,
		"waiting":     StepPending,
		"pending":     StepPending,
		"skipped":     StepSkipped,
		"garbage":     StepPending,
	}
	for raw, want := range cases {
		got := NormalizeStepStatus(raw)
		assert.Equal(t, want, got, "alias %q", raw)
		// Idempotence
		assert.Equal(t, got, NormalizeStepStatus(string(got)))
	}
}

func TestTaskStateSerializationIdempotent(t *testing.T) {
	ts := NewTaskState("file-1", "task-1", SourcePDF, ".pdf", Knobs{VoiceLanguage: "english", GenerateVideo: true}, testPlan())
	ts.Step("segment_pdf_content").Data = ChaptersData([]Chapter{{Index: 0, Title: "Intro", Content: "text"}})
	ts.Artifacts.SetSubtitle("en", ArtifactRef{StorageKey: "outputs/task-1/subtitles/en.vtt"})

	first, err := json.Marshal(ts)
	require.NoError(t, err)

	var decoded TaskState
	require.NoError(t, json.Unmarshal(first, &decoded))
	second, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestCreateStateBindsAndDeletesMirror(t *testing.T) {
	mr, m := setupManager(t)
	ctx := context.Background()

	// A stale file-scoped record from an earlier run without a task id.
	_, err := m.CreateState(ctx, "file-1", "", SourcePDF, ".pdf", Knobs{}, testPlan())
	require.NoError(t, err)
	require.True(t, mr.Exists("ss:state:file-1"))

	_, err = m.CreateState(ctx, "file-1", "task-1", SourcePDF, ".pdf", Knobs{GenerateVideo: true}, testPlan())
	require.NoError(t, err)

	assert.True(t, mr.Exists("ss:state:task:task-1"))
	assert.False(t, mr.Exists("ss:state:file-1"), "file-scoped mirror must be deleted on task-scoped write")

	// Mappings bound
	got, err := m.client.Get(ctx, "ss:task2file:task-1").Result()
	require.NoError(t, err)
	assert.Equal(t, "file-1", got)
	ids, err := m.TasksForFile(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, ids)
}

func TestGetStateResolvesThroughMapping(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateState(ctx, "file-1", "task-1", SourceSlides, ".pptx", Knobs{}, testPlan())
	require.NoError(t, err)

	ts, err := m.GetState(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", ts.TaskID)

	ts, err = m.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "file-1", ts.FileID)

	_, err = m.GetStateByTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestUpdateStepStatus(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateState(ctx, "file-1", "task-1", SourcePDF, ".pdf", Knobs{}, testPlan())
	require.NoError(t, err)

	data := ChaptersData([]Chapter{{Index: 0, Title: "A", Content: "c"}})
	require.NoError(t, m.UpdateStepStatus(ctx, "task-1", "segment_pdf_content", StepCompleted, data))

	ts, err := m.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "segment_pdf_content", ts.CurrentStep)
	snap := ts.Steps["segment_pdf_content"]
	assert.Equal(t, StepCompleted, snap.Status)
	require.NotNil(t, snap.Data)
	assert.Equal(t, DataChapters, snap.Data.Kind)
	assert.Len(t, snap.Data.Chapters, 1)

	// Re-writing the same status is a harmless no-op.
	require.NoError(t, m.UpdateStepStatus(ctx, "task-1", "segment_pdf_content", StepCompleted, nil))
	snap2, err := m.GetStepSnapshot(ctx, "task-1", "segment_pdf_content")
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, snap2.Status)
	assert.NotNil(t, snap2.Data)
}

func TestResetStepsFromTask(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateState(ctx, "file-1", "task-1", SourcePDF, ".pdf", Knobs{}, testPlan())
	require.NoError(t, err)

	require.NoError(t, m.UpdateStepStatus(ctx, "task-1", "segment_pdf_content", StepCompleted, nil))
	require.NoError(t, m.UpdateStepStatus(ctx, "task-1", "revise_pdf_transcripts", StepCompleted, nil))
	require.NoError(t, m.UpdateStepStatus(ctx, "task-1", "generate_pdf_audio", StepFailed, ErrorData("tts down")))
	require.NoError(t, m.RecordError(ctx, "task-1", "generate_pdf_audio", "tts down"))
	require.NoError(t, m.MarkFailed(ctx, "task-1"))

	require.NoError(t, m.ResetStepsFromTask(ctx, "task-1", "generate_pdf_audio"))

	ts, err := m.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	// Earlier steps untouched
	assert.Equal(t, StepCompleted, ts.Steps["segment_pdf_content"].Status)
	assert.Equal(t, StepCompleted, ts.Steps["revise_pdf_transcripts"].Status)
	// Skipped steps stay skipped
	assert.Equal(t, StepSkipped, ts.Steps["translate_voice_transcripts"].Status)
	// Reset set back to pending, data cleared
	assert.Equal(t, StepPending, ts.Steps["generate_pdf_audio"].Status)
	assert.Nil(t, ts.Steps["generate_pdf_audio"].Data)
	assert.Equal(t, StepPending, ts.Steps["compose_video"].Status)
	// Error entries referencing reset steps cleared
	assert.Empty(t, ts.Errors)
	assert.Equal(t, TaskProcessing, ts.Status)
}

func TestResetUnknownStepFails(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	_, err := m.CreateState(ctx, "file-1", "task-1", SourcePDF, ".pdf", Knobs{}, testPlan())
	require.NoError(t, err)
	assert.Error(t, m.ResetStepsFromTask(ctx, "task-1", "no_such_step"))
}

func TestMarkCancelledCancelsOpenSteps(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateState(ctx, "file-1", "task-1", SourcePDF, ".pdf", Knobs{}, testPlan())
	require.NoError(t, err)
	require.NoError(t, m.UpdateStepStatus(ctx, "task-1", "segment_pdf_content", StepCompleted, nil))
	require.NoError(t, m.UpdateStepStatus(ctx, "task-1", "revise_pdf_transcripts", StepProcessing, nil))

	require.NoError(t, m.MarkCancelled(ctx, "task-1", "revise_pdf_transcripts"))

	ts, err := m.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, ts.Status)
	assert.Equal(t, StepCompleted, ts.Steps["segment_pdf_content"].Status)
	assert.Equal(t, StepCancelled, ts.Steps["revise_pdf_transcripts"].Status)
	assert.Equal(t, StepCancelled, ts.Steps["generate_pdf_audio"].Status)
	assert.Equal(t, StepSkipped, ts.Steps["translate_voice_transcripts"].Status)
	assert.Less(t, ts.Progress(), 100)
}

func TestProgressMatchesCompletion(t *testing.T) {
	ts := NewTaskState("file-1", "task-1", SourcePDF, ".pdf", Knobs{}, testPlan())
	assert.Equal(t, 0, ts.Progress())

	// 4 non-skipped steps; completing all of them is 100%.
	for _, name := range []string{"segment_pdf_content", "revise_pdf_transcripts", "generate_pdf_audio", "compose_video"} {
		ts.Steps[name].Status = StepCompleted
	}
	assert.True(t, ts.AllStepsDone())
	assert.Equal(t, 100, ts.Progress())

	ts.Steps["compose_video"].Status = StepPending
	assert.Equal(t, 75, ts.Progress())
	assert.False(t, ts.AllStepsDone())
}

func TestUnbindTaskReturnsRemaining(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.BindTask(ctx, "file-1", "task-1"))
	require.NoError(t, m.BindTask(ctx, "file-1", "task-2"))

	remaining, err := m.UnbindTask(ctx, "file-1", "task-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)

	// Scalar mapping repointed to the surviving task.
	got, err := m.client.Get(ctx, "ss:file2task:file-1").Result()
	require.NoError(t, err)
	assert.Equal(t, "task-1", got)

	remaining, err = m.UnbindTask(ctx, "file-1", "task-1")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestPurgeLegacyFileStates(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateState(ctx, "file-1", "", SourcePDF, ".pdf", Knobs{}, testPlan())
	require.NoError(t, err)
	_, err = m.CreateState(ctx, "file-2", "task-2", SourcePDF, ".pdf", Knobs{}, testPlan())
	require.NoError(t, err)

	purged, err := m.PurgeLegacyFileStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	// Task-scoped record survives.
	_, err = m.GetStateByTask(ctx, "task-2")
	assert.NoError(t, err)
}

func TestSessions(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "user-1")
	require.NoError(t, err)

	rec, err := m.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.UserID)

	require.NoError(t, m.DeleteSession(ctx, id))
	_, err = m.GetSession(ctx, id)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

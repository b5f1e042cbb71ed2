package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidespeaker/internal/media"
	"slidespeaker/internal/providers"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/registry"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// fakeComposer stands in for ffmpeg: it writes marker bytes to the output
// path and counts invocations.
type fakeComposer struct {
	mu       sync.Mutex
	concats  int
	videos   int
	podcasts int
}

func (f *fakeComposer) write(output, payload string) error {
	return os.WriteFile(output, []byte(payload), 0o644)
}

func (f *fakeComposer) ConcatAudio(_ context.Context, segments []string, output string) error {
	f.mu.Lock()
	f.concats++
	f.mu.Unlock()
	return f.write(output, fmt.Sprintf("CONCAT:%d", len(segments)))
}

func (f *fakeComposer) ComposeVideo(_ context.Context, images []media.TimedImage, _, _, output, _ string) error {
	f.mu.Lock()
	f.videos++
	f.mu.Unlock()
	return f.write(output, fmt.Sprintf("VIDEO:%d", len(images)))
}

func (f *fakeComposer) ComposePodcast(_ context.Context, segments []string, output string) error {
	f.mu.Lock()
	f.podcasts++
	f.mu.Unlock()
	return f.write(output, fmt.Sprintf("PODCAST:%d", len(segments)))
}

// countingTTS counts synthesize calls and can run a hook after each one.
type countingTTS struct {
	inner  providers.TTS
	mu     sync.Mutex
	calls  int
	onCall func(n int)
}

func (c *countingTTS) Synthesize(ctx context.Context, text, voice, language string) ([]byte, float64, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	audio, dur, err := c.inner.Synthesize(ctx, text, voice, language)
	if c.onCall != nil {
		c.onCall(n)
	}
	return audio, dur, err
}

type testEnv struct {
	coord    *Coordinator
	states   *state.Manager
	queue    *queue.Queue
	storage  storage.Provider
	llm      *providers.FakeLLM
	tts      *countingTTS
	fakeTTS  *providers.FakeTTS
	composer *fakeComposer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	states := state.NewManager(client)
	q := queue.NewQueueWithClient(client)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	llm := &providers.FakeLLM{}
	fakeTTS := &providers.FakeTTS{}
	tts := &countingTTS{inner: fakeTTS}
	composer := &fakeComposer{}

	coord := New(Deps{
		States: states,
		Queue:  q,
		Storage: provider,
		Providers: providers.Set{
			LLM:       llm,
			TTS:       tts,
			Images:    &providers.FakeImageGenerator{},
			Vision:    &providers.FakeVision{},
			Extractor: &providers.FakeExtractor{},
		},
		Composer: composer,
		Registry: registry.New(provider, states),
		WorkDir:  t.TempDir(),
	})
	return &testEnv{coord: coord, states: states, queue: q, storage: provider, llm: llm, tts: tts, fakeTTS: fakeTTS, composer: composer}
}

const samplePDF = "Introduction\nThis paper presents the system.\n\nMethod\nWe describe the approach.\n\nResults\nIt works well."

func (e *testEnv) submit(t *testing.T, rec *queue.TaskRecord, content string) *queue.TaskRecord {
	t.Helper()
	ctx := context.Background()
	key := storage.UploadKey(rec.FileID, rec.FileExt)
	require.NoError(t, e.storage.PutBytes(ctx, []byte(content), key, "application/pdf"))
	id, err := e.queue.Submit(ctx, rec)
	require.NoError(t, err)
	got, err := e.queue.GetTask(ctx, id)
	require.NoError(t, err)
	return got
}

func videoRecord(fileID string, knobs state.Knobs) *queue.TaskRecord {
	return &queue.TaskRecord{
		FileID:     fileID,
		TaskType:   queue.TaskVideo,
		SourceType: state.SourcePDF,
		FileExt:    ".pdf",
		Knobs:      knobs,
	}
}

func TestPDFVideoEnglishEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, videoRecord("file-1", state.Knobs{
		GenerateVideo:     true,
		GenerateSubtitles: true,
		VoiceLanguage:     "english",
		SubtitleLanguage:  "english",
	}), samplePDF)

	require.NoError(t, env.coord.AcceptTask(ctx, rec))

	ts, err := env.states.GetStateByTask(ctx, rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, 100, ts.Progress())

	for _, step := range []string{StepSegmentPDF, StepRevisePDF, StepPDFImages, StepPDFAudio, StepPDFSubtitles, StepComposeVideo} {
		assert.Equal(t, state.StepCompleted, ts.Steps[step].Status, step)
	}
	assert.Equal(t, state.StepSkipped, ts.Steps[StepTranslateVoice].Status)
	assert.Equal(t, state.StepSkipped, ts.Steps[StepTranslateSubtitle].Status)

	for _, key := range []string{
		storage.OutputKey(rec.TaskID, storage.CategoryVideo, "final.mp4"),
		storage.OutputKey(rec.TaskID, storage.CategoryAudio, "final.mp3"),
		storage.OutputKey(rec.TaskID, storage.CategorySubtitles, "en.srt"),
		storage.OutputKey(rec.TaskID, storage.CategorySubtitles, "en.vtt"),
		storage.OutputKey(rec.TaskID, storage.CategoryTranscripts, "transcript.md"),
	} {
		ok, err := env.storage.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "expected artifact %s", key)
	}
	assert.NotEmpty(t, ts.Artifacts.Video)
	assert.NotEmpty(t, ts.Artifacts.Audio)
	assert.NotEmpty(t, ts.Artifacts.Subtitles["en"].StorageKey)
}

func TestPodcastWithTranslationEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, &queue.TaskRecord{
		FileID:     "file-2",
		TaskType:   queue.TaskPodcast,
		SourceType: state.SourcePDF,
		FileExt:    ".pdf",
		Knobs:      state.Knobs{GeneratePodcast: true, VoiceLanguage: "english", TranscriptLanguage: "spanish"},
	}, samplePDF)

	require.NoError(t, env.coord.AcceptTask(ctx, rec))

	ts, err := env.states.GetStateByTask(ctx, rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, state.StepCompleted, ts.Steps[StepTranslatePodcastScript].Status)
	_, hasCompose := ts.Steps[StepComposeVideo]
	assert.False(t, hasCompose)

	data, err := env.storage.GetBytes(ctx, storage.OutputKey(rec.TaskID, storage.CategoryTranscripts, "podcast_script.json"))
	require.NoError(t, err)
	var script state.PodcastScript
	require.NoError(t, json.Unmarshal(data, &script))
	assert.Equal(t, "spanish", script.Language)

	ok, err := env.storage.Exists(ctx, storage.OutputKey(rec.TaskID, storage.CategoryPodcast, "final.mp3"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRerunAfterCompletionIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, videoRecord("file-3", state.Knobs{GenerateVideo: true, VoiceLanguage: "english"}), samplePDF)

	require.NoError(t, env.coord.AcceptTask(ctx, rec))
	firstCalls := env.tts.calls
	firstConcats := env.composer.concats

	require.NoError(t, env.coord.AcceptTask(ctx, rec))
	assert.Equal(t, firstCalls, env.tts.calls, "no synthesis on re-run")
	assert.Equal(t, firstConcats, env.composer.concats, "no composition on re-run")
}

func TestFailureHaltsLaterSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, videoRecord("file-4", state.Knobs{GenerateVideo: true, VoiceLanguage: "english"}), samplePDF)
	env.fakeTTS.FailNext("Synthesize", 100, false)

	err := env.coord.AcceptTask(ctx, rec)
	assert.ErrorIs(t, err, ErrStepFailed)

	ts, err2 := env.states.GetStateByTask(ctx, rec.TaskID)
	require.NoError(t, err2)
	assert.Equal(t, state.TaskFailed, ts.Status)
	assert.Equal(t, state.StepFailed, ts.Steps[StepPDFAudio].Status)
	assert.Equal(t, state.StepPending, ts.Steps[StepComposeVideo].Status)
	require.NotEmpty(t, ts.Errors)
	assert.Equal(t, StepPDFAudio, ts.Errors[len(ts.Errors)-1].Step)
	assert.Less(t, ts.Progress(), 100)
}

func TestRetryFromFailedStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, videoRecord("file-5", state.Knobs{GenerateVideo: true, VoiceLanguage: "english"}), samplePDF)
	env.fakeTTS.FailNext("Synthesize", 100, false)

	require.ErrorIs(t, env.coord.AcceptTask(ctx, rec), ErrStepFailed)
	env.fakeTTS.FailNext("Synthesize", 0, false)

	videosBefore := env.composer.videos
	require.NoError(t, env.states.ResetStepsFromTask(ctx, rec.TaskID, StepPDFAudio))
	require.NoError(t, env.coord.AcceptTask(ctx, rec))

	ts, err := env.states.GetStateByTask(ctx, rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Empty(t, ts.Errors, "errors for the reset steps are cleared")
	assert.Equal(t, state.StepCompleted, ts.Steps[StepPDFAudio].Status)
	assert.Equal(t, videosBefore+1, env.composer.videos, "video composed exactly once after retry")
}

func TestCancellationWithinStepBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, videoRecord("file-6", state.Knobs{GenerateVideo: true, VoiceLanguage: "english"}), samplePDF)

	// Cancel after the first synthesized unit; the step observes the flag at
	// the next unit boundary.
	env.tts.onCall = func(n int) {
		if n == 1 {
			_, err := env.queue.Cancel(ctx, rec.TaskID)
			require.NoError(t, err)
		}
	}

	err := env.coord.AcceptTask(ctx, rec)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, env.tts.calls, "no further units after the probe fires")

	ts, err2 := env.states.GetStateByTask(ctx, rec.TaskID)
	require.NoError(t, err2)
	assert.Equal(t, state.TaskCancelled, ts.Status)
	assert.Equal(t, state.StepCancelled, ts.Steps[StepPDFAudio].Status)
	assert.Empty(t, ts.Errors, "cancellation is not an error")
	assert.Less(t, ts.Progress(), 100)
}

func TestBothVariantSharesSegmentation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, &queue.TaskRecord{
		FileID:     "file-7",
		TaskType:   queue.TaskBoth,
		SourceType: state.SourcePDF,
		FileExt:    ".pdf",
		Knobs:      state.Knobs{GenerateVideo: true, GeneratePodcast: true, VoiceLanguage: "english"},
	}, samplePDF)

	require.NoError(t, env.coord.AcceptTask(ctx, rec))

	ts, err := env.states.GetStateByTask(ctx, rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.NotEmpty(t, ts.Artifacts.Video)
	assert.NotEmpty(t, ts.Artifacts.Podcast)
	assert.Equal(t, 1, env.composer.videos)
	assert.Equal(t, 1, env.composer.podcasts)
}

func TestPurgeRemovesAllArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, videoRecord("file-8", state.Knobs{GenerateVideo: true, VoiceLanguage: "english"}), samplePDF)
	require.NoError(t, env.coord.AcceptTask(ctx, rec))

	purge := &queue.TaskRecord{
		FileID:       "file-8",
		TaskType:     queue.TaskPurge,
		FileExt:      ".pdf",
		PurgeTaskIDs: []string{rec.TaskID},
	}
	id, err := env.queue.Submit(ctx, purge)
	require.NoError(t, err)
	purgeRec, err := env.queue.GetTask(ctx, id)
	require.NoError(t, err)

	require.NoError(t, env.coord.AcceptTask(ctx, purgeRec))

	for _, key := range []string{
		storage.OutputKey(rec.TaskID, storage.CategoryVideo, "final.mp4"),
		storage.OutputKey(rec.TaskID, storage.CategoryAudio, "final.mp3"),
		storage.UploadKey("file-8", ".pdf"),
	} {
		ok, err := env.storage.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key %s must be purged", key)
	}
}

func TestFinalizeMarksSilentStepCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.submit(t, videoRecord("file-9", state.Knobs{GenerateVideo: true, VoiceLanguage: "english"}), samplePDF)

	_, err := env.states.CreateState(ctx, rec.FileID, rec.TaskID, rec.SourceType, rec.FileExt, rec.Knobs,
		Plan(rec.TaskType, rec.SourceType, rec.Knobs))
	require.NoError(t, err)

	// A step implementation that returns nil without recording a status.
	task := &Task{TaskID: rec.TaskID, FileID: rec.FileID, SourceType: rec.SourceType, FileExt: rec.FileExt, Knobs: rec.Knobs}
	env.coord.steps[StepSegmentPDF] = func(context.Context, *Task) error { return nil }

	require.NoError(t, env.coord.ExecuteStep(ctx, task, StepSegmentPDF))
	snap, err := env.states.GetStepSnapshot(ctx, rec.TaskID, StepSegmentPDF)
	require.NoError(t, err)
	assert.Equal(t, state.StepCompleted, snap.Status)
}

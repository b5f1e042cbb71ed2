package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

func setupRegistry(t *testing.T) (*Registry, storage.Provider, *state.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	states := state.NewManager(client)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	return New(provider, states), provider, states
}

func TestKeysForTaskIncludeRecordedAndCandidates(t *testing.T) {
	reg, _, states := setupRegistry(t)
	ctx := context.Background()

	plan := []state.PlannedStep{{Name: "compose_video"}}
	_, err := states.CreateState(ctx, "file-1", "task-1", state.SourcePDF, ".pdf", state.Knobs{GenerateVideo: true}, plan)
	require.NoError(t, err)

	_, err = states.UpdateState(ctx, "task-1", func(ts *state.TaskState) error {
		ts.Artifacts.SetVideo("final.mp4", state.ArtifactRef{StorageKey: "outputs/task-1/video/final.mp4"})
		ts.Artifacts.SetSubtitle("zh", state.ArtifactRef{StorageURI: "local://outputs/task-1/subtitles/zh.vtt"})
		return nil
	})
	require.NoError(t, err)

	keys, _, err := reg.KeysForTask(ctx, "task-1")
	require.NoError(t, err)

	assert.Contains(t, keys, "outputs/task-1/video/final.mp4")
	assert.Contains(t, keys, "outputs/task-1/subtitles/zh.vtt")
	assert.Contains(t, keys, "outputs/file-1/video/final.mp4")
	assert.Contains(t, keys, "task-1.mp4")
	assert.Contains(t, keys, "task-1_podcast.mp3")
	assert.Contains(t, keys, "uploads/file-1.pdf")
	assert.Contains(t, keys, "file-1.pdf")
}

func TestPurgeTaskDeletesExistingKeys(t *testing.T) {
	reg, provider, states := setupRegistry(t)
	ctx := context.Background()

	_, err := states.CreateState(ctx, "file-1", "task-1", state.SourcePDF, ".pdf", state.Knobs{}, []state.PlannedStep{{Name: "compose_video"}})
	require.NoError(t, err)

	present := []string{
		"outputs/task-1/video/final.mp4",
		"uploads/file-1.pdf",
		"task-1.mp4",
	}
	for _, key := range present {
		require.NoError(t, provider.PutBytes(ctx, []byte("x"), key, "application/octet-stream"))
	}

	localFile := filepath.Join(t.TempDir(), "scratch.mp3")
	require.NoError(t, os.WriteFile(localFile, []byte("x"), 0o644))
	_, err = states.UpdateState(ctx, "task-1", func(ts *state.TaskState) error {
		ts.Artifacts.SetAudio("scratch", state.ArtifactRef{LocalPath: localFile})
		return nil
	})
	require.NoError(t, err)

	result, err := reg.PurgeTask(ctx, "task-1")
	require.NoError(t, err)

	for _, key := range present {
		assert.Contains(t, result.DeletedKeys, key)
		ok, err := provider.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key %s must be gone", key)
	}
	assert.Contains(t, result.DeletedPaths, localFile)
	assert.NoFileExists(t, localFile)
	assert.NotEmpty(t, result.MissingKeys)

	// Purging again finds nothing to delete.
	again, err := reg.PurgeTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, again.DeletedKeys)
}

func TestPurgeTaskWithoutStateStillProbesTaskKeys(t *testing.T) {
	reg, provider, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, provider.PutBytes(ctx, []byte("x"), "outputs/ghost/podcast/final.mp3", "audio/mpeg"))

	result, err := reg.PurgeTask(ctx, "ghost")
	require.NoError(t, err)
	assert.Contains(t, result.DeletedKeys, "outputs/ghost/podcast/final.mp3")
}

func TestPurgeUpload(t *testing.T) {
	reg, provider, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, provider.PutBytes(ctx, []byte("x"), "uploads/file-1.pdf", "application/pdf"))
	require.NoError(t, provider.PutBytes(ctx, []byte("x"), "outputs/file-1/video/final.mp4", "video/mp4"))
	require.NoError(t, provider.PutBytes(ctx, []byte("x"), "file-1_en.srt", "text/plain"))

	result, err := reg.PurgeUpload(ctx, "file-1", ".pdf")
	require.NoError(t, err)
	assert.Contains(t, result.DeletedKeys, "uploads/file-1.pdf")
	assert.Contains(t, result.DeletedKeys, "outputs/file-1/video/final.mp4")
	assert.Contains(t, result.DeletedKeys, "file-1_en.srt")
}

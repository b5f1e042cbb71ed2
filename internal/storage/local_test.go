package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProviderPutGetDelete(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	key := OutputKey("task-1", CategoryAudio, "final.mp3")

	ok, err := local.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, local.PutBytes(ctx, []byte("audio-bytes"), key, "audio/mpeg"))

	ok, err = local.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := local.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), data)

	dst := filepath.Join(t.TempDir(), "out.mp3")
	require.NoError(t, local.GetFile(ctx, key, dst))
	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), data)

	require.NoError(t, local.Delete(ctx, key))
	_, err = local.GetBytes(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Delete of a missing key is a no-op
	assert.NoError(t, local.Delete(ctx, key))
}

func TestLocalProviderPutFile(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "in.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))

	key := UploadKey("ab12cd34ef56ab12", ".pdf")
	require.NoError(t, local.PutFile(ctx, src, key, "application/pdf"))

	data, err := local.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
}

func TestLocalProviderRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside", "/abs/path", "a/../../b"} {
		assert.Error(t, local.PutBytes(ctx, []byte("x"), key, ""), "key %q", key)
	}
}

func TestLocalProviderPresignUnsupported(t *testing.T) {
	local, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	url, err := local.Presign(context.Background(), "any", 0, PresignOptions{})
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestResolveKeyProbesInOrder(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	legacy := LegacyFlatKey("task-1", ".mp4")
	require.NoError(t, local.PutBytes(ctx, []byte("legacy"), legacy, "video/mp4"))

	// Only the legacy key exists: probe falls through to it.
	key, err := ResolveKey(ctx, local, VideoKeyCandidates("task-1", "file-1")...)
	require.NoError(t, err)
	assert.Equal(t, legacy, key)

	// Canonical key takes precedence once written.
	canonical := OutputKey("task-1", CategoryVideo, "final.mp4")
	require.NoError(t, local.PutBytes(ctx, []byte("canonical"), canonical, "video/mp4"))
	key, err = ResolveKey(ctx, local, VideoKeyCandidates("task-1", "file-1")...)
	require.NoError(t, err)
	assert.Equal(t, canonical, key)

	_, err = ResolveKey(ctx, local, "missing-1", "missing-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackfillLegacyKeys(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, local.PutBytes(ctx, []byte("vid"), LegacyFlatKey("file-1", ".mp4"), "video/mp4"))
	require.NoError(t, local.PutBytes(ctx, []byte("sub"), LegacySubtitleKey("file-1", "en", "vtt"), "text/vtt"))

	res, err := BackfillLegacyKeys(ctx, local, "file-1", []string{"en"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Copied)
	assert.Equal(t, 2, res.Deleted)

	data, err := local.GetBytes(ctx, OutputKey("file-1", CategoryVideo, "final.mp4"))
	require.NoError(t, err)
	assert.Equal(t, []byte("vid"), data)

	_, err = local.GetBytes(ctx, LegacyFlatKey("file-1", ".mp4"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Second pass finds nothing to do.
	res, err = BackfillLegacyKeys(ctx, local, "file-1", []string{"en"}, true)
	require.NoError(t, err)
	assert.Zero(t, res.Copied)
}

// Package registry derives the full artifact set a task or upload ever
// produced and deletes it best-effort. The providers cannot list keys, so
// enumeration is reconstructed from recorded artifact refs plus the known
// canonical and legacy key shapes.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"

	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// SubtitleLocales are the locales probed for legacy subtitle keys when the
// state carries no explicit refs.
var SubtitleLocales = []string{"en", "zh", "ja", "ko", "es", "fr", "de", "pt", "it", "th"}

// Registry resolves and purges stored artifacts.
type Registry struct {
	provider storage.Provider
	states   *state.Manager
}

func New(provider storage.Provider, states *state.Manager) *Registry {
	return &Registry{provider: provider, states: states}
}

// KeysForTask enumerates every storage key a task may have written: recorded
// artifact refs first, then the canonical and legacy candidates for each
// output category. The result is deduplicated and sorted.
func (r *Registry) KeysForTask(ctx context.Context, taskID string) ([]string, []string, error) {
	ts, err := r.states.GetStateByTask(ctx, taskID)
	if err != nil && !errors.Is(err, state.ErrStateNotFound) {
		return nil, nil, err
	}
	var uploadID, ext string
	var paths []string
	seen := map[string]bool{}
	add := func(key string) {
		if key != "" && !seen[key] {
			seen[key] = true
		}
	}

	if ts != nil {
		uploadID = ts.FileID
		ext = ts.FileExt
		if ts.FilePath != "" {
			paths = append(paths, ts.FilePath)
		}
		for _, ref := range ts.Artifacts.All() {
			if ref.StorageKey != "" {
				add(ref.StorageKey)
			} else if ref.StorageURI != "" {
				if key, err := storage.ObjectKeyFromURI(ref.StorageURI); err == nil {
					add(key)
				}
			}
			if ref.LocalPath != "" {
				paths = append(paths, ref.LocalPath)
			}
		}
	}

	for _, key := range storage.VideoKeyCandidates(taskID, uploadID) {
		add(key)
	}
	for _, key := range storage.AudioKeyCandidates(taskID, uploadID) {
		add(key)
	}
	for _, key := range storage.PodcastKeyCandidates(taskID, uploadID) {
		add(key)
	}
	for _, locale := range SubtitleLocales {
		for _, format := range []string{"srt", "vtt"} {
			for _, key := range storage.SubtitleKeyCandidates(taskID, uploadID, locale, format) {
				add(key)
			}
		}
	}
	if uploadID != "" && ext != "" {
		add(storage.UploadKey(uploadID, ext))
		add(storage.LegacyFlatKey(uploadID, ext))
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, paths, nil
}

// PurgeTask deletes every enumerable artifact of one task. Deletion is
// best-effort: keys that do not exist are counted as missing, delete
// failures are logged and skipped.
func (r *Registry) PurgeTask(ctx context.Context, taskID string) (*state.PurgeResult, error) {
	keys, paths, err := r.KeysForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	result := &state.PurgeResult{}
	for _, key := range keys {
		ok, err := r.provider.Exists(ctx, key)
		if err != nil {
			slog.Warn("Purge existence probe failed", "task_id", taskID, "key", key, "error", err)
			continue
		}
		if !ok {
			result.MissingKeys = append(result.MissingKeys, key)
			continue
		}
		if err := r.provider.Delete(ctx, key); err != nil {
			slog.Warn("Purge delete failed", "task_id", taskID, "key", key, "error", err)
			continue
		}
		result.DeletedKeys = append(result.DeletedKeys, key)
	}
	for _, path := range paths {
		if err := os.Remove(path); err == nil {
			result.DeletedPaths = append(result.DeletedPaths, path)
		}
	}
	slog.Info("Task artifacts purged",
		"task_id", taskID,
		"deleted", len(result.DeletedKeys),
		"missing", len(result.MissingKeys),
		"paths", len(result.DeletedPaths))
	return result, nil
}

// PurgeUpload deletes the original upload object and any upload-keyed
// outputs. Task-keyed outputs are removed by PurgeTask per task.
func (r *Registry) PurgeUpload(ctx context.Context, uploadID, ext string) (*state.PurgeResult, error) {
	seen := map[string]bool{}
	var keys []string
	add := func(key string) {
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if ext != "" {
		add(storage.UploadKey(uploadID, ext))
		add(storage.LegacyFlatKey(uploadID, ext))
	}
	add(storage.OutputKey(uploadID, storage.CategoryVideo, "final.mp4"))
	add(storage.OutputKey(uploadID, storage.CategoryAudio, "final.mp3"))
	add(storage.OutputKey(uploadID, storage.CategoryPodcast, "final.mp3"))
	add(storage.LegacyFlatKey(uploadID, ".mp4"))
	add(storage.LegacyFlatKey(uploadID, ".mp3"))
	add(storage.LegacyPodcastKey(uploadID))
	for _, locale := range SubtitleLocales {
		for _, format := range []string{"srt", "vtt"} {
			add(storage.OutputKey(uploadID, storage.CategorySubtitles, locale+"."+format))
			add(storage.LegacySubtitleKey(uploadID, locale, format))
		}
	}

	result := &state.PurgeResult{}
	for _, key := range keys {
		ok, err := r.provider.Exists(ctx, key)
		if err != nil {
			slog.Warn("Purge existence probe failed", "upload_id", uploadID, "key", key, "error", err)
			continue
		}
		if !ok {
			result.MissingKeys = append(result.MissingKeys, key)
			continue
		}
		if err := r.provider.Delete(ctx, key); err != nil {
			slog.Warn("Purge delete failed", "upload_id", uploadID, "key", key, "error", err)
			continue
		}
		result.DeletedKeys = append(result.DeletedKeys, key)
	}
	slog.Info("Upload artifacts purged", "upload_id", uploadID, "deleted", len(result.DeletedKeys))
	return result, nil
}

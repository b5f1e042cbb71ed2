package storage

import (
	"fmt"
	"strings"
)

// Artifact categories under outputs/{base_id}/.
const (
	CategoryAudio       = "audio"
	CategoryVideo       = "video"
	CategorySubtitles   = "subtitles"
	CategoryPodcast     = "podcast"
	CategoryTranscripts = "transcripts"
	CategoryImages      = "images"
)

// UploadKey returns the canonical key for an original upload.
// ext includes the leading dot.
func UploadKey(uploadID, ext string) string {
	return fmt.Sprintf("uploads/%s%s", uploadID, ext)
}

// OutputKey returns the canonical key for a produced artifact. baseID is the
// task id when one exists, otherwise the upload id.
func OutputKey(baseID, category, artifact string) string {
	return fmt.Sprintf("outputs/%s/%s/%s", baseID, category, artifact)
}

// Legacy flat keys written by earlier releases. Reads must probe these after
// the canonical key; writes never produce them.

func LegacyFlatKey(id, ext string) string {
	return id + ext
}

func LegacyPodcastKey(id string) string {
	return id + "_podcast.mp3"
}

func LegacySubtitleKey(id, locale, format string) string {
	return fmt.Sprintf("%s_%s.%s", id, locale, format)
}

// VideoKeyCandidates lists the probe order for a task's final video.
func VideoKeyCandidates(taskID, uploadID string) []string {
	keys := []string{OutputKey(taskID, CategoryVideo, "final.mp4")}
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, OutputKey(uploadID, CategoryVideo, "final.mp4"))
	}
	keys = append(keys, LegacyFlatKey(taskID, ".mp4"))
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, LegacyFlatKey(uploadID, ".mp4"))
	}
	return keys
}

// AudioKeyCandidates lists the probe order for a task's narration track.
func AudioKeyCandidates(taskID, uploadID string) []string {
	keys := []string{OutputKey(taskID, CategoryAudio, "final.mp3")}
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, OutputKey(uploadID, CategoryAudio, "final.mp3"))
	}
	keys = append(keys, LegacyFlatKey(taskID, ".mp3"))
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, LegacyFlatKey(uploadID, ".mp3"))
	}
	return keys
}

// PodcastKeyCandidates lists the probe order for a task's final podcast.
func PodcastKeyCandidates(taskID, uploadID string) []string {
	keys := []string{OutputKey(taskID, CategoryPodcast, "final.mp3")}
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, OutputKey(uploadID, CategoryPodcast, "final.mp3"))
	}
	keys = append(keys, LegacyPodcastKey(taskID))
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, LegacyPodcastKey(uploadID))
	}
	return keys
}

// SubtitleKeyCandidates lists the probe order for subtitles in one locale.
// format is "srt" or "vtt".
func SubtitleKeyCandidates(taskID, uploadID, locale, format string) []string {
	name := fmt.Sprintf("%s.%s", locale, format)
	keys := []string{OutputKey(taskID, CategorySubtitles, name)}
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, OutputKey(uploadID, CategorySubtitles, name))
	}
	keys = append(keys, LegacySubtitleKey(taskID, locale, format))
	if uploadID != "" && uploadID != taskID {
		keys = append(keys, LegacySubtitleKey(uploadID, locale, format))
	}
	return keys
}

// ObjectKeyFromURI is the inverse of Provider.URIFor. It accepts
// local://{key}, s3://{bucket}/{key} and oss://{bucket}/{key}.
func ObjectKeyFromURI(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "local://"):
		key := strings.TrimPrefix(uri, "local://")
		if key == "" {
			return "", fmt.Errorf("empty key in URI %q", uri)
		}
		return key, nil
	case strings.HasPrefix(uri, "s3://"), strings.HasPrefix(uri, "oss://"):
		rest := uri[strings.Index(uri, "://")+3:]
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", fmt.Errorf("malformed object URI %q", uri)
		}
		return key, nil
	default:
		return "", fmt.Errorf("unrecognized storage URI %q", uri)
	}
}

// ContentTypeForExt maps artifact extensions to their served content type.
func ContentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp3":
		return "audio/mpeg"
	case ".mp4":
		return "video/mp4"
	case ".vtt":
		return "text/vtt"
	case ".srt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

package endpoints

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/config"
	"slidespeaker/internal/pipeline"
	"slidespeaker/internal/repo"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

const presignTTL = 15 * time.Minute

// DownloadEntry is one available artifact in a downloads listing
type DownloadEntry struct {
	Type string `json:"type"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Key  string `json:"key,omitempty"`
}

// DownloadsResponse lists a task's downloadable artifacts
type DownloadsResponse struct {
	TaskID    string          `json:"task_id"`
	Downloads []DownloadEntry `json:"downloads"`
}

// HandleDownloads returns a handler that enumerates a task's artifacts
// @Summary      List downloads
// @Description  Enumerate the artifacts a completed task produced, with download URLs
// @Tags         media
// @Produce      json
// @Param        task_id path string true "Task id"
// @Success      200  {object}  DownloadsResponse
// @Failure      404  {object}  map[string]string
// @Router       /tasks/{task_id}/downloads [get]
func HandleDownloads(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		base := "/api/tasks/" + row.TaskID
		resp := DownloadsResponse{TaskID: row.TaskID, Downloads: []DownloadEntry{}}

		ts, err := app.States.GetStateByTask(ctx, row.TaskID)
		if err == nil {
			for name, ref := range ts.Artifacts.Video {
				resp.Downloads = append(resp.Downloads, DownloadEntry{
					Type: "video", Name: name, URL: base + "/video/download", Key: ref.StorageKey,
				})
			}
			for name, ref := range ts.Artifacts.Audio {
				resp.Downloads = append(resp.Downloads, DownloadEntry{
					Type: "audio", Name: name, URL: base + "/audio/download", Key: ref.StorageKey,
				})
			}
			for name, ref := range ts.Artifacts.Podcast {
				resp.Downloads = append(resp.Downloads, DownloadEntry{
					Type: "podcast", Name: name, URL: base + "/podcast/download", Key: ref.StorageKey,
				})
			}
			for locale, ref := range ts.Artifacts.Subtitles {
				for _, format := range []string{"srt", "vtt"} {
					resp.Downloads = append(resp.Downloads, DownloadEntry{
						Type: "subtitles",
						Name: locale + "." + format,
						URL:  fmt.Sprintf("%s/subtitles/%s?locale=%s", base, format, locale),
						Key:  ref.StorageKey,
					})
				}
			}
			for name, ref := range ts.Artifacts.Transcripts {
				resp.Downloads = append(resp.Downloads, DownloadEntry{Type: "transcript", Name: name, Key: ref.StorageKey})
			}
			c.JSON(http.StatusOK, resp)
			return
		}
		if !errors.Is(err, state.ErrStateNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task state"})
			return
		}

		// State expired: probe storage for the final artifacts directly.
		probes := []struct {
			kind       string
			candidates []string
		}{
			{"video", storage.VideoKeyCandidates(row.TaskID, row.UploadID)},
			{"audio", storage.AudioKeyCandidates(row.TaskID, row.UploadID)},
			{"podcast", storage.PodcastKeyCandidates(row.TaskID, row.UploadID)},
		}
		for _, p := range probes {
			key, err := storage.ResolveKey(ctx, app.Storage, p.candidates...)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to probe storage"})
				return
			}
			resp.Downloads = append(resp.Downloads, DownloadEntry{
				Type: p.kind, Name: "final", URL: base + "/" + p.kind + "/download", Key: key,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

func mediaCandidates(category string, row *repo.TaskRow) []string {
	switch category {
	case storage.CategoryVideo:
		return storage.VideoKeyCandidates(row.TaskID, row.UploadID)
	case storage.CategoryAudio:
		return storage.AudioKeyCandidates(row.TaskID, row.UploadID)
	case storage.CategoryPodcast:
		return storage.PodcastKeyCandidates(row.TaskID, row.UploadID)
	default:
		return nil
	}
}

// serveObject streams an object, redirecting to a presigned URL when the
// backend supports it and proxying is not forced. Proxied responses honor
// Range requests.
func serveObject(c *gin.Context, app *App, key, disposition string) {
	ctx := c.Request.Context()
	contentType := storage.ContentTypeForExt(path.Ext(key))
	if !config.ProxyCloudMedia {
		url, err := app.Storage.Presign(ctx, key, presignTTL, storage.PresignOptions{
			Disposition: disposition,
			ContentType: contentType,
		})
		if err == nil && url != "" {
			c.Redirect(http.StatusTemporaryRedirect, url)
			return
		}
	}
	data, err := app.Storage.GetBytes(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read artifact"})
		return
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", disposition)
	http.ServeContent(c.Writer, c.Request, path.Base(key), time.Time{}, bytes.NewReader(data))
}

// HandleMedia returns a handler that serves a task's final video, audio or
// podcast. download switches the disposition from inline to attachment.
// @Summary      Serve final media
// @Tags         media
// @Produce      octet-stream
// @Param        task_id path string true "Task id"
// @Success      200
// @Success      307
// @Failure      404  {object}  map[string]string
// @Router       /tasks/{task_id}/video [get]
func HandleMedia(app *App, category string, download bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		key, err := storage.ResolveKey(c.Request.Context(), app.Storage, mediaCandidates(category, row)...)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to probe storage"})
			return
		}
		disposition := "inline"
		if download {
			disposition = fmt.Sprintf("attachment; filename=%q", row.TaskID+path.Ext(key))
		}
		serveObject(c, app, key, disposition)
	}
}

// subtitleLocale resolves which locale to serve: explicit query, the task
// row's subtitle language, the runtime state's knobs, then english.
func subtitleLocale(c *gin.Context, app *App, row *repo.TaskRow) string {
	if locale := c.Query("locale"); locale != "" {
		return pipeline.LocaleCode(locale)
	}
	if row.SubtitleLanguage != "" {
		return pipeline.LocaleCode(row.SubtitleLanguage)
	}
	if ts, err := app.States.GetStateByTask(c.Request.Context(), row.TaskID); err == nil {
		if ts.Knobs.SubtitleLanguage != "" {
			return pipeline.LocaleCode(ts.Knobs.SubtitleLanguage)
		}
		if ts.Knobs.VoiceLanguage != "" {
			return pipeline.LocaleCode(ts.Knobs.VoiceLanguage)
		}
	}
	return "en"
}

// HandleSubtitles returns a handler that serves subtitles in one format
// @Summary      Serve subtitles
// @Description  Serve SRT or VTT subtitles, falling back through locale candidates
// @Tags         media
// @Produce      plain
// @Param        task_id path string true "Task id"
// @Param        format path string true "srt or vtt"
// @Param        locale query string false "Locale override"
// @Success      200
// @Failure      404  {object}  map[string]string
// @Router       /tasks/{task_id}/subtitles/{format} [get]
func HandleSubtitles(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		format := c.Param("format")
		if format != "srt" && format != "vtt" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Format must be srt or vtt"})
			return
		}
		row, ok := ownedTask(c, app)
		if !ok {
			return
		}
		locale := subtitleLocale(c, app, row)
		candidates := storage.SubtitleKeyCandidates(row.TaskID, row.UploadID, locale, format)
		candidates = append(candidates,
			storage.OutputKey(row.TaskID, storage.CategorySubtitles, fmt.Sprintf("podcast_%s.%s", locale, format)))
		if locale != "en" {
			candidates = append(candidates, storage.SubtitleKeyCandidates(row.TaskID, row.UploadID, "en", format)...)
		}
		key, err := storage.ResolveKey(c.Request.Context(), app.Storage, candidates...)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subtitles not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to probe storage"})
			return
		}
		serveObject(c, app, key, "inline")
	}
}

package endpoints

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/config"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/repo"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// UploadResponse represents the response for a successful upload
type UploadResponse struct {
	FileID   string `json:"file_id"`
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	Reused   bool   `json:"reused"`
}

// RunResponse represents the response for a run request
type RunResponse struct {
	FileID string `json:"file_id"`
	TaskID string `json:"task_id"`
}

func sourceTypeForExt(ext string) string {
	switch ext {
	case ".pdf":
		return state.SourcePDF
	case ".ppt", ".pptx":
		return state.SourceSlides
	default:
		return ""
	}
}

func formBool(c *gin.Context, name string, fallback bool) bool {
	v := c.PostForm(name)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// knobsFromForm reads the task options from multipart/form fields.
// Video generation defaults on, podcast off, subtitles on.
func knobsFromForm(c *gin.Context, sourceType string) state.Knobs {
	return state.Knobs{
		VoiceLanguage:      c.PostForm("voice_language"),
		SubtitleLanguage:   c.PostForm("subtitle_language"),
		TranscriptLanguage: c.PostForm("transcript_language"),
		VideoResolution:    c.PostForm("video_resolution"),
		GenerateVideo:      formBool(c, "generate_video", true),
		GeneratePodcast:    formBool(c, "generate_podcast", false),
		GenerateSubtitles:  formBool(c, "generate_subtitles", true),
		GenerateAvatar:     formBool(c, "generate_avatar", false),
		VisualAnalysis:     formBool(c, "visual_analysis", config.EnableVisualAnalysis && sourceType == state.SourceSlides),
		VoiceID:            c.PostForm("voice_id"),
		PodcastHostVoice:   c.PostForm("podcast_host_voice"),
		PodcastGuestVoice:  c.PostForm("podcast_guest_voice"),
	}
}

// taskTypeFor derives the pipeline variant from an explicit task_type field
// or from the generate flags.
func taskTypeFor(explicit string, knobs state.Knobs) queue.TaskType {
	switch queue.TaskType(explicit) {
	case queue.TaskVideo, queue.TaskPodcast, queue.TaskBoth:
		return queue.TaskType(explicit)
	}
	switch {
	case knobs.GenerateVideo && knobs.GeneratePodcast:
		return queue.TaskBoth
	case knobs.GeneratePodcast:
		return queue.TaskPodcast
	default:
		return queue.TaskVideo
	}
}

func (app *App) submitTask(c *gin.Context, u *repo.UploadRow, userID string, taskType queue.TaskType, knobs state.Knobs) (string, error) {
	return app.Queue.Submit(c.Request.Context(), &queue.TaskRecord{
		FileID:     u.UploadID,
		UserID:     userID,
		TaskType:   taskType,
		SourceType: u.SourceType,
		FileExt:    u.FileExt,
		Knobs:      knobs,
	})
}

// HandleUpload returns a handler that stores a document and starts processing
// @Summary      Upload a document
// @Description  Upload a PDF or slide deck, store it content-addressed and enqueue a processing task
// @Tags         upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Document to process"
// @Param        task_type formData string false "Pipeline variant: video, podcast or both"
// @Success      200  {object}  UploadResponse
// @Failure      400  {object}  map[string]string
// @Failure      413  {object}  map[string]string
// @Router       /upload [post]
func HandleUpload(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := GetUserID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field"})
			return
		}
		if header.Size > config.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds upload limit"})
			return
		}
		ext := strings.ToLower(filepath.Ext(header.Filename))
		sourceType := sourceTypeForExt(ext)
		if sourceType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
			return
		}

		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, config.MaxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
			return
		}
		if int64(len(data)) > config.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds upload limit"})
			return
		}

		ctx := c.Request.Context()
		sum := sha256.Sum256(data)
		checksum := hex.EncodeToString(sum[:])
		uploadID := checksum[:16]
		key := storage.UploadKey(uploadID, ext)
		contentType := storage.ContentTypeForExt(ext)

		reused, err := app.Repo.UploadExists(ctx, uploadID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check upload"})
			return
		}
		if !reused {
			if err := app.Storage.PutBytes(ctx, data, key, contentType); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload"})
				return
			}
		}
		if err := app.Repo.InsertUpload(ctx, &repo.UploadRow{
			UploadID:    uploadID,
			UserID:      userID,
			Filename:    header.Filename,
			FileExt:     ext,
			SourceType:  sourceType,
			ContentType: contentType,
			Checksum:    checksum,
			SizeBytes:   int64(len(data)),
			StorageURI:  app.Storage.URIFor(key),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record upload"})
			return
		}

		knobs := knobsFromForm(c, sourceType)
		upload, err := app.Repo.GetUpload(ctx, uploadID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load upload"})
			return
		}
		taskID, err := app.submitTask(c, upload, userID, taskTypeFor(c.PostForm("task_type"), knobs), knobs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue task"})
			return
		}

		c.JSON(http.StatusOK, UploadResponse{
			FileID:   uploadID,
			TaskID:   taskID,
			Filename: header.Filename,
			Reused:   reused,
		})
	}
}

// HandleRun returns a handler that re-runs processing over a stored upload
// @Summary      Run processing for a file
// @Description  Enqueue a new task over an already uploaded file with fresh options
// @Tags         upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        file_id path string true "Upload id"
// @Success      200  {object}  RunResponse
// @Failure      404  {object}  map[string]string
// @Router       /files/{file_id}/run [post]
func HandleRun(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		upload, ok := ownedUpload(c, app, c.Param("file_id"))
		if !ok {
			return
		}
		userID, _ := GetUserID(c)
		knobs := knobsFromForm(c, upload.SourceType)
		taskID, err := app.submitTask(c, upload, userID, taskTypeFor(c.PostForm("task_type"), knobs), knobs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue task"})
			return
		}
		c.JSON(http.StatusOK, RunResponse{FileID: upload.UploadID, TaskID: taskID})
	}
}

// Package pipeline drives ordered step execution for each task variant. The
// step graphs are data, the runner is generic, and cancellation is a
// cooperative probe polled at unit boundaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"slidespeaker/internal/media"
	"slidespeaker/internal/providers"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/registry"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// ErrCancelled halts the coordinator after a cancellation probe fires. The
// worker maps it to the cancelled terminal status; it is never recorded as a
// task error.
var ErrCancelled = errors.New("pipeline: task cancelled")

// ErrStepFailed wraps the failure that stopped the step loop.
var ErrStepFailed = errors.New("pipeline: step failed")

// Composer is the slice of the media encoder the compose steps use. It lets
// tests substitute a scripted encoder for ffmpeg.
type Composer interface {
	ConcatAudio(ctx context.Context, segments []string, output string) error
	ComposeVideo(ctx context.Context, images []media.TimedImage, audioPath, subtitlePath, output, resolution string) error
	ComposePodcast(ctx context.Context, segments []string, output string) error
}

// Deps are the process-wide collaborators every coordinator run needs.
type Deps struct {
	States    *state.Manager
	Queue     *queue.Queue
	Storage   storage.Provider
	Providers providers.Set
	Composer  Composer
	Registry  *registry.Registry
	// WorkDir holds per-task scratch files; defaults to the system temp dir.
	WorkDir string
}

// Task carries the per-run identifiers and knobs threaded through every step.
type Task struct {
	TaskID     string
	FileID     string
	SourceType string
	FileExt    string
	FilePath   string
	Knobs      state.Knobs
	// PurgeTargets are deleted task ids a file_purge task sweeps.
	PurgeTargets []string
}

// StepFunc is one step implementation. It reads earlier steps' data, writes
// its own completed snapshot, and polls the cancellation probe at unit
// boundaries.
type StepFunc func(ctx context.Context, t *Task) error

// Coordinator walks a task's planned steps through the generic runner.
type Coordinator struct {
	deps  Deps
	steps map[string]StepFunc
}

func New(deps Deps) *Coordinator {
	c := &Coordinator{deps: deps}
	c.steps = map[string]StepFunc{
		StepSegmentPDF:        c.segmentPDFContent,
		StepRevisePDF:         c.revisePDFTranscripts,
		StepTranslateVoice:    c.translateVoiceTranscripts,
		StepTranslateSubtitle: c.translateSubtitleTranscripts,
		StepPDFImages:         c.generateChapterImages,
		StepPDFAudio:          c.generateNarrationAudio,
		StepPDFSubtitles:      c.generateSubtitles,
		StepComposeVideo:      c.composeVideo,

		StepExtractSlides:     c.extractSlides,
		StepSlideImages:       c.convertSlidesToImages,
		StepAnalyzeSlides:     c.analyzeSlideImages,
		StepGenTranscripts:    c.generateSlideTranscripts,
		StepReviseTranscripts: c.reviseSlideTranscripts,
		StepGenAudio:          c.generateNarrationAudio,
		StepAvatarVideos:      c.generateAvatarVideos,
		StepGenSubtitles:      c.generateSubtitles,

		StepPodcastScript:          c.generatePodcastScript,
		StepTranslatePodcastScript: c.translatePodcastScript,
		StepPodcastAudio:           c.generatePodcastAudio,
		StepPodcastSubtitles:       c.generatePodcastSubtitles,
		StepComposePodcast:         c.composePodcast,
	}
	return c
}

// AcceptTask materializes state for the task if needed and runs its variant.
// Returns nil on completion, ErrCancelled on cancellation, another error on
// failure.
func (c *Coordinator) AcceptTask(ctx context.Context, rec *queue.TaskRecord) error {
	t := &Task{
		TaskID:       rec.TaskID,
		FileID:       rec.FileID,
		SourceType:   rec.SourceType,
		FileExt:      rec.FileExt,
		FilePath:     rec.FilePath,
		Knobs:        rec.Knobs,
		PurgeTargets: rec.PurgeTaskIDs,
	}
	if rec.TaskType == queue.TaskPurge {
		// Purge runs outside the state machinery: its targets' state is
		// already gone and partial failure never fails the task.
		return c.purgeTaskFiles(ctx, t)
	}
	plan := Plan(rec.TaskType, rec.SourceType, rec.Knobs)
	if len(plan) == 0 {
		return fmt.Errorf("unknown task type %q", rec.TaskType)
	}

	ts, err := c.deps.States.GetStateByTask(ctx, t.TaskID)
	if errors.Is(err, state.ErrStateNotFound) {
		ts, err = c.deps.States.CreateState(ctx, t.FileID, t.TaskID, t.SourceType, t.FileExt, t.Knobs, plan)
	}
	if err != nil {
		return fmt.Errorf("failed to materialize task state: %w", err)
	}
	if t.FilePath == "" {
		t.FilePath = ts.FilePath
	}

	if err := c.deps.States.MarkProcessing(ctx, t.TaskID); err != nil {
		return err
	}

	for _, planned := range plan {
		if planned.Skipped {
			continue
		}
		if err := c.ExecuteStep(ctx, t, planned.Name); err != nil {
			return err
		}
	}
	if err := c.deps.States.MarkCompleted(ctx, t.TaskID); err != nil {
		return err
	}
	slog.Info("Task pipeline completed", "task_id", t.TaskID, "file_id", t.FileID)
	return nil
}

// cancelled is the hot-path cancellation probe.
func (c *Coordinator) cancelled(ctx context.Context, t *Task) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.deps.Queue.IsCancelled(ctx, t.TaskID)
}

// ExecuteStep is the generic step driver: preflight cancel/fail checks,
// idempotent completed-skip, run, finalize, failure recording.
func (c *Coordinator) ExecuteStep(ctx context.Context, t *Task, step string) error {
	if c.cancelled(ctx, t) {
		if err := c.deps.States.MarkCancelled(ctx, t.TaskID, step); err != nil {
			slog.Warn("Failed to record cancellation", "task_id", t.TaskID, "error", err)
		}
		return ErrCancelled
	}
	ts, err := c.deps.States.GetStateByTask(ctx, t.TaskID)
	if err != nil {
		return err
	}
	if ts.Status == state.TaskFailed {
		return fmt.Errorf("%w: task already failed before %s", ErrStepFailed, step)
	}

	snap, err := c.deps.States.GetStepSnapshot(ctx, t.TaskID, step)
	if err != nil {
		return err
	}
	if snap.Status == state.StepCompleted {
		return nil
	}

	if err := c.deps.States.UpdateStepStatus(ctx, t.TaskID, step, state.StepProcessing, nil); err != nil {
		return err
	}
	slog.Info("Step started", "task_id", t.TaskID, "step", step)

	fn, ok := c.steps[step]
	if !ok {
		return c.failStep(ctx, t, step, fmt.Errorf("no implementation for step %q", step))
	}
	if err := fn(ctx, t); err != nil {
		if errors.Is(err, ErrCancelled) {
			if markErr := c.deps.States.MarkCancelled(ctx, t.TaskID, step); markErr != nil {
				slog.Warn("Failed to record cancellation", "task_id", t.TaskID, "error", markErr)
			}
			slog.Info("Step cancelled", "task_id", t.TaskID, "step", step)
			return ErrCancelled
		}
		return c.failStep(ctx, t, step, err)
	}
	return c.finalizeStep(ctx, t, step)
}

// finalizeStep enforces the post-step contract: completed is ok, failed and
// cancelled propagate, any other status means the step finished without
// recording one and is marked completed.
func (c *Coordinator) finalizeStep(ctx context.Context, t *Task, step string) error {
	snap, err := c.deps.States.GetStepSnapshot(ctx, t.TaskID, step)
	if err != nil {
		return err
	}
	switch snap.Status {
	case state.StepCompleted:
	case state.StepFailed:
		msg := fmt.Sprintf("step %s finalized as failed", step)
		if snap.Data != nil && snap.Data.Error != "" {
			msg = snap.Data.Error
		}
		return c.failStep(ctx, t, step, errors.New(msg))
	case state.StepCancelled:
		if err := c.deps.States.MarkCancelled(ctx, t.TaskID, step); err != nil {
			slog.Warn("Failed to record cancellation", "task_id", t.TaskID, "error", err)
		}
		return ErrCancelled
	default:
		if err := c.deps.States.UpdateStepStatus(ctx, t.TaskID, step, state.StepCompleted, nil); err != nil {
			return err
		}
	}
	slog.Info("Step completed", "task_id", t.TaskID, "step", step)
	return nil
}

func (c *Coordinator) failStep(ctx context.Context, t *Task, step string, cause error) error {
	msg := cause.Error()
	if err := c.deps.States.UpdateStepStatus(ctx, t.TaskID, step, state.StepFailed, state.ErrorData(msg)); err != nil {
		slog.Warn("Failed to record step failure", "task_id", t.TaskID, "step", step, "error", err)
	}
	if err := c.deps.States.RecordError(ctx, t.TaskID, step, msg); err != nil {
		slog.Warn("Failed to record error entry", "task_id", t.TaskID, "step", step, "error", err)
	}
	if err := c.deps.States.MarkFailed(ctx, t.TaskID); err != nil {
		slog.Warn("Failed to mark task failed", "task_id", t.TaskID, "error", err)
	}
	slog.Error("Step failed", "task_id", t.TaskID, "step", step, "error", msg)
	return fmt.Errorf("%w: %s: %s", ErrStepFailed, step, msg)
}

// --- shared step helpers ---

func (c *Coordinator) workDir(t *Task) (string, error) {
	base := c.deps.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, t.TaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, nil
}

// sourceFile returns a local path to the original upload, downloading from
// storage when the recorded local path is gone.
func (c *Coordinator) sourceFile(ctx context.Context, t *Task) (string, error) {
	if t.FilePath != "" {
		if _, err := os.Stat(t.FilePath); err == nil {
			return t.FilePath, nil
		}
	}
	dir, err := c.workDir(t)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "source"+t.FileExt)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	key, err := storage.ResolveKey(ctx, c.deps.Storage,
		storage.UploadKey(t.FileID, t.FileExt),
		storage.LegacyFlatKey(t.FileID, t.FileExt),
	)
	if err != nil {
		return "", fmt.Errorf("source document for %s not in storage: %w", t.FileID, err)
	}
	if err := c.deps.Storage.GetFile(ctx, key, path); err != nil {
		return "", fmt.Errorf("failed to fetch source document: %w", err)
	}
	return path, nil
}

// stepData loads a completed prerequisite step's payload.
func (c *Coordinator) stepData(ctx context.Context, t *Task, step string) (*state.StepData, error) {
	snap, err := c.deps.States.GetStepSnapshot(ctx, t.TaskID, step)
	if err != nil {
		return nil, err
	}
	if snap.Data == nil {
		return nil, fmt.Errorf("missing %s data", step)
	}
	return snap.Data, nil
}

// optionalStepData returns nil without error when the step never ran.
func (c *Coordinator) optionalStepData(ctx context.Context, t *Task, step string) (*state.StepData, error) {
	snap, err := c.deps.States.GetStepSnapshot(ctx, t.TaskID, step)
	if err != nil {
		return nil, err
	}
	if snap.Status != state.StepCompleted || snap.Data == nil {
		return nil, nil
	}
	return snap.Data, nil
}

func (c *Coordinator) complete(ctx context.Context, t *Task, step string, data *state.StepData) error {
	return c.deps.States.UpdateStepStatus(ctx, t.TaskID, step, state.StepCompleted, data)
}

// ensureLocal downloads a storage key to path unless it already exists.
func (c *Coordinator) ensureLocal(ctx context.Context, key, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}
	return c.deps.Storage.GetFile(ctx, key, path)
}

// recordArtifact sets an artifact ref on the task state.
func (c *Coordinator) recordArtifact(ctx context.Context, t *Task, set func(a *state.ArtifactMap)) error {
	_, err := c.deps.States.UpdateState(ctx, t.TaskID, func(ts *state.TaskState) error {
		set(&ts.Artifacts)
		return nil
	})
	return err
}

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"slidespeaker/internal/media"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// extractSlides pulls per-slide text from the deck, one chapter per slide.
func (c *Coordinator) extractSlides(ctx context.Context, t *Task) error {
	path, err := c.sourceFile(ctx, t)
	if err != nil {
		return err
	}
	slides, err := c.deps.Providers.Extractor.ExtractSlides(ctx, path)
	if err != nil {
		return err
	}
	if len(slides) == 0 {
		return fmt.Errorf("deck %s produced no slides", t.FileID)
	}
	chapters := make([]state.Chapter, 0, len(slides))
	for i, text := range slides {
		chapters = append(chapters, state.Chapter{
			Index:   i,
			Title:   fmt.Sprintf("Slide %d", i+1),
			Content: text,
		})
	}
	return c.complete(ctx, t, StepExtractSlides, state.ChaptersData(chapters))
}

// convertSlidesToImages renders each slide to a png and stores it.
func (c *Coordinator) convertSlidesToImages(ctx context.Context, t *Task) error {
	path, err := c.sourceFile(ctx, t)
	if err != nil {
		return err
	}
	dir, err := c.workDir(t)
	if err != nil {
		return err
	}
	paths, err := c.deps.Providers.Extractor.ConvertSlidesToImages(ctx, path, filepath.Join(dir, "slides"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("deck %s rendered no slide images", t.FileID)
	}

	manifest := &state.ImageManifest{}
	for i, local := range paths {
		if c.cancelled(ctx, t) {
			return ErrCancelled
		}
		name := fmt.Sprintf("slide_%03d.png", i+1)
		key := storage.OutputKey(t.TaskID, storage.CategoryImages, name)
		if err := c.deps.Storage.PutFile(ctx, local, key, "image/png"); err != nil {
			return fmt.Errorf("failed to store slide image %d: %w", i+1, err)
		}
		manifest.Images = append(manifest.Images, state.ImageRef{
			Index:      i,
			StorageKey: key,
			StorageURI: c.deps.Storage.URIFor(key),
			LocalPath:  local,
		})
	}
	return c.complete(ctx, t, StepSlideImages, state.ImagesData(manifest))
}

// analyzeSlideImages asks the vision provider to describe each slide. The
// descriptions ground transcript generation for visual-heavy decks.
func (c *Coordinator) analyzeSlideImages(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, StepSlideImages)
	if err != nil {
		return err
	}
	if d.Images == nil {
		return fmt.Errorf("missing slide image manifest")
	}
	var descriptions []state.Transcript
	for _, img := range d.Images.Images {
		if c.cancelled(ctx, t) {
			return ErrCancelled
		}
		data, err := os.ReadFile(img.LocalPath)
		if err != nil {
			data, err = c.deps.Storage.GetBytes(ctx, img.StorageKey)
			if err != nil {
				return fmt.Errorf("failed to load slide image %d: %w", img.Index, err)
			}
		}
		desc, err := c.deps.Providers.Vision.DescribeSlide(ctx, data)
		if err != nil {
			return fmt.Errorf("failed to analyze slide %d: %w", img.Index, err)
		}
		descriptions = append(descriptions, state.Transcript{Index: img.Index, Text: desc})
	}
	return c.complete(ctx, t, StepAnalyzeSlides, state.TranscriptsData(descriptions))
}

// generateSlideTranscripts builds the narration text per slide, folding in
// visual analysis when it ran.
func (c *Coordinator) generateSlideTranscripts(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, StepExtractSlides)
	if err != nil {
		return err
	}
	analysis, err := c.optionalStepData(ctx, t, StepAnalyzeSlides)
	if err != nil {
		return err
	}
	descriptions := map[int]string{}
	if analysis != nil {
		for _, tr := range analysis.Transcripts {
			descriptions[tr.Index] = tr.Text
		}
	}
	transcripts := make([]state.Transcript, 0, len(d.Chapters))
	for _, ch := range d.Chapters {
		text := ch.Content
		if desc := descriptions[ch.Index]; desc != "" {
			text = text + "\n\n" + desc
		}
		transcripts = append(transcripts, state.Transcript{Index: ch.Index, Text: text})
	}
	return c.complete(ctx, t, StepGenTranscripts, state.TranscriptsData(transcripts))
}

func (c *Coordinator) reviseSlideTranscripts(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, StepGenTranscripts)
	if err != nil {
		return err
	}
	revised, err := c.deps.Providers.LLM.ReviseTranscripts(ctx, d.Transcripts, "english")
	if err != nil {
		return err
	}
	if err := c.complete(ctx, t, StepReviseTranscripts, state.TranscriptsData(revised)); err != nil {
		return err
	}
	return c.writeTranscriptMarkdown(ctx, t, StepReviseTranscripts, revised)
}

// generateAvatarVideos composes a per-slide clip from the slide frame and its
// narration segment. The clip refs use the generic indexed manifest.
func (c *Coordinator) generateAvatarVideos(ctx context.Context, t *Task) error {
	imagesData, err := c.stepData(ctx, t, StepSlideImages)
	if err != nil {
		return err
	}
	audioData, err := c.stepData(ctx, t, StepGenAudio)
	if err != nil {
		return err
	}
	if imagesData.Images == nil || audioData.Audio == nil {
		return fmt.Errorf("missing avatar prerequisites")
	}
	dir, err := c.workDir(t)
	if err != nil {
		return err
	}
	clipDir := filepath.Join(dir, "avatar")
	if err := os.MkdirAll(clipDir, 0o755); err != nil {
		return fmt.Errorf("failed to create avatar dir: %w", err)
	}

	segments := map[int]state.AudioSegment{}
	for _, seg := range audioData.Audio.Segments {
		segments[seg.Index] = seg
	}

	manifest := &state.ImageManifest{}
	for i, img := range imagesData.Images.Images {
		if c.cancelled(ctx, t) {
			return ErrCancelled
		}
		seg, ok := segments[img.Index]
		if !ok {
			continue
		}
		frameLocal := img.LocalPath
		if frameLocal == "" {
			frameLocal = filepath.Join(clipDir, fmt.Sprintf("frame_%03d.png", i+1))
		}
		if err := c.ensureLocal(ctx, img.StorageKey, frameLocal); err != nil {
			return fmt.Errorf("failed to localize slide frame %d: %w", img.Index, err)
		}
		audioLocal := filepath.Join(dir, "audio", fmt.Sprintf("segment_%03d.mp3", i+1))
		if err := c.ensureLocal(ctx, seg.StorageKey, audioLocal); err != nil {
			return fmt.Errorf("failed to localize audio segment %d: %w", seg.Index, err)
		}

		name := fmt.Sprintf("avatar_%03d.mp4", i+1)
		output := filepath.Join(clipDir, name)
		frames := []media.TimedImage{{Path: frameLocal, DurationSec: seg.DurationSec}}
		if err := c.deps.Composer.ComposeVideo(ctx, frames, audioLocal, "", output, t.Knobs.VideoResolution); err != nil {
			return fmt.Errorf("failed to compose avatar clip %d: %w", img.Index, err)
		}
		key := storage.OutputKey(t.TaskID, storage.CategoryVideo, name)
		if err := c.deps.Storage.PutFile(ctx, output, key, "video/mp4"); err != nil {
			return fmt.Errorf("failed to store avatar clip %d: %w", img.Index, err)
		}
		ref := state.ArtifactRef{StorageKey: key, StorageURI: c.deps.Storage.URIFor(key), LocalPath: output}
		if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetVideo(name, ref) }); err != nil {
			return err
		}
		manifest.Images = append(manifest.Images, state.ImageRef{
			Index:      img.Index,
			StorageKey: key,
			StorageURI: c.deps.Storage.URIFor(key),
			LocalPath:  output,
		})
	}
	return c.complete(ctx, t, StepAvatarVideos, state.ImagesData(manifest))
}

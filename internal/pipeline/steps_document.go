package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slidespeaker/internal/media"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// Per-variant step name resolution. The PDF and slide pipelines share the
// audio, subtitle and compose implementations but persist under their own
// step names.

func (c *Coordinator) transcriptStepName(t *Task) string {
	if t.SourceType == state.SourceSlides {
		return StepReviseTranscripts
	}
	return StepRevisePDF
}

func (c *Coordinator) audioStepName(t *Task) string {
	if t.SourceType == state.SourceSlides {
		return StepGenAudio
	}
	return StepPDFAudio
}

func (c *Coordinator) subtitleStepName(t *Task) string {
	if t.SourceType == state.SourceSlides {
		return StepGenSubtitles
	}
	return StepPDFSubtitles
}

func (c *Coordinator) imagesStepName(t *Task) string {
	if t.SourceType == state.SourceSlides {
		return StepSlideImages
	}
	return StepPDFImages
}

func (t *Task) voice() string {
	if t.Knobs.VoiceID != "" {
		return t.Knobs.VoiceID
	}
	return "alloy"
}

func (t *Task) subtitleLanguage() string {
	if t.Knobs.SubtitleLanguage != "" {
		return t.Knobs.SubtitleLanguage
	}
	return orEnglish(t.Knobs.VoiceLanguage)
}

// voiceTranscripts returns the narration text in the voice language:
// the translated set when the translation step ran, the revised set
// otherwise.
func (c *Coordinator) voiceTranscripts(ctx context.Context, t *Task) ([]state.Transcript, error) {
	if d, err := c.optionalStepData(ctx, t, StepTranslateVoice); err != nil {
		return nil, err
	} else if d != nil {
		return d.Transcripts, nil
	}
	d, err := c.stepData(ctx, t, c.transcriptStepName(t))
	if err != nil {
		return nil, err
	}
	return d.Transcripts, nil
}

func (c *Coordinator) subtitleTranscripts(ctx context.Context, t *Task) ([]state.Transcript, error) {
	if d, err := c.optionalStepData(ctx, t, StepTranslateSubtitle); err != nil {
		return nil, err
	} else if d != nil {
		return d.Transcripts, nil
	}
	d, err := c.stepData(ctx, t, c.transcriptStepName(t))
	if err != nil {
		return nil, err
	}
	return d.Transcripts, nil
}

// segmentPDFContent extracts the document text and splits it into chapters.
func (c *Coordinator) segmentPDFContent(ctx context.Context, t *Task) error {
	path, err := c.sourceFile(ctx, t)
	if err != nil {
		return err
	}
	text, err := c.deps.Providers.Extractor.ExtractPDF(ctx, path)
	if err != nil {
		return err
	}
	chapters, err := c.deps.Providers.LLM.SegmentChapters(ctx, text)
	if err != nil {
		return err
	}
	if len(chapters) == 0 {
		return fmt.Errorf("document %s produced no chapters", t.FileID)
	}
	return c.complete(ctx, t, StepSegmentPDF, state.ChaptersData(chapters))
}

// writeTranscriptMarkdown renders and stores the transcript markdown
// artifact, then attaches it to the revising step.
func (c *Coordinator) writeTranscriptMarkdown(ctx context.Context, t *Task, step string, transcripts []state.Transcript) error {
	var b strings.Builder
	b.WriteString("# Transcript\n\n")
	for _, tr := range transcripts {
		fmt.Fprintf(&b, "## Part %d\n\n%s\n\n", tr.Index+1, tr.Text)
	}
	markdown := b.String()

	key := storage.OutputKey(t.TaskID, storage.CategoryTranscripts, "transcript.md")
	if err := c.deps.Storage.PutBytes(ctx, []byte(markdown), key, "text/markdown"); err != nil {
		return fmt.Errorf("failed to store transcript markdown: %w", err)
	}
	ref := state.ArtifactRef{StorageKey: key, StorageURI: c.deps.Storage.URIFor(key)}
	if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetTranscript("transcript.md", ref) }); err != nil {
		return err
	}
	return c.deps.States.SetStepMarkdown(ctx, t.TaskID, step, markdown)
}

// revisePDFTranscripts turns chapters into narration transcripts and smooths
// them for spoken delivery.
func (c *Coordinator) revisePDFTranscripts(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, StepSegmentPDF)
	if err != nil {
		return err
	}
	raw := make([]state.Transcript, 0, len(d.Chapters))
	for _, ch := range d.Chapters {
		raw = append(raw, state.Transcript{Index: ch.Index, Text: ch.Content})
	}
	revised, err := c.deps.Providers.LLM.ReviseTranscripts(ctx, raw, "english")
	if err != nil {
		return err
	}
	if err := c.complete(ctx, t, StepRevisePDF, state.TranscriptsData(revised)); err != nil {
		return err
	}
	return c.writeTranscriptMarkdown(ctx, t, StepRevisePDF, revised)
}

func (c *Coordinator) translateVoiceTranscripts(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, c.transcriptStepName(t))
	if err != nil {
		return err
	}
	out, err := c.deps.Providers.LLM.Translate(ctx, d.Transcripts, t.Knobs.VoiceLanguage)
	if err != nil {
		return err
	}
	return c.complete(ctx, t, StepTranslateVoice, state.TranscriptsData(out))
}

func (c *Coordinator) translateSubtitleTranscripts(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, c.transcriptStepName(t))
	if err != nil {
		return err
	}
	out, err := c.deps.Providers.LLM.Translate(ctx, d.Transcripts, t.Knobs.SubtitleLanguage)
	if err != nil {
		return err
	}
	return c.complete(ctx, t, StepTranslateSubtitle, state.TranscriptsData(out))
}

// generateChapterImages renders one frame per chapter.
func (c *Coordinator) generateChapterImages(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, StepSegmentPDF)
	if err != nil {
		return err
	}
	dir, err := c.workDir(t)
	if err != nil {
		return err
	}
	imgDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create image dir: %w", err)
	}

	manifest := &state.ImageManifest{}
	for i, ch := range d.Chapters {
		if c.cancelled(ctx, t) {
			return ErrCancelled
		}
		img, err := c.deps.Providers.Images.RenderChapterImage(ctx, ch, t.Knobs.VideoResolution)
		if err != nil {
			return fmt.Errorf("failed to render chapter %d image: %w", ch.Index, err)
		}
		name := fmt.Sprintf("chapter_%03d.png", i+1)
		local := filepath.Join(imgDir, name)
		if err := os.WriteFile(local, img, 0o644); err != nil {
			return fmt.Errorf("failed to write chapter image: %w", err)
		}
		key := storage.OutputKey(t.TaskID, storage.CategoryImages, name)
		if err := c.deps.Storage.PutBytes(ctx, img, key, "image/png"); err != nil {
			return fmt.Errorf("failed to store chapter image: %w", err)
		}
		manifest.Images = append(manifest.Images, state.ImageRef{
			Index:      ch.Index,
			StorageKey: key,
			StorageURI: c.deps.Storage.URIFor(key),
			LocalPath:  local,
		})
	}
	return c.complete(ctx, t, StepPDFImages, state.ImagesData(manifest))
}

// generateNarrationAudio synthesizes one segment per transcript unit and
// concatenates them into the final track. Shared by the PDF and slide
// pipelines.
func (c *Coordinator) generateNarrationAudio(ctx context.Context, t *Task) error {
	step := c.audioStepName(t)
	transcripts, err := c.voiceTranscripts(ctx, t)
	if err != nil {
		return err
	}
	if len(transcripts) == 0 {
		return fmt.Errorf("no transcripts to synthesize")
	}
	dir, err := c.workDir(t)
	if err != nil {
		return err
	}
	audioDir := filepath.Join(dir, "audio")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return fmt.Errorf("failed to create audio dir: %w", err)
	}

	language := orEnglish(t.Knobs.VoiceLanguage)
	manifest := &state.AudioManifest{Language: language}
	var locals []string
	for i, tr := range transcripts {
		if c.cancelled(ctx, t) {
			return ErrCancelled
		}
		audio, duration, err := c.deps.Providers.TTS.Synthesize(ctx, tr.Text, t.voice(), language)
		if err != nil {
			return fmt.Errorf("failed to synthesize segment %d: %w", tr.Index, err)
		}
		name := fmt.Sprintf("segment_%03d.mp3", i+1)
		local := filepath.Join(audioDir, name)
		if err := os.WriteFile(local, audio, 0o644); err != nil {
			return fmt.Errorf("failed to write audio segment: %w", err)
		}
		key := storage.OutputKey(t.TaskID, storage.CategoryAudio, name)
		if err := c.deps.Storage.PutBytes(ctx, audio, key, "audio/mpeg"); err != nil {
			return fmt.Errorf("failed to store audio segment: %w", err)
		}
		manifest.Segments = append(manifest.Segments, state.AudioSegment{
			Index:       tr.Index,
			StorageKey:  key,
			StorageURI:  c.deps.Storage.URIFor(key),
			DurationSec: duration,
			Text:        tr.Text,
			Voice:       t.voice(),
		})
		locals = append(locals, local)
	}

	final := filepath.Join(audioDir, "final.mp3")
	if err := c.deps.Composer.ConcatAudio(ctx, locals, final); err != nil {
		return err
	}
	finalKey := storage.OutputKey(t.TaskID, storage.CategoryAudio, "final.mp3")
	if err := c.deps.Storage.PutFile(ctx, final, finalKey, "audio/mpeg"); err != nil {
		return fmt.Errorf("failed to store narration track: %w", err)
	}
	ref := state.ArtifactRef{StorageKey: finalKey, StorageURI: c.deps.Storage.URIFor(finalKey), LocalPath: final}
	if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetAudio("final.mp3", ref) }); err != nil {
		return err
	}
	return c.complete(ctx, t, step, state.AudioData(manifest))
}

// generateSubtitles writes the SRT and VTT pair for the subtitle locale.
// Shared by the PDF and slide pipelines.
func (c *Coordinator) generateSubtitles(ctx context.Context, t *Task) error {
	step := c.subtitleStepName(t)
	transcripts, err := c.subtitleTranscripts(ctx, t)
	if err != nil {
		return err
	}
	audio, err := c.optionalStepData(ctx, t, c.audioStepName(t))
	if err != nil {
		return err
	}
	var audioManifest *state.AudioManifest
	if audio != nil {
		audioManifest = audio.Audio
	}

	locale := LocaleCode(t.subtitleLanguage())
	cues := media.CuesFromSegments(transcripts, audioManifest)
	srtKey := storage.OutputKey(t.TaskID, storage.CategorySubtitles, locale+".srt")
	vttKey := storage.OutputKey(t.TaskID, storage.CategorySubtitles, locale+".vtt")
	if err := c.deps.Storage.PutBytes(ctx, []byte(media.FormatSRT(cues)), srtKey, "text/plain"); err != nil {
		return fmt.Errorf("failed to store srt: %w", err)
	}
	if err := c.deps.Storage.PutBytes(ctx, []byte(media.FormatVTT(cues)), vttKey, "text/vtt"); err != nil {
		return fmt.Errorf("failed to store vtt: %w", err)
	}

	manifest := &state.SubtitleManifest{Locales: map[string]state.SubtitleFile{
		locale: {
			SRTKey: srtKey,
			VTTKey: vttKey,
			SRTURI: c.deps.Storage.URIFor(srtKey),
			VTTURI: c.deps.Storage.URIFor(vttKey),
		},
	}}
	ref := state.ArtifactRef{StorageKey: vttKey, StorageURI: c.deps.Storage.URIFor(vttKey)}
	if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetSubtitle(locale, ref) }); err != nil {
		return err
	}
	return c.complete(ctx, t, step, state.SubtitlesData(manifest))
}

// composeVideo muxes the rendered frames and the narration track into the
// final mp4, burning subtitles when they exist.
func (c *Coordinator) composeVideo(ctx context.Context, t *Task) error {
	imagesData, err := c.stepData(ctx, t, c.imagesStepName(t))
	if err != nil {
		return err
	}
	audioData, err := c.stepData(ctx, t, c.audioStepName(t))
	if err != nil {
		return err
	}
	if imagesData.Images == nil || len(imagesData.Images.Images) == 0 {
		return fmt.Errorf("no images to compose")
	}
	if audioData.Audio == nil || len(audioData.Audio.Segments) == 0 {
		return fmt.Errorf("no audio to compose")
	}
	dir, err := c.workDir(t)
	if err != nil {
		return err
	}

	durations := map[int]float64{}
	total := 0.0
	for _, seg := range audioData.Audio.Segments {
		durations[seg.Index] = seg.DurationSec
		total += seg.DurationSec
	}

	var frames []media.TimedImage
	for i, img := range imagesData.Images.Images {
		local := img.LocalPath
		if local == "" {
			local = filepath.Join(dir, "images", fmt.Sprintf("frame_%03d.png", i+1))
		}
		if err := c.ensureLocal(ctx, img.StorageKey, local); err != nil {
			return fmt.Errorf("failed to localize image %d: %w", img.Index, err)
		}
		d := durations[img.Index]
		if d <= 0 {
			d = 5
		}
		frames = append(frames, media.TimedImage{Path: local, DurationSec: d})
	}

	audioLocal := filepath.Join(dir, "audio", "final.mp3")
	if err := c.ensureLocal(ctx, storage.OutputKey(t.TaskID, storage.CategoryAudio, "final.mp3"), audioLocal); err != nil {
		return fmt.Errorf("failed to localize narration track: %w", err)
	}

	subtitlePath := ""
	if subs, err := c.optionalStepData(ctx, t, c.subtitleStepName(t)); err != nil {
		return err
	} else if subs != nil && subs.Subtitles != nil {
		locale := LocaleCode(t.subtitleLanguage())
		if sf, ok := subs.Subtitles.Locales[locale]; ok && sf.SRTKey != "" {
			subtitlePath = filepath.Join(dir, "subtitles", locale+".srt")
			if err := c.ensureLocal(ctx, sf.SRTKey, subtitlePath); err != nil {
				return fmt.Errorf("failed to localize subtitles: %w", err)
			}
		}
	}

	output := filepath.Join(dir, "final.mp4")
	if err := c.deps.Composer.ComposeVideo(ctx, frames, audioLocal, subtitlePath, output, t.Knobs.VideoResolution); err != nil {
		return err
	}
	key := storage.OutputKey(t.TaskID, storage.CategoryVideo, "final.mp4")
	if err := c.deps.Storage.PutFile(ctx, output, key, "video/mp4"); err != nil {
		return fmt.Errorf("failed to store video: %w", err)
	}
	ref := state.ArtifactRef{StorageKey: key, StorageURI: c.deps.Storage.URIFor(key), LocalPath: output}
	if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetVideo("final.mp4", ref) }); err != nil {
		return err
	}
	return c.complete(ctx, t, StepComposeVideo, state.ComposeData(&state.ComposeResult{
		StorageKey:  key,
		StorageURI:  c.deps.Storage.URIFor(key),
		LocalPath:   output,
		DurationSec: total,
	}))
}

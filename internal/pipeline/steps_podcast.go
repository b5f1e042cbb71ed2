package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"slidespeaker/internal/media"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

func (t *Task) hostVoice() string {
	if t.Knobs.PodcastHostVoice != "" {
		return t.Knobs.PodcastHostVoice
	}
	return "alloy"
}

func (t *Task) guestVoice() string {
	if t.Knobs.PodcastGuestVoice != "" {
		return t.Knobs.PodcastGuestVoice
	}
	return "echo"
}

// podcastScript returns the translated script when the translation step ran,
// the English script otherwise.
func (c *Coordinator) podcastScript(ctx context.Context, t *Task) (*state.PodcastScript, error) {
	if d, err := c.optionalStepData(ctx, t, StepTranslatePodcastScript); err != nil {
		return nil, err
	} else if d != nil && d.Script != nil {
		return d.Script, nil
	}
	d, err := c.stepData(ctx, t, StepPodcastScript)
	if err != nil {
		return nil, err
	}
	if d.Script == nil {
		return nil, fmt.Errorf("missing podcast script")
	}
	return d.Script, nil
}

// generatePodcastScript writes the two-speaker dialogue. Scripts are always
// generated in English; translation is a separate step.
func (c *Coordinator) generatePodcastScript(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, StepSegmentPDF)
	if err != nil {
		return err
	}
	script, err := c.deps.Providers.LLM.GeneratePodcastScript(ctx, d.Chapters, "english")
	if err != nil {
		return err
	}
	if len(script.Lines) == 0 {
		return fmt.Errorf("generated podcast script is empty")
	}
	return c.complete(ctx, t, StepPodcastScript, state.ScriptData(script))
}

func (c *Coordinator) translatePodcastScript(ctx context.Context, t *Task) error {
	d, err := c.stepData(ctx, t, StepPodcastScript)
	if err != nil {
		return err
	}
	out, err := c.deps.Providers.LLM.TranslateScript(ctx, d.Script, t.Knobs.TranscriptLanguage)
	if err != nil {
		return err
	}
	return c.complete(ctx, t, StepTranslatePodcastScript, state.ScriptData(out))
}

// generatePodcastAudio synthesizes each dialogue line with its speaker's
// voice.
func (c *Coordinator) generatePodcastAudio(ctx context.Context, t *Task) error {
	script, err := c.podcastScript(ctx, t)
	if err != nil {
		return err
	}
	dir, err := c.workDir(t)
	if err != nil {
		return err
	}
	segDir := filepath.Join(dir, "podcast")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return fmt.Errorf("failed to create podcast dir: %w", err)
	}

	manifest := &state.AudioManifest{Language: script.Language}
	for i, line := range script.Lines {
		if c.cancelled(ctx, t) {
			return ErrCancelled
		}
		voice := t.hostVoice()
		if line.Speaker == "guest" {
			voice = t.guestVoice()
		}
		audio, duration, err := c.deps.Providers.TTS.Synthesize(ctx, line.Text, voice, script.Language)
		if err != nil {
			return fmt.Errorf("failed to synthesize line %d: %w", i, err)
		}
		name := fmt.Sprintf("segment_%03d.mp3", i+1)
		local := filepath.Join(segDir, name)
		if err := os.WriteFile(local, audio, 0o644); err != nil {
			return fmt.Errorf("failed to write podcast segment: %w", err)
		}
		key := storage.OutputKey(t.TaskID, storage.CategoryPodcast, name)
		if err := c.deps.Storage.PutBytes(ctx, audio, key, "audio/mpeg"); err != nil {
			return fmt.Errorf("failed to store podcast segment: %w", err)
		}
		manifest.Segments = append(manifest.Segments, state.AudioSegment{
			Index:       i,
			StorageKey:  key,
			StorageURI:  c.deps.Storage.URIFor(key),
			DurationSec: duration,
			Text:        line.Text,
			Voice:       voice,
		})
	}
	return c.complete(ctx, t, StepPodcastAudio, state.AudioData(manifest))
}

// generatePodcastSubtitles writes the SRT/VTT pair over the dialogue timing.
func (c *Coordinator) generatePodcastSubtitles(ctx context.Context, t *Task) error {
	script, err := c.podcastScript(ctx, t)
	if err != nil {
		return err
	}
	audioData, err := c.stepData(ctx, t, StepPodcastAudio)
	if err != nil {
		return err
	}
	transcripts := make([]state.Transcript, 0, len(script.Lines))
	for i, line := range script.Lines {
		transcripts = append(transcripts, state.Transcript{Index: i, Text: line.Text})
	}

	locale := LocaleCode(script.Language)
	cues := media.CuesFromSegments(transcripts, audioData.Audio)
	srtKey := storage.OutputKey(t.TaskID, storage.CategorySubtitles, "podcast_"+locale+".srt")
	vttKey := storage.OutputKey(t.TaskID, storage.CategorySubtitles, "podcast_"+locale+".vtt")
	if err := c.deps.Storage.PutBytes(ctx, []byte(media.FormatSRT(cues)), srtKey, "text/plain"); err != nil {
		return fmt.Errorf("failed to store podcast srt: %w", err)
	}
	if err := c.deps.Storage.PutBytes(ctx, []byte(media.FormatVTT(cues)), vttKey, "text/vtt"); err != nil {
		return fmt.Errorf("failed to store podcast vtt: %w", err)
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
	if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetSubtitle("podcast_"+locale, ref) }); err != nil {
		return err
	}
	return c.complete(ctx, t, StepPodcastSubtitles, state.SubtitlesData(manifest))
}

// composePodcast joins the dialogue segments into the final MP3 and stores
// the script JSON alongside it.
func (c *Coordinator) composePodcast(ctx context.Context, t *Task) error {
	audioData, err := c.stepData(ctx, t, StepPodcastAudio)
	if err != nil {
		return err
	}
	if audioData.Audio == nil || len(audioData.Audio.Segments) == 0 {
		return fmt.Errorf("no podcast segments to compose")
	}
	dir, err := c.workDir(t)
	if err != nil {
		return err
	}

	total := 0.0
	var locals []string
	for i, seg := range audioData.Audio.Segments {
		local := filepath.Join(dir, "podcast", fmt.Sprintf("segment_%03d.mp3", i+1))
		if err := c.ensureLocal(ctx, seg.StorageKey, local); err != nil {
			return fmt.Errorf("failed to localize podcast segment %d: %w", seg.Index, err)
		}
		locals = append(locals, local)
		total += seg.DurationSec
	}

	output := filepath.Join(dir, "podcast_final.mp3")
	if err := c.deps.Composer.ComposePodcast(ctx, locals, output); err != nil {
		return err
	}
	key := storage.OutputKey(t.TaskID, storage.CategoryPodcast, "final.mp3")
	if err := c.deps.Storage.PutFile(ctx, output, key, "audio/mpeg"); err != nil {
		return fmt.Errorf("failed to store podcast: %w", err)
	}
	ref := state.ArtifactRef{StorageKey: key, StorageURI: c.deps.Storage.URIFor(key), LocalPath: output}
	if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetPodcast("final.mp3", ref) }); err != nil {
		return err
	}

	script, err := c.podcastScript(ctx, t)
	if err != nil {
		return err
	}
	scriptJSON, err := json.MarshalIndent(script, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode podcast script: %w", err)
	}
	scriptKey := storage.OutputKey(t.TaskID, storage.CategoryTranscripts, "podcast_script.json")
	if err := c.deps.Storage.PutBytes(ctx, scriptJSON, scriptKey, "application/json"); err != nil {
		return fmt.Errorf("failed to store podcast script: %w", err)
	}
	scriptRef := state.ArtifactRef{StorageKey: scriptKey, StorageURI: c.deps.Storage.URIFor(scriptKey)}
	if err := c.recordArtifact(ctx, t, func(a *state.ArtifactMap) { a.SetTranscript("podcast_script.json", scriptRef) }); err != nil {
		return err
	}

	return c.complete(ctx, t, StepComposePodcast, state.ComposeData(&state.ComposeResult{
		StorageKey:  key,
		StorageURI:  c.deps.Storage.URIFor(key),
		LocalPath:   output,
		DurationSec: total,
	}))
}

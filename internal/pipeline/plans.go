package pipeline

import (
	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
)

// Step names. These are stable identifiers persisted in task state; renaming
// one breaks resume for in-flight tasks.
const (
	StepSegmentPDF        = "segment_pdf_content"
	StepRevisePDF         = "revise_pdf_transcripts"
	StepTranslateVoice    = "translate_voice_transcripts"
	StepTranslateSubtitle = "translate_subtitle_transcripts"
	StepPDFImages         = "generate_pdf_chapter_images"
	StepPDFAudio          = "generate_pdf_audio"
	StepPDFSubtitles      = "generate_pdf_subtitles"
	StepComposeVideo      = "compose_video"

	StepExtractSlides     = "extract_slides"
	StepSlideImages       = "convert_slides_to_images"
	StepAnalyzeSlides     = "analyze_slide_images"
	StepGenTranscripts    = "generate_transcripts"
	StepReviseTranscripts = "revise_transcripts"
	StepGenAudio          = "generate_audio"
	StepAvatarVideos      = "generate_avatar_videos"
	StepGenSubtitles      = "generate_subtitles"

	StepPodcastScript          = "generate_podcast_script"
	StepTranslatePodcastScript = "translate_podcast_script"
	StepPodcastAudio           = "generate_podcast_audio"
	StepPodcastSubtitles       = "generate_podcast_subtitles"
	StepComposePodcast         = "compose_podcast"

	StepPurge = "purge_task_files"
)

// StepDef is one node of a variant's declarative step graph. When is the
// conditional edge predicate over the task knobs; nil means always enabled.
type StepDef struct {
	Name string
	When func(k state.Knobs) bool
}

func needsVoiceTranslation(k state.Knobs) bool {
	return k.VoiceLanguage != "" && k.VoiceLanguage != "english"
}

func needsSubtitleTranslation(k state.Knobs) bool {
	return k.SubtitleLanguage != "" && k.SubtitleLanguage != "english"
}

func needsScriptTranslation(k state.Knobs) bool {
	return k.TranscriptLanguage != "" && k.TranscriptLanguage != "english"
}

func pdfVideoSteps() []StepDef {
	return []StepDef{
		{Name: StepSegmentPDF},
		{Name: StepRevisePDF},
		{Name: StepTranslateVoice, When: needsVoiceTranslation},
		{Name: StepTranslateSubtitle, When: needsSubtitleTranslation},
		{Name: StepPDFImages},
		{Name: StepPDFAudio},
		{Name: StepPDFSubtitles, When: func(k state.Knobs) bool { return k.GenerateSubtitles }},
		{Name: StepComposeVideo},
	}
}

func slideVideoSteps() []StepDef {
	return []StepDef{
		{Name: StepExtractSlides},
		{Name: StepSlideImages},
		{Name: StepAnalyzeSlides, When: func(k state.Knobs) bool { return k.VisualAnalysis }},
		{Name: StepGenTranscripts},
		{Name: StepReviseTranscripts},
		{Name: StepTranslateVoice, When: needsVoiceTranslation},
		{Name: StepTranslateSubtitle, When: needsSubtitleTranslation},
		{Name: StepGenAudio},
		{Name: StepAvatarVideos, When: func(k state.Knobs) bool { return k.GenerateAvatar }},
		{Name: StepGenSubtitles},
		{Name: StepComposeVideo},
	}
}

// podcastSteps lists the podcast-only steps. Variants prepend StepSegmentPDF
// unless the video set already provides it.
func podcastSteps() []StepDef {
	return []StepDef{
		{Name: StepPodcastScript},
		{Name: StepTranslatePodcastScript, When: needsScriptTranslation},
		{Name: StepPodcastAudio},
		{Name: StepPodcastSubtitles},
		{Name: StepComposePodcast},
	}
}

func variantSteps(taskType queue.TaskType, sourceType string) []StepDef {
	switch taskType {
	case queue.TaskVideo:
		if sourceType == state.SourceSlides {
			return slideVideoSteps()
		}
		return pdfVideoSteps()
	case queue.TaskPodcast:
		return append([]StepDef{{Name: StepSegmentPDF}}, podcastSteps()...)
	case queue.TaskBoth:
		// Video first, then podcast. segment_pdf_content is shared and
		// appears once.
		return append(pdfVideoSteps(), podcastSteps()...)
	case queue.TaskPurge:
		return []StepDef{{Name: StepPurge}}
	default:
		return nil
	}
}

// Plan materializes the step list for a task. Steps whose predicate rejects
// the knobs are planned as skipped so the persisted order never changes when
// knobs do.
func Plan(taskType queue.TaskType, sourceType string, knobs state.Knobs) []state.PlannedStep {
	defs := variantSteps(taskType, sourceType)
	plan := make([]state.PlannedStep, 0, len(defs))
	for _, def := range defs {
		plan = append(plan, state.PlannedStep{
			Name:    def.Name,
			Skipped: def.When != nil && !def.When(knobs),
		})
	}
	return plan
}

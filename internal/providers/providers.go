// Package providers defines the external-capability boundary of the
// pipeline. Content generation, synthesis and document extraction sit behind
// these interfaces; the pipeline never sees vendor SDKs directly. Scripted
// fakes in this package serve tests and local runs.
package providers

import (
	"context"

	"slidespeaker/internal/state"
)

// LLM covers the text-generation calls the pipelines make.
type LLM interface {
	// SegmentChapters splits extracted document text into ordered chapters.
	SegmentChapters(ctx context.Context, text string) ([]state.Chapter, error)
	// ReviseTranscripts smooths per-unit narration for spoken delivery.
	ReviseTranscripts(ctx context.Context, transcripts []state.Transcript, language string) ([]state.Transcript, error)
	// Translate renders transcripts into the target language.
	Translate(ctx context.Context, transcripts []state.Transcript, targetLanguage string) ([]state.Transcript, error)
	// GeneratePodcastScript turns chapters into a two-speaker dialogue.
	GeneratePodcastScript(ctx context.Context, chapters []state.Chapter, language string) (*state.PodcastScript, error)
	// TranslateScript renders a dialogue script into the target language.
	TranslateScript(ctx context.Context, script *state.PodcastScript, targetLanguage string) (*state.PodcastScript, error)
}

// TTS synthesizes one narration unit.
type TTS interface {
	// Synthesize returns encoded audio (mp3) and its duration in seconds.
	Synthesize(ctx context.Context, text, voice, language string) ([]byte, float64, error)
}

// ImageGenerator renders a visual for one chapter.
type ImageGenerator interface {
	// RenderChapterImage returns an encoded image (png) for the chapter at
	// the requested resolution ("sd", "hd", "fullhd").
	RenderChapterImage(ctx context.Context, chapter state.Chapter, resolution string) ([]byte, error)
}

// Vision describes slide images for transcript grounding.
type Vision interface {
	DescribeSlide(ctx context.Context, image []byte) (string, error)
}

// DocumentExtractor pulls text and images out of source documents. The
// default implementation shells out to pdftotext and libreoffice.
type DocumentExtractor interface {
	// ExtractPDF returns the full text of a PDF file.
	ExtractPDF(ctx context.Context, path string) (string, error)
	// ExtractSlides returns per-slide text in slide order.
	ExtractSlides(ctx context.Context, path string) ([]string, error)
	// ConvertSlidesToImages renders each slide to a png under outDir and
	// returns the file paths in slide order.
	ConvertSlidesToImages(ctx context.Context, path, outDir string) ([]string, error)
}

// Set bundles the capabilities a pipeline run needs.
type Set struct {
	LLM       LLM
	TTS       TTS
	Images    ImageGenerator
	Vision    Vision
	Extractor DocumentExtractor
}

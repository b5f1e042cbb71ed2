package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"slidespeaker/internal/state"
)

// FakeSet returns a fully scripted provider set for tests and local runs.
func FakeSet() Set {
	return Set{
		LLM:       &FakeLLM{},
		TTS:       &FakeTTS{},
		Images:    &FakeImageGenerator{},
		Vision:    &FakeVision{},
		Extractor: &FakeExtractor{},
	}
}

// failureScript injects scripted failures ahead of real behavior. Each Fail
// call decrements the remaining count for its method.
type failureScript struct {
	mu        sync.Mutex
	remaining map[string]int
	transient bool
}

func (f *failureScript) FailNext(method string, times int, transient bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining == nil {
		f.remaining = make(map[string]int)
	}
	f.remaining[method] = times
	f.transient = transient
}

func (f *failureScript) maybeFail(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining[method] <= 0 {
		return nil
	}
	f.remaining[method]--
	err := fmt.Errorf("scripted %s failure", method)
	if f.transient {
		return Transient(err)
	}
	return err
}

// FakeLLM produces deterministic chapters, transcripts and scripts derived
// from its input.
type FakeLLM struct {
	failureScript
}

func (f *FakeLLM) SegmentChapters(_ context.Context, text string) ([]state.Chapter, error) {
	if err := f.maybeFail("SegmentChapters"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty document text")
	}
	blocks := strings.Split(text, "\n\n")
	var chapters []state.Chapter
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		title := block
		if i := strings.IndexByte(block, '\n'); i > 0 {
			title = block[:i]
		}
		if len(title) > 60 {
			title = title[:60]
		}
		chapters = append(chapters, state.Chapter{
			Index:   len(chapters),
			Title:   title,
			Content: block,
		})
	}
	if len(chapters) == 0 {
		return nil, errors.New("no segmentable content")
	}
	return chapters, nil
}

func (f *FakeLLM) ReviseTranscripts(_ context.Context, transcripts []state.Transcript, language string) ([]state.Transcript, error) {
	if err := f.maybeFail("ReviseTranscripts"); err != nil {
		return nil, err
	}
	out := make([]state.Transcript, len(transcripts))
	for i, t := range transcripts {
		out[i] = state.Transcript{Index: t.Index, Text: strings.TrimSpace(t.Text), Language: language}
	}
	return out, nil
}

func (f *FakeLLM) Translate(_ context.Context, transcripts []state.Transcript, targetLanguage string) ([]state.Transcript, error) {
	if err := f.maybeFail("Translate"); err != nil {
		return nil, err
	}
	out := make([]state.Transcript, len(transcripts))
	for i, t := range transcripts {
		out[i] = state.Transcript{Index: t.Index, Text: "[" + targetLanguage + "] " + t.Text, Language: targetLanguage}
	}
	return out, nil
}

func (f *FakeLLM) GeneratePodcastScript(_ context.Context, chapters []state.Chapter, language string) (*state.PodcastScript, error) {
	if err := f.maybeFail("GeneratePodcastScript"); err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, errors.New("no chapters to script")
	}
	script := &state.PodcastScript{Language: language}
	script.Lines = append(script.Lines, state.DialogueLine{Speaker: "host", Text: "Welcome. Today we discuss " + chapters[0].Title + "."})
	for _, ch := range chapters {
		script.Lines = append(script.Lines,
			state.DialogueLine{Speaker: "host", Text: "Tell me about " + ch.Title + "."},
			state.DialogueLine{Speaker: "guest", Text: ch.Content},
		)
	}
	script.Lines = append(script.Lines, state.DialogueLine{Speaker: "host", Text: "Thanks for listening."})
	return script, nil
}

func (f *FakeLLM) TranslateScript(_ context.Context, script *state.PodcastScript, targetLanguage string) (*state.PodcastScript, error) {
	if err := f.maybeFail("TranslateScript"); err != nil {
		return nil, err
	}
	out := &state.PodcastScript{Language: targetLanguage}
	for _, line := range script.Lines {
		out.Lines = append(out.Lines, state.DialogueLine{Speaker: line.Speaker, Text: "[" + targetLanguage + "] " + line.Text})
	}
	return out, nil
}

// FakeTTS emits deterministic pseudo-mp3 bytes; duration scales with word
// count so composed timings stay stable across runs.
type FakeTTS struct {
	failureScript
}

func (f *FakeTTS) Synthesize(_ context.Context, text, voice, language string) ([]byte, float64, error) {
	if err := f.maybeFail("Synthesize"); err != nil {
		return nil, 0, err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, 0, errors.New("empty synthesis text")
	}
	// ~150 words per minute.
	duration := float64(words) * 60.0 / 150.0
	payload := fmt.Sprintf("FAKEMP3|voice=%s|lang=%s|words=%d", voice, language, words)
	return []byte(payload), duration, nil
}

// FakeImageGenerator returns a minimal PNG payload per chapter.
type FakeImageGenerator struct {
	failureScript
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func (f *FakeImageGenerator) RenderChapterImage(_ context.Context, chapter state.Chapter, resolution string) ([]byte, error) {
	if err := f.maybeFail("RenderChapterImage"); err != nil {
		return nil, err
	}
	return append(append([]byte{}, pngMagic...), []byte(fmt.Sprintf("chapter=%d res=%s", chapter.Index, resolution))...), nil
}

// FakeVision describes a slide from its byte length.
type FakeVision struct {
	failureScript
}

func (f *FakeVision) DescribeSlide(_ context.Context, image []byte) (string, error) {
	if err := f.maybeFail("DescribeSlide"); err != nil {
		return "", err
	}
	if len(image) == 0 {
		return "", errors.New("empty slide image")
	}
	return fmt.Sprintf("A slide containing %d bytes of rendered content.", len(image)), nil
}

// FakeExtractor reads source files as plain text. PDF extraction returns the
// file content verbatim; slide extraction splits on form feeds, matching the
// page separator pdftotext emits.
type FakeExtractor struct {
	failureScript
}

func (f *FakeExtractor) ExtractPDF(_ context.Context, path string) (string, error) {
	if err := f.maybeFail("ExtractPDF"); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

func (f *FakeExtractor) ExtractSlides(_ context.Context, path string) ([]string, error) {
	if err := f.maybeFail("ExtractSlides"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slides: %w", err)
	}
	var slides []string
	for _, page := range strings.Split(string(data), "\f") {
		page = strings.TrimSpace(page)
		if page != "" {
			slides = append(slides, page)
		}
	}
	if len(slides) == 0 {
		return nil, errors.New("no slide content")
	}
	return slides, nil
}

func (f *FakeExtractor) ConvertSlidesToImages(_ context.Context, path, outDir string) ([]string, error) {
	if err := f.maybeFail("ConvertSlidesToImages"); err != nil {
		return nil, err
	}
	slides, err := f.ExtractSlides(context.Background(), path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}
	var paths []string
	for i := range slides {
		p := fmt.Sprintf("%s/slide_%03d.png", outDir, i+1)
		payload := append(append([]byte{}, pngMagic...), []byte(slides[i])...)
		if err := os.WriteFile(p, payload, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write slide image: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

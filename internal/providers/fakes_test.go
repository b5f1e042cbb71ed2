package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeLLMSegmentsParagraphs(t *testing.T) {
	llm := &FakeLLM{}
	chapters, err := llm.SegmentChapters(context.Background(), "Title One\nBody text.\n\nTitle Two\nMore body.")
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, 0, chapters[0].Index)
	assert.Equal(t, "Title One", chapters[0].Title)
	assert.Equal(t, "Title Two", chapters[1].Title)

	_, err = llm.SegmentChapters(context.Background(), "   ")
	assert.Error(t, err)
}

func TestFakeLLMPodcastScriptAlternatesSpeakers(t *testing.T) {
	llm := &FakeLLM{}
	chapters, err := llm.SegmentChapters(context.Background(), "Alpha\n\nBeta")
	require.NoError(t, err)

	script, err := llm.GeneratePodcastScript(context.Background(), chapters, "english")
	require.NoError(t, err)
	assert.Equal(t, "english", script.Language)
	assert.Equal(t, "host", script.Lines[0].Speaker)
	assert.GreaterOrEqual(t, len(script.Lines), 2*len(chapters))

	translated, err := llm.TranslateScript(context.Background(), script, "zh")
	require.NoError(t, err)
	assert.Equal(t, "zh", translated.Language)
	assert.Len(t, translated.Lines, len(script.Lines))
	assert.Contains(t, translated.Lines[0].Text, "[zh]")
}

func TestFakeTTSDurationScalesWithWords(t *testing.T) {
	tts := &FakeTTS{}
	_, short, err := tts.Synthesize(context.Background(), "one two three", "alloy", "english")
	require.NoError(t, err)
	_, long, err := tts.Synthesize(context.Background(), "one two three four five six", "alloy", "english")
	require.NoError(t, err)
	assert.Greater(t, long, short)

	_, _, err = tts.Synthesize(context.Background(), "", "alloy", "english")
	assert.Error(t, err)
}

func TestFakeExtractorSplitsSlidesOnFormFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	require.NoError(t, os.WriteFile(path, []byte("Slide one\fSlide two\f\fSlide three"), 0o644))

	ex := &FakeExtractor{}
	slides, err := ex.ExtractSlides(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Slide one", "Slide two", "Slide three"}, slides)

	outDir := filepath.Join(t.TempDir(), "imgs")
	paths, err := ex.ConvertSlidesToImages(context.Background(), path, outDir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}

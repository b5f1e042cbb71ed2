package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidespeaker/internal/state"
)

func TestCuesFromSegmentsAccumulateOffsets(t *testing.T) {
	transcripts := []state.Transcript{
		{Index: 0, Text: "First unit."},
		{Index: 1, Text: "Second unit."},
		{Index: 2, Text: "No audio for this one."},
	}
	audio := &state.AudioManifest{Segments: []state.AudioSegment{
		{Index: 0, DurationSec: 4.5},
		{Index: 1, DurationSec: 3.25},
	}}

	cues := CuesFromSegments(transcripts, audio)
	require.Len(t, cues, 3)
	assert.Equal(t, 0.0, cues[0].StartSec)
	assert.Equal(t, 4.5, cues[0].EndSec)
	assert.Equal(t, 4.5, cues[1].StartSec)
	assert.Equal(t, 7.75, cues[1].EndSec)
	// Missing duration falls back to the nominal length.
	assert.Equal(t, 7.75, cues[2].StartSec)
	assert.Equal(t, 12.75, cues[2].EndSec)
}

func TestFormatSRT(t *testing.T) {
	cues := []Cue{
		{StartSec: 0, EndSec: 4.5, Text: "Hello."},
		{StartSec: 4.5, EndSec: 3672.007, Text: "Goodbye."},
	}
	srt := FormatSRT(cues)

	assert.Contains(t, srt, "1\n00:00:00,000 --> 00:00:04,500\nHello.\n")
	assert.Contains(t, srt, "2\n00:00:04,500 --> 01:01:12,007\nGoodbye.\n")
	assert.True(t, strings.HasSuffix(srt, "\n\n"))
}

func TestFormatVTT(t *testing.T) {
	cues := []Cue{{StartSec: 1.5, EndSec: 2.25, Text: "Line."}}
	vtt := FormatVTT(cues)

	assert.True(t, strings.HasPrefix(vtt, "WEBVTT\n\n"))
	assert.Contains(t, vtt, "00:00:01.500 --> 00:00:02.250\nLine.\n")
}

func TestFormatEmptyCues(t *testing.T) {
	assert.Equal(t, "", FormatSRT(nil))
	assert.Equal(t, "WEBVTT\n\n", FormatVTT(nil))
}

func TestConcatPathEscapesQuotes(t *testing.T) {
	assert.Equal(t, `'/tmp/a.mp3'`, concatPath("/tmp/a.mp3"))
	assert.Equal(t, `'/tmp/it'\''s.mp3'`, concatPath("/tmp/it's.mp3"))
}

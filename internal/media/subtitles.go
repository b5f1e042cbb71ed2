package media

import (
	"fmt"
	"strings"

	"slidespeaker/internal/state"
)

// Cue is one subtitle entry with start and end offsets in seconds.
type Cue struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// CuesFromSegments aligns transcripts with their synthesized durations.
// Segments are matched by index; transcripts without a matching audio
// segment get a nominal duration so the subtitle track stays complete.
func CuesFromSegments(transcripts []state.Transcript, audio *state.AudioManifest) []Cue {
	durations := map[int]float64{}
	if audio != nil {
		for _, seg := range audio.Segments {
			durations[seg.Index] = seg.DurationSec
		}
	}
	const nominal = 5.0
	cues := make([]Cue, 0, len(transcripts))
	offset := 0.0
	for _, t := range transcripts {
		d, ok := durations[t.Index]
		if !ok || d <= 0 {
			d = nominal
		}
		cues = append(cues, Cue{StartSec: offset, EndSec: offset + d, Text: strings.TrimSpace(t.Text)})
		offset += d
	}
	return cues
}

func formatTimestamp(sec float64, msSep string) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	ms := int((sec - float64(total)) * 1000)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms)
}

// FormatSRT renders cues as SubRip text.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(cue.StartSec, ","), formatTimestamp(cue.EndSec, ","))
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// FormatVTT renders cues as WebVTT text.
func FormatVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(cue.StartSec, "."), formatTimestamp(cue.EndSec, "."))
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Package media composes final audio and video artifacts with ffmpeg and
// writes subtitle files from timed narration segments.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"slidespeaker/internal/config"
)

// Encoder shells out to ffmpeg for concat and mux operations.
type Encoder struct {
	ffmpeg string
}

func NewEncoder() *Encoder {
	path := config.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	return &Encoder{ffmpeg: path}
}

// resolutionSize maps the resolution knob to output dimensions.
func resolutionSize(resolution string) string {
	switch resolution {
	case "sd":
		return "854x480"
	case "fullhd":
		return "1920x1080"
	default:
		return "1280x720"
	}
}

func (e *Encoder) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg error: %w, output: %s", err, string(output))
	}
	return nil
}

// writeConcatList writes an ffmpeg concat-demuxer list file. Single quotes
// in paths are escaped per the demuxer's quoting rules.
func writeConcatList(dir string, entries []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat_*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	defer f.Close()
	for _, entry := range entries {
		if _, err := fmt.Fprintln(f, entry); err != nil {
			return "", fmt.Errorf("failed to write concat list: %w", err)
		}
	}
	return f.Name(), nil
}

func concatPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// ConcatAudio joins mp3 segments in order into a single mp3.
func (e *Encoder) ConcatAudio(ctx context.Context, segments []string, output string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no audio segments to concat")
	}
	entries := make([]string, 0, len(segments))
	for _, seg := range segments {
		entries = append(entries, "file "+concatPath(seg))
	}
	list, err := writeConcatList(filepath.Dir(output), entries)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	slog.Info("Concatenating audio", "segments", len(segments), "output", output)
	return e.run(ctx, "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", "-y", output)
}

// TimedImage pairs a rendered frame with how long it stays on screen.
type TimedImage struct {
	Path        string
	DurationSec float64
}

// ComposeVideo builds the final mp4 from per-unit images shown for their
// narration durations, the concatenated audio track, and an optional burned
// subtitle file.
func (e *Encoder) ComposeVideo(ctx context.Context, images []TimedImage, audioPath, subtitlePath, output, resolution string) error {
	if len(images) == 0 {
		return fmt.Errorf("no images to compose")
	}
	entries := make([]string, 0, 2*len(images)+1)
	for _, img := range images {
		entries = append(entries, "file "+concatPath(img.Path))
		entries = append(entries, fmt.Sprintf("duration %.3f", img.DurationSec))
	}
	// The concat demuxer needs the last frame repeated to honor its duration.
	entries = append(entries, "file "+concatPath(images[len(images)-1].Path))
	list, err := writeConcatList(filepath.Dir(output), entries)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	filters := []string{
		fmt.Sprintf("scale=%s:force_original_aspect_ratio=decrease", resolutionSize(resolution)),
		fmt.Sprintf("pad=%s:(ow-iw)/2:(oh-ih)/2", strings.Replace(resolutionSize(resolution), "x", ":", 1)),
	}
	if subtitlePath != "" {
		filters = append(filters, "subtitles="+subtitlePath)
	}

	args := []string{
		"-f", "concat", "-safe", "0", "-i", list,
		"-i", audioPath,
		"-vf", strings.Join(filters, ","),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		"-y", output,
	}
	slog.Info("Composing video", "images", len(images), "audio", audioPath, "output", output)
	return e.run(ctx, args...)
}

// ComposePodcast joins dialogue segments and normalizes loudness into the
// final mp3.
func (e *Encoder) ComposePodcast(ctx context.Context, segments []string, output string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no podcast segments to compose")
	}
	entries := make([]string, 0, len(segments))
	for _, seg := range segments {
		entries = append(entries, "file "+concatPath(seg))
	}
	list, err := writeConcatList(filepath.Dir(output), entries)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	slog.Info("Composing podcast", "segments", len(segments), "output", output)
	return e.run(ctx,
		"-f", "concat", "-safe", "0", "-i", list,
		"-filter:a", "loudnorm",
		"-c:a", "libmp3lame", "-q:a", "4",
		"-y", output,
	)
}

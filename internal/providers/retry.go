package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"slidespeaker/internal/state"
)

// ErrTransient marks a provider failure worth retrying. Providers wrap
// rate-limit and timeout errors with Transient; everything else fails fast.
var ErrTransient = errors.New("transient provider error")

// Transient wraps err so withRetry will retry it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

const (
	defaultAttempts = 3
	baseBackoff     = 500 * time.Millisecond
	maxBackoff      = 8 * time.Second
)

// withRetry runs fn up to attempts times, backing off exponentially between
// transient failures. Non-transient errors and context cancellation return
// immediately.
func withRetry(ctx context.Context, label string, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := baseBackoff
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) {
			return err
		}
		if i == attempts-1 {
			break
		}
		slog.Warn("Provider call failed, retrying", "call", label, "attempt", i+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", label, attempts, err)
}

// WithRetries wraps every capability in the set with transient-failure
// retries. Nil members stay nil.
func WithRetries(set Set, attempts int) Set {
	out := set
	if set.LLM != nil {
		out.LLM = &retryLLM{inner: set.LLM, attempts: attempts}
	}
	if set.TTS != nil {
		out.TTS = &retryTTS{inner: set.TTS, attempts: attempts}
	}
	if set.Images != nil {
		out.Images = &retryImages{inner: set.Images, attempts: attempts}
	}
	if set.Vision != nil {
		out.Vision = &retryVision{inner: set.Vision, attempts: attempts}
	}
	return out
}

type retryLLM struct {
	inner    LLM
	attempts int
}

func (r *retryLLM) SegmentChapters(ctx context.Context, text string) ([]state.Chapter, error) {
	var out []state.Chapter
	err := withRetry(ctx, "llm.segment_chapters", r.attempts, func() error {
		var err error
		out, err = r.inner.SegmentChapters(ctx, text)
		return err
	})
	return out, err
}

func (r *retryLLM) ReviseTranscripts(ctx context.Context, transcripts []state.Transcript, language string) ([]state.Transcript, error) {
	var out []state.Transcript
	err := withRetry(ctx, "llm.revise_transcripts", r.attempts, func() error {
		var err error
		out, err = r.inner.ReviseTranscripts(ctx, transcripts, language)
		return err
	})
	return out, err
}

func (r *retryLLM) Translate(ctx context.Context, transcripts []state.Transcript, targetLanguage string) ([]state.Transcript, error) {
	var out []state.Transcript
	err := withRetry(ctx, "llm.translate", r.attempts, func() error {
		var err error
		out, err = r.inner.Translate(ctx, transcripts, targetLanguage)
		return err
	})
	return out, err
}

func (r *retryLLM) GeneratePodcastScript(ctx context.Context, chapters []state.Chapter, language string) (*state.PodcastScript, error) {
	var out *state.PodcastScript
	err := withRetry(ctx, "llm.generate_podcast_script", r.attempts, func() error {
		var err error
		out, err = r.inner.GeneratePodcastScript(ctx, chapters, language)
		return err
	})
	return out, err
}

func (r *retryLLM) TranslateScript(ctx context.Context, script *state.PodcastScript, targetLanguage string) (*state.PodcastScript, error) {
	var out *state.PodcastScript
	err := withRetry(ctx, "llm.translate_script", r.attempts, func() error {
		var err error
		out, err = r.inner.TranslateScript(ctx, script, targetLanguage)
		return err
	})
	return out, err
}

type retryTTS struct {
	inner    TTS
	attempts int
}

func (r *retryTTS) Synthesize(ctx context.Context, text, voice, language string) ([]byte, float64, error) {
	var audio []byte
	var dur float64
	err := withRetry(ctx, "tts.synthesize", r.attempts, func() error {
		var err error
		audio, dur, err = r.inner.Synthesize(ctx, text, voice, language)
		return err
	})
	return audio, dur, err
}

type retryImages struct {
	inner    ImageGenerator
	attempts int
}

func (r *retryImages) RenderChapterImage(ctx context.Context, chapter state.Chapter, resolution string) ([]byte, error) {
	var out []byte
	err := withRetry(ctx, "images.render_chapter_image", r.attempts, func() error {
		var err error
		out, err = r.inner.RenderChapterImage(ctx, chapter, resolution)
		return err
	})
	return out, err
}

type retryVision struct {
	inner    Vision
	attempts int
}

func (r *retryVision) DescribeSlide(ctx context.Context, image []byte) (string, error) {
	var out string
	err := withRetry(ctx, "vision.describe_slide", r.attempts, func() error {
		var err error
		out, err = r.inner.DescribeSlide(ctx, image)
		return err
	})
	return out, err
}

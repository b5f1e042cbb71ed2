package storage

import (
	"context"
	"errors"
	"log/slog"
)

// BackfillResult summarizes one migration pass.
type BackfillResult struct {
	Copied  int
	Skipped int
	Deleted int
}

// BackfillLegacyKeys copies legacy flat-keyed objects for the given id to
// their canonical locations. locales are the subtitle locales to probe.
// When deleteLegacy is set, migrated legacy objects are removed afterwards.
// Missing objects are skipped; only hard storage errors abort the walk.
func BackfillLegacyKeys(ctx context.Context, p Provider, id string, locales []string, deleteLegacy bool) (BackfillResult, error) {
	var res BackfillResult

	type pair struct {
		legacy    string
		canonical string
		mime      string
	}
	pairs := []pair{
		{LegacyFlatKey(id, ".mp4"), OutputKey(id, CategoryVideo, "final.mp4"), "video/mp4"},
		{LegacyFlatKey(id, ".mp3"), OutputKey(id, CategoryAudio, "final.mp3"), "audio/mpeg"},
		{LegacyPodcastKey(id), OutputKey(id, CategoryPodcast, "final.mp3"), "audio/mpeg"},
	}
	for _, locale := range locales {
		pairs = append(pairs,
			pair{LegacySubtitleKey(id, locale, "srt"), OutputKey(id, CategorySubtitles, locale+".srt"), "text/plain"},
			pair{LegacySubtitleKey(id, locale, "vtt"), OutputKey(id, CategorySubtitles, locale+".vtt"), "text/vtt"},
		)
	}

	for _, pr := range pairs {
		data, err := p.GetBytes(ctx, pr.legacy)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				res.Skipped++
				continue
			}
			return res, err
		}

		// Do not clobber an object already migrated.
		if ok, err := p.Exists(ctx, pr.canonical); err != nil {
			return res, err
		} else if !ok {
			if err := p.PutBytes(ctx, data, pr.canonical, pr.mime); err != nil {
				return res, err
			}
			res.Copied++
			slog.Info("Backfilled legacy object", "legacy", pr.legacy, "canonical", pr.canonical)
		} else {
			res.Skipped++
		}

		if deleteLegacy {
			if err := p.Delete(ctx, pr.legacy); err != nil {
				slog.Warn("Failed to delete legacy object", "key", pr.legacy, "error", err)
			} else {
				res.Deleted++
			}
		}
	}
	return res, nil
}

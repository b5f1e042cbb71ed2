// ss-admin is the operational CLI: state cleanup, task retyping and legacy
// storage migration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"slidespeaker/internal/queue"
	"slidespeaker/internal/registry"
	"slidespeaker/internal/repo"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ss-admin <command> [flags]

Commands:
  purge-legacy-file-states   Delete file-scoped state records left by old releases
  set-type                   Change a task's type and generate flags
  storage-backfill           Copy legacy flat-keyed objects to canonical keys
`)
	os.Exit(2)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if len(os.Args) < 2 {
		usage()
	}
	ctx := context.Background()

	switch os.Args[1] {
	case "purge-legacy-file-states":
		runPurgeLegacy(ctx)
	case "set-type":
		runSetType(ctx, os.Args[2:])
	case "storage-backfill":
		runBackfill(ctx, os.Args[2:])
	default:
		usage()
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openStates(ctx context.Context) *state.Manager {
	states, err := state.NewManagerFromConfig(ctx)
	if err != nil {
		fatal("failed to connect to state store: %v", err)
	}
	return states
}

func runPurgeLegacy(ctx context.Context) {
	states := openStates(ctx)
	defer states.Close()

	purged, err := states.PurgeLegacyFileStates(ctx)
	if err != nil {
		fatal("purge failed: %v", err)
	}
	fmt.Printf("purged %d legacy file state(s)\n", purged)
}

func runSetType(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("set-type", flag.ExitOnError)
	taskID := fs.String("task-id", "", "task id to modify")
	taskType := fs.String("task-type", "", "new task type: video, podcast or both")
	genVideo := fs.Bool("generate-video", false, "enable video generation")
	noGenVideo := fs.Bool("no-generate-video", false, "disable video generation")
	genPodcast := fs.Bool("generate-podcast", false, "enable podcast generation")
	noGenPodcast := fs.Bool("no-generate-podcast", false, "disable podcast generation")
	fs.Parse(args)

	if *taskID == "" {
		fatal("--task-id is required")
	}
	switch queue.TaskType(*taskType) {
	case queue.TaskVideo, queue.TaskPodcast, queue.TaskBoth:
	default:
		fatal("--task-type must be video, podcast or both")
	}

	states := openStates(ctx)
	defer states.Close()
	taskQueue := queue.NewQueueWithClient(states.Client())
	rep, err := repo.OpenFromConfig()
	if err != nil {
		fatal("failed to open task repository: %v", err)
	}
	defer rep.Close()

	apply := func(knobs *state.Knobs) {
		if *genVideo {
			knobs.GenerateVideo = true
		}
		if *noGenVideo {
			knobs.GenerateVideo = false
		}
		if *genPodcast {
			knobs.GeneratePodcast = true
		}
		if *noGenPodcast {
			knobs.GeneratePodcast = false
		}
	}

	found := false
	knobs := state.Knobs{}

	rec, err := taskQueue.GetTask(ctx, *taskID)
	switch {
	case err == nil:
		rec.TaskType = queue.TaskType(*taskType)
		apply(&rec.Knobs)
		knobs = rec.Knobs
		if err := taskQueue.SaveTask(ctx, rec); err != nil {
			fatal("failed to save task record: %v", err)
		}
		found = true
	case !errors.Is(err, queue.ErrTaskNotFound):
		fatal("failed to load task record: %v", err)
	}

	row, err := rep.GetTask(ctx, *taskID)
	switch {
	case err == nil:
		if !found {
			knobs = row.Kwargs
			apply(&knobs)
		}
		if err := rep.SetTaskType(ctx, *taskID, *taskType, knobs); err != nil && !errors.Is(err, repo.ErrNotFound) {
			fatal("failed to update task row: %v", err)
		}
		found = true
	case !errors.Is(err, repo.ErrNotFound):
		fatal("failed to load task row: %v", err)
	}

	if !found {
		fatal("task %s not found", *taskID)
	}
	if err := states.SetKnobs(ctx, *taskID, knobs); err != nil && !errors.Is(err, state.ErrStateNotFound) {
		fatal("failed to update task state: %v", err)
	}
	fmt.Printf("task %s set to %s\n", *taskID, *taskType)
}

func runBackfill(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("storage-backfill", flag.ExitOnError)
	id := fs.String("id", "", "task or upload id to migrate")
	deleteLegacy := fs.Bool("delete-legacy", false, "delete legacy objects after copying")
	fs.Parse(args)

	if *id == "" {
		fatal("--id is required")
	}
	provider, err := storage.NewProviderFromConfig(ctx)
	if err != nil {
		fatal("failed to initialize storage: %v", err)
	}
	res, err := storage.BackfillLegacyKeys(ctx, provider, *id, registry.SubtitleLocales, *deleteLegacy)
	if err != nil {
		fatal("backfill failed: %v", err)
	}
	fmt.Printf("copied %d, skipped %d, deleted %d\n", res.Copied, res.Skipped, res.Deleted)
}

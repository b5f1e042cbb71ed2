package state

import (
	"time"
)

// SourceType of an upload.
const (
	SourcePDF    = "pdf"
	SourceSlides = "slides"
	SourceAudio  = "audio"
)

// Knobs are the user-supplied options that shape a task's step plan.
type Knobs struct {
	VoiceLanguage      string `json:"voice_language,omitempty"`
	SubtitleLanguage   string `json:"subtitle_language,omitempty"`
	TranscriptLanguage string `json:"transcript_language,omitempty"`
	VideoResolution    string `json:"video_resolution,omitempty"`
	GenerateVideo      bool   `json:"generate_video"`
	GeneratePodcast    bool   `json:"generate_podcast"`
	GenerateSubtitles  bool   `json:"generate_subtitles"`
	GenerateAvatar     bool   `json:"generate_avatar,omitempty"`
	VisualAnalysis     bool   `json:"visual_analysis,omitempty"`
	VoiceID            string `json:"voice_id,omitempty"`
	PodcastHostVoice   string `json:"podcast_host_voice,omitempty"`
	PodcastGuestVoice  string `json:"podcast_guest_voice,omitempty"`
}

// TaskErrorEntry records a single step failure.
type TaskErrorEntry struct {
	Step      string `json:"step"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// ArtifactRef locates one downloadable artifact.
type ArtifactRef struct {
	StorageKey string `json:"storage_key"`
	StorageURI string `json:"storage_uri,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
}

// ArtifactMap indexes produced artifacts by category. Subtitles are keyed by
// locale; the other categories by artifact name.
type ArtifactMap struct {
	Subtitles   map[string]ArtifactRef `json:"subtitles,omitempty"`
	Audio       map[string]ArtifactRef `json:"audio,omitempty"`
	Video       map[string]ArtifactRef `json:"video,omitempty"`
	Podcast     map[string]ArtifactRef `json:"podcast,omitempty"`
	Images      map[string]ArtifactRef `json:"images,omitempty"`
	Transcripts map[string]ArtifactRef `json:"transcripts,omitempty"`
}

func setRef(m *map[string]ArtifactRef, name string, ref ArtifactRef) {
	if *m == nil {
		*m = make(map[string]ArtifactRef)
	}
	(*m)[name] = ref
}

func (a *ArtifactMap) SetSubtitle(locale string, ref ArtifactRef)   { setRef(&a.Subtitles, locale, ref) }
func (a *ArtifactMap) SetAudio(name string, ref ArtifactRef)        { setRef(&a.Audio, name, ref) }
func (a *ArtifactMap) SetVideo(name string, ref ArtifactRef)        { setRef(&a.Video, name, ref) }
func (a *ArtifactMap) SetPodcast(name string, ref ArtifactRef)      { setRef(&a.Podcast, name, ref) }
func (a *ArtifactMap) SetImage(name string, ref ArtifactRef)        { setRef(&a.Images, name, ref) }
func (a *ArtifactMap) SetTranscript(name string, ref ArtifactRef)   { setRef(&a.Transcripts, name, ref) }

// All returns every recorded artifact ref.
func (a *ArtifactMap) All() []ArtifactRef {
	var refs []ArtifactRef
	for _, m := range []map[string]ArtifactRef{a.Subtitles, a.Audio, a.Video, a.Podcast, a.Images, a.Transcripts} {
		for _, ref := range m {
			refs = append(refs, ref)
		}
	}
	return refs
}

// StepSnapshot is the per-step record inside a TaskState.
type StepSnapshot struct {
	Status     StepStatus `json:"status"`
	Data       *StepData  `json:"data,omitempty"`
	Markdown   string     `json:"markdown,omitempty"`
	StorageURI string     `json:"storage_uri,omitempty"`
}

// PlannedStep is one node of a variant's materialized plan.
type PlannedStep struct {
	Name    string
	Skipped bool
}

// TaskState is the runtime record of one task, held in the state store with
// a 24h sliding TTL. The canonical record lives under the task id; a
// file-scoped mirror exists only for states created without a task id.
type TaskState struct {
	FileID      string                   `json:"file_id"`
	TaskID      string                   `json:"task_id,omitempty"`
	SourceType  string                   `json:"source_type"`
	FileExt     string                   `json:"file_ext,omitempty"`
	FilePath    string                   `json:"file_path,omitempty"`
	Status      TaskStatus               `json:"status"`
	CurrentStep string                   `json:"current_step,omitempty"`
	StepOrder   []string                 `json:"step_order"`
	Steps       map[string]*StepSnapshot `json:"steps"`
	Errors      []TaskErrorEntry         `json:"errors,omitempty"`
	Knobs       Knobs                    `json:"knobs"`
	Artifacts   ArtifactMap              `json:"artifacts"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// NewTaskState materializes a state from a planned step list. Skipped steps
// are terminal at creation; the declared order is persisted so retry resets
// never depend on map iteration order.
func NewTaskState(fileID, taskID, sourceType, fileExt string, knobs Knobs, plan []PlannedStep) *TaskState {
	now := time.Now().UTC()
	ts := &TaskState{
		FileID:     fileID,
		TaskID:     taskID,
		SourceType: sourceType,
		FileExt:    fileExt,
		Status:     TaskQueued,
		StepOrder:  make([]string, 0, len(plan)),
		Steps:      make(map[string]*StepSnapshot, len(plan)),
		Knobs:      knobs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, p := range plan {
		ts.StepOrder = append(ts.StepOrder, p.Name)
		status := StepPending
		if p.Skipped {
			status = StepSkipped
		}
		ts.Steps[p.Name] = &StepSnapshot{Status: status}
	}
	return ts
}

// Step returns the snapshot for a step, creating a pending one for steps the
// plan does not know (defensive against older records).
func (ts *TaskState) Step(name string) *StepSnapshot {
	if snap, ok := ts.Steps[name]; ok {
		return snap
	}
	snap := &StepSnapshot{Status: StepPending}
	if ts.Steps == nil {
		ts.Steps = make(map[string]*StepSnapshot)
	}
	ts.Steps[name] = snap
	ts.StepOrder = append(ts.StepOrder, name)
	return snap
}

// Progress returns completion as a 0-100 percentage over non-skipped steps.
func (ts *TaskState) Progress() int {
	if ts.Status == TaskCompleted {
		return 100
	}
	total := 0
	done := 0
	for _, name := range ts.StepOrder {
		snap := ts.Steps[name]
		if snap == nil || snap.Status == StepSkipped {
			continue
		}
		total++
		if snap.Status == StepCompleted {
			done++
		}
	}
	if total == 0 {
		return 0
	}
	return done * 100 / total
}

// AllStepsDone reports whether every non-skipped step completed.
func (ts *TaskState) AllStepsDone() bool {
	for _, name := range ts.StepOrder {
		snap := ts.Steps[name]
		if snap == nil {
			return false
		}
		if !snap.Status.Done() {
			return false
		}
	}
	return true
}

// FirstFailedStep returns the earliest failed step by declared order.
func (ts *TaskState) FirstFailedStep() string {
	for _, name := range ts.StepOrder {
		if snap := ts.Steps[name]; snap != nil && snap.Status == StepFailed {
			return name
		}
	}
	return ""
}

// LastErrorStep returns the step of the most recent error entry.
func (ts *TaskState) LastErrorStep() string {
	if len(ts.Errors) == 0 {
		return ""
	}
	return ts.Errors[len(ts.Errors)-1].Step
}

// BaseID is the id artifacts are keyed under: task id when present,
// upload id otherwise.
func (ts *TaskState) BaseID() string {
	if ts.TaskID != "" {
		return ts.TaskID
	}
	return ts.FileID
}

package state

// Step payload kinds. Each step writes exactly one kind into its snapshot;
// the kind tag keeps the serialized form self-describing so downstream steps
// and the API never guess at the shape.
const (
	DataChapters    = "chapters"
	DataTranscripts = "transcripts"
	DataAudio       = "audio"
	DataSubtitles   = "subtitles"
	DataImages      = "images"
	DataScript      = "script"
	DataCompose     = "compose"
	DataPurge       = "purge"
)

// Chapter is one segmented unit of the source document.
type Chapter struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Transcript is the narration text for one chapter or slide.
type Transcript struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// AudioSegment is one synthesized narration unit.
type AudioSegment struct {
	Index       int     `json:"index"`
	StorageKey  string  `json:"storage_key"`
	StorageURI  string  `json:"storage_uri,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	Text        string  `json:"text,omitempty"`
	Voice       string  `json:"voice,omitempty"`
}

// AudioManifest is the ordered set of synthesized segments.
type AudioManifest struct {
	Segments []AudioSegment `json:"segments"`
	Language string         `json:"language,omitempty"`
}

// SubtitleFile holds the keys for one locale's subtitle pair.
type SubtitleFile struct {
	SRTKey string `json:"srt_key"`
	VTTKey string `json:"vtt_key"`
	SRTURI string `json:"srt_uri,omitempty"`
	VTTURI string `json:"vtt_uri,omitempty"`
}

// SubtitleManifest maps locale code to its subtitle files.
type SubtitleManifest struct {
	Locales map[string]SubtitleFile `json:"locales"`
}

// ImageRef is one rendered chapter or slide image.
type ImageRef struct {
	Index      int    `json:"index"`
	StorageKey string `json:"storage_key"`
	StorageURI string `json:"storage_uri,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
}

// ImageManifest is the ordered set of rendered images.
type ImageManifest struct {
	Images []ImageRef `json:"images"`
}

// DialogueLine is one utterance of the two-speaker podcast script.
type DialogueLine struct {
	Speaker string `json:"speaker"` // "host" or "guest"
	Text    string `json:"text"`
}

// PodcastScript is the full dialogue with its language.
type PodcastScript struct {
	Language string         `json:"language"`
	Lines    []DialogueLine `json:"lines"`
}

// ComposeResult points at a final composed artifact.
type ComposeResult struct {
	StorageKey  string  `json:"storage_key"`
	StorageURI  string  `json:"storage_uri,omitempty"`
	LocalPath   string  `json:"local_path,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// PurgeResult summarizes a best-effort artifact purge.
type PurgeResult struct {
	DeletedKeys  []string `json:"deleted_keys,omitempty"`
	MissingKeys  []string `json:"missing_keys,omitempty"`
	DeletedPaths []string `json:"deleted_paths,omitempty"`
}

// StepData is the closed union a step stores in its snapshot. Kind names the
// populated field; the remaining fields stay nil and are elided from JSON.
type StepData struct {
	Kind        string            `json:"kind"`
	Chapters    []Chapter         `json:"chapters,omitempty"`
	Transcripts []Transcript      `json:"transcripts,omitempty"`
	Audio       *AudioManifest    `json:"audio,omitempty"`
	Subtitles   *SubtitleManifest `json:"subtitles,omitempty"`
	Images      *ImageManifest    `json:"images,omitempty"`
	Script      *PodcastScript    `json:"script,omitempty"`
	Compose     *ComposeResult    `json:"compose,omitempty"`
	Purge       *PurgeResult      `json:"purge,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func ChaptersData(chapters []Chapter) *StepData {
	return &StepData{Kind: DataChapters, Chapters: chapters}
}

func TranscriptsData(transcripts []Transcript) *StepData {
	return &StepData{Kind: DataTranscripts, Transcripts: transcripts}
}

func AudioData(m *AudioManifest) *StepData {
	return &StepData{Kind: DataAudio, Audio: m}
}

func SubtitlesData(m *SubtitleManifest) *StepData {
	return &StepData{Kind: DataSubtitles, Subtitles: m}
}

func ImagesData(m *ImageManifest) *StepData {
	return &StepData{Kind: DataImages, Images: m}
}

func ScriptData(s *PodcastScript) *StepData {
	return &StepData{Kind: DataScript, Script: s}
}

func ComposeData(c *ComposeResult) *StepData {
	return &StepData{Kind: DataCompose, Compose: c}
}

func PurgeData(p *PurgeResult) *StepData {
	return &StepData{Kind: DataPurge, Purge: p}
}

func ErrorData(msg string) *StepData {
	return &StepData{Error: msg}
}

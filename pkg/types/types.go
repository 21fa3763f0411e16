// Package types defines the shared types used across all subtitlecore packages.
//
// These types form the lingua franca between providers, pipeline stages, the
// job manager, and the persistence adapter. They are intentionally minimal —
// each package defines its own internal helper types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// JobKind distinguishes how a job's source media was provided.
type JobKind string

const (
	JobKindFull   JobKind = "full"
	JobKindURL    JobKind = "url"
	JobKindResume JobKind = "resume"
)

// SourceMode mirrors JobKind for the field that tracks how audio entered the pipeline.
type SourceMode string

const (
	SourceModeFile   SourceMode = "file"
	SourceModeURL    SourceMode = "url"
	SourceModeResume SourceMode = "resume"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is one of the terminal job states.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// StageDetail describes the currently executing pipeline step within a stage.
type StageDetail struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Done  int     `json:"done"`
	Total int     `json:"total"`
	Unit  string  `json:"unit"`
	ETA   float64 `json:"eta_seconds,omitempty"`
}

// ProgressEvent is one entry in a job's bounded progress event ring buffer.
type ProgressEvent struct {
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncDiagnostics records the outcome of the drift synchronizer for a job.
type SyncDiagnostics struct {
	CorrectionApplied bool    `json:"correction_applied"`
	CorrectionMethod  string  `json:"correction_method,omitempty"` // "fftsync" or "alass_fallback"
	Scale             float64 `json:"scale,omitempty"`
	OffsetSeconds     float64 `json:"offset_seconds,omitempty"`
	Score             float64 `json:"score,omitempty"`
}

// Options carries the immutable, user-supplied parameters for a job.
type Options struct {
	ASRRuntime         string `json:"asr_runtime"` // "cloud" or "local"
	ASRModel           string `json:"asr_model"`
	ASRProfile         string `json:"asr_profile"` // "fast", "balanced", "accurate"
	Language           string `json:"language"`
	LLMModel           string `json:"llm_model"`
	SourceLanguage     string `json:"source_language"`
	TargetLanguage     string `json:"target_language"`
	FallbackEnabled    bool   `json:"fallback_enabled"`
	AllowCloudFallback bool   `json:"allow_cloud_fallback"`
	AllowLocalFallback bool   `json:"allow_local_fallback"`
	DiarizationHFToken string `json:"diarization_hf_token,omitempty"`
}

// Job is the central unit of work tracked by the job manager.
type Job struct {
	JobID      string     `json:"job_id"`
	UserID     string     `json:"user_id"`
	Kind       JobKind    `json:"kind"`
	SourceMode SourceMode `json:"source_mode"`
	WorkDir    string     `json:"work_dir"`
	VideoPath  string     `json:"video_path,omitempty"`
	SourceURL  string     `json:"source_url,omitempty"`
	Options    Options    `json:"options"`

	// ResumeSentences and ResumeWordSegments seed a JobKindResume job: it
	// skips extract_audio/asr and starts directly at llm_translate using
	// this caller-supplied transcription.
	ResumeSentences    []Sentence    `json:"resume_sentences,omitempty"`
	ResumeWordSegments []WordSegment `json:"resume_word_segments,omitempty"`

	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	CurrentStage    string    `json:"current_stage"`
	Message         string    `json:"message,omitempty"`

	ErrorCode   string `json:"error_code,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDetail any    `json:"error_detail,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result         *Result `json:"result,omitempty"`
	ResultConsumed bool    `json:"result_consumed"`
	PartialResult  *Result `json:"partial_result,omitempty"`

	CancelRequested bool `json:"cancel_requested"`

	StageDurationsMs map[string]int64 `json:"stage_durations_ms"`
	StageHistory     []string         `json:"stage_history"`
	StageStartedAt   time.Time        `json:"stage_started_at"`
	StageDetail      StageDetail      `json:"stage_detail"`

	ProgressEvents  []ProgressEvent `json:"-"` // ring buffer, capacity ~30
	StatusRevision  uint64          `json:"status_revision"`
	SyncDiagnostics SyncDiagnostics `json:"sync_diagnostics"`
}

// Result is the terminal payload of a successfully (or partially) processed job.
type Result struct {
	Subtitles []Subtitle `json:"subtitles"`
	Stats     Stats      `json:"stats"`
}

// Stats carries provider/effectiveness metadata surfaced to callers.
type Stats struct {
	ASRProviderEffective string               `json:"asr_provider_effective"`
	ASRFallbackUsed      bool                 `json:"asr_fallback_used"`
	ASRRuntimeEffective  string               `json:"asr_runtime_effective"`
	ASRModelEffective    string               `json:"asr_model_effective"`
	Alignment            AlignmentDiagnostics `json:"alignment"`
}

// WordSegment is a single word-level ASR output token.
type WordSegment struct {
	ID              int     `json:"id"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Word            string  `json:"word"`
	Confidence      float64 `json:"confidence,omitempty"`
	ASRSegmentIndex int     `json:"asr_segment_index"`
	Source          string  `json:"source"` // "cloud" or "local"
}

// Sentence is a line of source text with (optionally) a translation and timing.
type Sentence struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
}

// Subtitle is one emitted entry, 1-based for display and 0-based for indexing.
type Subtitle struct {
	ID          int     `json:"id"`
	Index       int     `json:"index"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
}

// AlignmentMode records which strategy produced a sentence's timing.
type AlignmentMode string

const (
	AlignmentStrict                 AlignmentMode = "strict"
	AlignmentQwenWordStreamFallback AlignmentMode = "qwen_word_stream_fallback"
)

// AlignmentDiagnostics summarizes the quality of a word-to-sentence alignment run.
type AlignmentDiagnostics struct {
	AlignmentQualityScore float64       `json:"alignment_quality_score"`
	AlignedRows           int           `json:"aligned_rows"`
	TotalRows             int           `json:"total_rows"`
	ExactMatchRows        int           `json:"exact_match_rows"`
	FuzzyMatchRows        int           `json:"fuzzy_match_rows"`
	FallbackRows          int           `json:"fallback_rows"`
	FallbackRatio         float64       `json:"fallback_ratio"`
	AlignmentMode         AlignmentMode `json:"alignment_mode"`
}

// SourceCacheEntry is one row of the URL ingestion content-addressed cache.
type SourceCacheEntry struct {
	NormalizedURL  string    `json:"normalized_url"`
	URLKey         string    `json:"url_key"` // sha256(normalized_url)
	ContentSHA256  string    `json:"content_sha256"`
	LocalPath      string    `json:"local_path"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	HitCount       int64     `json:"hit_count"`
}

// Message represents a single message in an LLM conversation history.
// Used by the translation engine when calling a [llm.Provider]: each batch
// becomes a single user message carrying the id-keyed JSON payload.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	// Unused by the translation engine (no tool calling in this domain) but
	// kept so the llm.Provider interface remains general-purpose.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          map[string]any
	EstimatedDurationMs int
	MaxDurationMs       int
	Idempotent          bool
	CacheableSeconds    int
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}

// MeteredUsage is a single append-only usage record forwarded to the
// external metered usage sink (see Component O).
type MeteredUsage struct {
	Scene             string    `json:"scene"`
	OwnerID           string    `json:"owner_id"`
	ProviderEffective string    `json:"provider_effective"`
	ModelEffective    string    `json:"model_effective"`
	PromptTokens      int       `json:"prompt_tokens"`
	CompletionTokens  int       `json:"completion_tokens"`
	TotalTokens       int       `json:"total_tokens"`
	ProviderRequestID string    `json:"provider_request_id"`
	Timestamp         time.Time `json:"timestamp"`
}

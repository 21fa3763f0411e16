// Package pipeline sequences the per-job stages (extract_audio → asr →
// llm_translate → align_and_build) and defines the typed error envelope
// every stage failure produces (Component F, §7).
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes named in SPEC_FULL.md §7.
const (
	CodeFFmpegMissing       = "ffmpeg_missing"
	CodeFFmpegExtractFailed = "ffmpeg_extract_failed"

	CodeInvalidSourceURL     = "invalid_source_url"
	CodeYTDLPNotAvailable    = "yt_dlp_not_available"
	CodeYTDLPLaunchFailed    = "yt_dlp_launch_failed"
	CodeYTDLPCommandFailed   = "yt_dlp_command_failed"
	CodeDownloadOutputMissing = "download_output_missing"
	CodeDownloadTimeout      = "download_timeout"
	CodeDownloadFailed       = "download_failed"

	CodeCloudASRFailed          = "cloud_asr_failed"
	CodeLocalRuntimeMissing     = "local_runtime_missing"
	CodeLocalASRFailed          = "local_asr_failed"
	CodeLocalWhisperXMissing    = "local_whisperx_missing"
	CodeLocalWhisperXFailed     = "local_whisperx_failed"
	CodeLocalWhisperXEmptySegs  = "local_whisperx_empty_segments"
	CodeASREmptySegments        = "asr_empty_segments"
	CodeASRProviderChainEmpty   = "asr_provider_chain_empty"
	CodeASRProviderUnknown      = "asr_provider_unknown"
	CodeASRAllProvidersFailed   = "asr_all_providers_failed"
	CodeWordTimestampsMissing   = "word_timestamps_missing"
	CodeInvalidWhisperModel     = "invalid_whisper_model"
	CodeInvalidRuntime          = "invalid_runtime"

	CodeMissingLLMAPIKey = "missing_llm_api_key"
	CodeLLMAccessDenied  = "llm_access_denied"
	CodeLLMRequestFailed = "llm_request_failed"
	CodeLLMInvalidJSON   = "llm_invalid_json"

	CodeTimestampAlignmentFailed = "timestamp_alignment_failed"
	CodeCancelRequested          = "cancel_requested"
	CodePipelineUnexpectedError  = "pipeline_unexpected_error"
	CodeServiceRestarted         = "service_restarted"
)

// Stage names, used both as StageError.Stage and as Job.CurrentStage values.
const (
	StageDownloadSource = "download_source"
	StageExtractAudio   = "extract_audio"
	StageASR            = "asr"
	StageLLMTranslate   = "llm_translate"
	StageAlignAndBuild  = "align_and_build"
	StageCompleted      = "completed"
	StageCancelling     = "cancelling"
)

// StageError is the error envelope every pipeline failure point produces:
// {stage, code, message, detail}.
type StageError struct {
	Stage   string
	Code    string
	Message string
	Detail  any // JSON-marshalable
	cause   error
}

// NewStageError constructs a StageError wrapping cause with %w so errors.Is
// and errors.As work against both the code and the wrapped transport error,
// following the teacher's sentinel-plus-wrap convention.
func NewStageError(stage, code string, cause error) *StageError {
	msg := code
	if cause != nil {
		msg = cause.Error()
	}
	return &StageError{Stage: stage, Code: code, Message: msg, cause: cause}
}

// WithDetail attaches a JSON-marshalable detail payload and returns se for chaining.
func (se *StageError) WithDetail(detail any) *StageError {
	se.Detail = detail
	return se
}

func (se *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %s", se.Stage, se.Code, se.Message)
}

func (se *StageError) Unwrap() error { return se.cause }

// Is reports whether target is a *StageError with the same Code, enabling
// errors.Is(err, pipeline.NewStageError(stage, pipeline.CodeLLMInvalidJSON, nil)).
func (se *StageError) Is(target error) bool {
	var other *StageError
	if errors.As(target, &other) {
		return other.Code == se.Code
	}
	return false
}

// MarshalJSON renders the envelope as {stage, code, message, detail}.
func (se *StageError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage   string `json:"stage"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  any    `json:"detail,omitempty"`
	}{se.Stage, se.Code, se.Message, se.Detail})
}

// ErrCancelled is the sentinel used at cooperative-cancellation checkpoints.
var ErrCancelled = errors.New("pipeline: cancel requested")

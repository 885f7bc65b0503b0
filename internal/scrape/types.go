package scrape

import (
	"fmt"
	"time"
)

// JobMode selects which pipeline processes a job.
type JobMode string

const (
	// ModeRender drives a live browser page and extracts via CSS selectors.
	ModeRender JobMode = "render"
	// ModeArchive fetches an archived snapshot and extracts readable text.
	ModeArchive JobMode = "archive"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values reported through progress events. TimedOut is
// caller-side only: the worker may still finish a job the caller abandoned.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// FieldStrategy tells the extraction engine how to locate one field.
// An unrecognized Kind disables the primary selector and leaves only the
// semantic-type fallbacks for that field.
type FieldStrategy struct {
	Kind     StrategyKind `json:"type"`
	Selector string       `json:"value"`
}

// StrategyKind names the selector dialect of a FieldStrategy.
type StrategyKind string

// StrategyCSS is the only dialect currently understood by the engine.
const StrategyCSS StrategyKind = "css"

// Job is one unit of scraping work. It is created by the HTTP boundary,
// keyed by ID in the correlation table, passed by value through the queue,
// and discarded once its outcome is consumed. Jobs are never persisted.
type Job struct {
	ID         string                   `json:"id"`
	Mode       JobMode                  `json:"mode"`
	TargetURL  string                   `json:"target_url"`
	Strategies map[string]FieldStrategy `json:"strategies,omitempty"`
	// ForceRefresh asks the archive service for a fresh snapshot even if one
	// already exists. Render jobs ignore it.
	ForceRefresh bool      `json:"force_refresh,omitempty"`
	Status       JobStatus `json:"status"`
	Submitted    time.Time `json:"submitted_at"`
}

// FieldSource records which tier of the extraction strategy produced a value.
type FieldSource string

const (
	SourcePrimary  FieldSource = "primary_selector"
	SourceAuto     FieldSource = "auto_heuristic"
	SourceMeta     FieldSource = "meta_tag"
	SourceReadable FieldSource = "readable_text"
	SourceNone     FieldSource = "none"
)

// FallbackSource names the fallback tier that matched, by position in the
// field's fallback list.
func FallbackSource(index int) FieldSource {
	return FieldSource(fmt.Sprintf("fallback_%d", index))
}

// ExtractedField is the result of running one field's strategy. An empty
// Value means "not found"; it is never an error.
type ExtractedField struct {
	Value  string      `json:"value"`
	Source FieldSource `json:"source"`
}

// ErrorKind classifies terminal job failures. Kinds are produced directly by
// the component that detects the condition, never inferred from message text.
type ErrorKind string

const (
	// KindTimeout means the caller's deadline elapsed before resolution.
	KindTimeout ErrorKind = "timeout"
	// KindDocumentAcquisition means no renderable document could be obtained.
	KindDocumentAcquisition ErrorKind = "document_acquisition_failure"
	// KindAnomalyDetected means a bot-challenge page was encountered and
	// extraction was deliberately skipped.
	KindAnomalyDetected ErrorKind = "anomaly_detected"
	// KindExtraction means the document was reachable but no usable content
	// could be read at all. Individual empty fields are not errors.
	KindExtraction ErrorKind = "extraction_failure"
	// KindExternalService means the archive dependency failed or timed out.
	KindExternalService ErrorKind = "external_service_failure"
	// KindInternal is the last-resort classification for unexpected worker
	// failures, including recovered panics.
	KindInternal ErrorKind = "internal_error"
)

// Wire-level error codes carried in API responses. Codes are assigned at the
// same detection site as the ErrorKind.
const (
	CodeTimeout        = "timeout"
	CodeScraping       = "scraping_error"
	CodeCaptcha        = "captcha_detected"
	CodeArchiveTimeout = "archive_timeout"
	CodeArchiveFailure = "archive_failure"
	CodeExtraction     = "extraction_failure"
	CodeInvalidURL     = "invalid_url"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal_error"
)

// OutcomeError describes why a job failed.
type OutcomeError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// NewError builds an OutcomeError with a formatted message.
func NewError(kind ErrorKind, code string, format string, args ...any) *OutcomeError {
	return &OutcomeError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *OutcomeError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Outcome is the terminal result of a job: exactly one of Fields or Err is
// set, and Duration always measures enqueue to resolution.
type Outcome struct {
	JobID    string                    `json:"job_id"`
	URL      string                    `json:"url"`
	Fields   map[string]ExtractedField `json:"fields,omitempty"`
	// ArchiveURL is the snapshot location for archive-mode jobs.
	ArchiveURL string        `json:"archive_url,omitempty"`
	Err        *OutcomeError `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the outcome carries extracted data.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// SuccessOutcome builds a successful outcome for a job.
func SuccessOutcome(job Job, fields map[string]ExtractedField, duration time.Duration) Outcome {
	if fields == nil {
		fields = map[string]ExtractedField{}
	}
	return Outcome{JobID: job.ID, URL: job.TargetURL, Fields: fields, Duration: duration}
}

// FailureOutcome builds a failed outcome for a job.
func FailureOutcome(job Job, err *OutcomeError, duration time.Duration) Outcome {
	return Outcome{JobID: job.ID, URL: job.TargetURL, Err: err, Duration: duration}
}

// TimeoutOutcome is what a caller receives when its deadline elapses before
// the worker resolves the job.
func TimeoutOutcome(job Job, waited time.Duration) Outcome {
	err := NewError(KindTimeout, CodeTimeout, "no result within %s", waited.Round(time.Millisecond))
	return Outcome{JobID: job.ID, URL: job.TargetURL, Err: err, Duration: waited}
}

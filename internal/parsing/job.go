package parsing

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus describes where a parsing job is in its lifecycle.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusSuccess    JobStatus = "SUCCESS"
	StatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is final. Terminal jobs are never
// transitioned again.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Job is one PDF-to-Markdown conversion request and its tracked state.
// Jobs are created and mutated exclusively through the Driver; everything
// else reads copies out of the Store.
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SourceName  string    `json:"file_name,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	PagePrefix  string    `json:"-"`
	PageSuffix  string    `json:"-"`
	Result      string    `json:"-"`
	Error       string    `json:"error,omitempty"`

	// source holds the uploaded bytes until processing reaches a terminal
	// state, at which point the driver drops them to bound memory.
	source []byte
}

// Sentinel errors surfaced to API and tool callers.
var (
	// ErrNotFound indicates an unknown job identifier.
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateJob indicates a Put with an identifier that already exists.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrEmptyDocument indicates the document rendered to zero pages or the
	// assembled result contained no usable content.
	ErrEmptyDocument = errors.New("document contains no usable content")

	// ErrValidation indicates a rejected submission; no job was created.
	ErrValidation = errors.New("invalid submission")
)

// ConversionError means the source bytes could not be rasterized. Rendering
// failures are permanent for a given document, so the driver fails the job
// without retrying.
type ConversionError struct {
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pdf conversion failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("pdf conversion failed: %s", e.Reason)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ExtractionError means a single page's vision extraction failed. The
// pipeline recovers it locally with a placeholder; it never fails the job.
type ExtractionError struct {
	Page int // 0-based page index
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for page %d: %v", e.Page+1, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

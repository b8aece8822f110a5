package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoActionableFiles means planning found nothing to edit.
var ErrNoActionableFiles = errors.New("no actionable files")

// IngestionKind classifies an ingestion failure.
type IngestionKind string

const (
	IngestNotFound IngestionKind = "not_found"
	IngestRead     IngestionKind = "read"
	IngestInvalid  IngestionKind = "invalid"
	IngestClosed   IngestionKind = "closed"
	IngestHost     IngestionKind = "host"
)

// IngestionError is returned when an issue reference cannot be resolved.
type IngestionError struct {
	Kind IngestionKind
	Ref  string
	Err  error
}

func (e *IngestionError) Error() string {
	msg := fmt.Sprintf("ingest %q: %s", e.Ref, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IsIssueNotFound reports whether err is an ingestion not-found error.
func IsIssueNotFound(err error) bool {
	var ie *IngestionError
	return errors.As(err, &ie) && ie.Kind == IngestNotFound
}

// CheckoutError is returned when the target repository cannot be cloned
// or branched.
type CheckoutError struct {
	Repo string
	Err  error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout %s: %v", e.Repo, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// PlanningError is returned when no usable plan could be produced.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning: %s: %v", e.Reason, e.Err)
	}
	return "planning: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }

// NoActionableFiles builds the terminal planning error for an empty plan.
func NoActionableFiles(reason string) *PlanningError {
	return &PlanningError{Reason: reason, Err: ErrNoActionableFiles}
}

// GenerationError is returned when the model produced no usable content
// for a file.
type GenerationError struct {
	Path string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %v", e.Path, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// QualityGateExhausted is returned when the gate reached its retry ceiling.
type QualityGateExhausted struct {
	Attempts int
	Check    string
	Last     *QualityResult
}

func (e *QualityGateExhausted) Error() string {
	return fmt.Sprintf("quality gate exhausted after %d attempts (last failure: %s)", e.Attempts, e.Check)
}

// PublishKind classifies a publish failure.
type PublishKind string

const (
	PublishNotFound PublishKind = "not_found"
	PublishAuth     PublishKind = "auth"
	PublishConflict PublishKind = "conflict"
	PublishNetwork  PublishKind = "network"
	PublishUnknown  PublishKind = "unknown"
)

// PublishError is returned when committing, pushing or opening a PR fails.
// The working tree is left as written.
type PublishError struct {
	Kind PublishKind
	Op   string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ExternalCallTimeout is returned when a model or process call exceeded
// its deadline.
type ExternalCallTimeout struct {
	Call    string
	Timeout time.Duration
	Err     error
}

func (e *ExternalCallTimeout) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Call, e.Timeout)
}

func (e *ExternalCallTimeout) Unwrap() error { return e.Err }

package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNoJob          = errors.New("no job available")
	ErrForbidden      = errors.New("owner mismatch")
	ErrNotImplemented = errors.New("not implemented")
)

// ErrorKind is the closed classification attached to pipeline failures.
type ErrorKind string

const (
	KindInputError          ErrorKind = "input_error"
	KindAnalysisError       ErrorKind = "analysis_error"
	KindOCRError            ErrorKind = "ocr_error"
	KindExtractionError     ErrorKind = "extraction_error"
	KindClassificationError ErrorKind = "classification_error"
	KindValidationError     ErrorKind = "validation_error"
	KindStorageError        ErrorKind = "storage_error"
	KindRecordError         ErrorKind = "record_error"
	KindAuditError          ErrorKind = "audit_error"
	KindTimeout             ErrorKind = "timeout"
	KindCancelled           ErrorKind = "cancelled"

	// KindInternal covers programming errors outside the external-failure
	// vocabulary above. It should never appear in a healthy deployment.
	KindInternal ErrorKind = "internal"
)

// Transient reports whether a retry has any chance of succeeding.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindOCRError, KindExtractionError, KindStorageError,
		KindRecordError, KindAuditError, KindTimeout:
		return true
	}
	return false
}

// StageError wraps a failure with the pipeline stage that produced it and
// its retry classification.
type StageError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(kind ErrorKind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the error kind from err, defaulting to internal.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

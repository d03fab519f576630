// Package apperr defines the error kinds reported by the pipeline and tags them with the
// stage (enrollment, resolution, ingestion, retrieval, generation) where they occurred.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageEnrollment Stage = "enrollment"
	StageResolution Stage = "resolution"
	StageIngestion  Stage = "ingestion"
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrEmbedding means a capability could not produce a usable vector
	// (empty or corrupt audio, zero vector, dimension mismatch).
	ErrEmbedding = errors.New("embedding failed")
	// ErrEmptyRegistry means a match was requested before any identity was enrolled.
	ErrEmptyRegistry = errors.New("no registered speakers")
	// ErrIndexNotBuilt means a query arrived before the retrieval index was built or loaded.
	ErrIndexNotBuilt = errors.New("retrieval index not built")
	// ErrFormat marks a transcript line that does not follow the segment format.
	ErrFormat = errors.New("malformed transcript line")
	// ErrPersistence means an index or sidecar file could not be read or written.
	ErrPersistence = errors.New("persistence failed")
	// ErrCapability means an external model provider was unreachable or returned garbage.
	ErrCapability = errors.New("capability unavailable")
)

// Error is a kind plus the stage it surfaced in.
type Error struct {
	Kind    error
	Stage   Stage
	Message string
	Cause   error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	var parts []string
	if e.Stage != "" {
		parts = append(parts, string(e.Stage))
	}
	switch {
	case e.Message != "":
		parts = append(parts, e.Message)
	case e.Cause == nil && e.Kind != nil:
		parts = append(parts, e.Kind.Error())
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// New returns an error of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind caused by cause.
func Wrap(kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithStage tags err with stage, keeping err and any context wrapped around it as the cause.
// An already tagged error keeps its original stage.
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage != "" {
			return err
		}
		return &Error{Kind: e.Kind, Stage: stage, Cause: err}
	}
	return &Error{Stage: stage, Cause: err}
}

// StageOf returns the stage err was tagged with, or "".
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// HTTPStatus maps an error kind to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyRegistry), errors.Is(err, ErrIndexNotBuilt):
		return http.StatusConflict
	case errors.Is(err, ErrEmbedding), errors.Is(err, ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCapability):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

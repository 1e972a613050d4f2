// Package errors provides the typed error taxonomy shared across the
// indexing-and-search engine: InputError, FileProcessingError,
// EmbeddingError, StorageError, NetworkError, PathError, and JobError.
package errors

import "fmt"

// Kind classifies an Error into one of the taxonomy buckets from the
// error-handling design. Kind is a closed set, not an open hierarchy.
type Kind string

const (
	// KindInput covers invalid paths, unsupported extensions, oversize
	// files, and malformed queries.
	KindInput Kind = "InputError"
	// KindFileProcessing covers read failures, empty content, and
	// zero-chunk results from the chunker.
	KindFileProcessing Kind = "FileProcessingError"
	// KindEmbedding covers backend unavailability, API failures,
	// dimension mismatches, and total batch failure.
	KindEmbedding Kind = "EmbeddingError"
	// KindStorage covers SQL failures, constraint violations, and
	// vector-extension failures.
	KindStorage Kind = "StorageError"
	// KindNetwork covers HTTP non-200 responses, timeouts, and DNS
	// failures.
	KindNetwork Kind = "NetworkError"
	// KindPath covers directory creation/validation failures.
	KindPath Kind = "PathError"
	// KindJob covers unknown job ids and invalid job state transitions.
	KindJob Kind = "JobError"
)

// Error is the structured error type used throughout the engine. It
// carries a Kind for categorized handling (MCP error-code mapping, job
// failure classification) plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Retryable indicates the operation may succeed if attempted again.
	// Set by Network by default; other kinds default to false.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithRetryable marks the error retryable (or not) and returns it.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Input creates an InputError.
func Input(message string, cause error) *Error {
	return &Error{Kind: KindInput, Message: message, Cause: cause}
}

// FileProcessing creates a FileProcessingError.
func FileProcessing(message string, cause error) *Error {
	return &Error{Kind: KindFileProcessing, Message: message, Cause: cause}
}

// Embedding creates an EmbeddingError.
func Embedding(message string, cause error) *Error {
	return &Error{Kind: KindEmbedding, Message: message, Cause: cause}
}

// Storage creates a StorageError.
func Storage(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

// Network creates a NetworkError. Network errors default to retryable.
func Network(message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Cause: cause, Retryable: true}
}

// Path creates a PathError.
func Path(message string, cause error) *Error {
	return &Error{Kind: KindPath, Message: message, Cause: cause}
}

// Job creates a JobError.
func Job(message string, cause error) *Error {
	return &Error{Kind: KindJob, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err by walking its Unwrap chain, or
// returns "" if err does not wrap an *Error.
func KindOf(err error) Kind {
	if e := asError(err); e != nil {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is (or wraps) an *Error marked retryable.
func IsRetryable(err error) bool {
	if e := asError(err); e != nil {
		return e.Retryable
	}
	return false
}

func asError(err error) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

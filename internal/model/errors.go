package model

import "fmt"

// ErrKind is the surface-level error taxonomy a task can fail with.
type ErrKind int

const (
	ErrTransport ErrKind = iota
	ErrMaxRetriesReached
	ErrParsing
	ErrStorage
	ErrURL
	ErrIO
	ErrJSON
)

func (k ErrKind) String() string {
	switch k {
	case ErrTransport:
		return "transport"
	case ErrMaxRetriesReached:
		return "max_retries_reached"
	case ErrParsing:
		return "parsing"
	case ErrStorage:
		return "storage"
	case ErrURL:
		return "url"
	case ErrIO:
		return "io"
	case ErrJSON:
		return "json"
	default:
		return "unknown"
	}
}

// StorageErrorKind narrows ErrStorage to its three failure modes.
type StorageErrorKind int

const (
	StorageErrConnection StorageErrorKind = iota
	StorageErrOperation
	StorageErrSerialization
)

func (k StorageErrorKind) String() string {
	switch k {
	case StorageErrConnection:
		return "connection"
	case StorageErrOperation:
		return "operation"
	case StorageErrSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// StorageError is a classified sink write failure.
type StorageError struct {
	Kind StorageErrorKind
	Msg  string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %s", e.Kind, e.Msg)
}

// ParsingError signals a spider's inability to parse a response.
type ParsingError struct {
	Msg string
}

func (e *ParsingError) Error() string { return fmt.Sprintf("parsing error: %s", e.Msg) }

// MaxRetriesReachedError is the transport's terminal failure once a
// category's inner retry loop is exhausted.
type MaxRetriesReachedError struct {
	Category RetryCategory
	Attempt  int
	URL      string
}

func (e *MaxRetriesReachedError) Error() string {
	return fmt.Sprintf("max retries of %d reached for category %s on url %s", e.Attempt, e.Category, e.URL)
}

// TaskError pairs a classified failure with the Request that produced it,
// so the engine can always choose to re-enqueue it.
type TaskError struct {
	Kind    ErrKind
	Request *Request
	Err     error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *TaskError) Unwrap() error { return e.Err }

// NewTaskError wraps err with its classification and originating request.
func NewTaskError(kind ErrKind, req *Request, err error) *TaskError {
	return &TaskError{Kind: kind, Request: req, Err: err}
}

package illustration

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"illustrationd/internal/manager"
)

// ErrorKind classifies generation failures for callers and the HTTP layer.
type ErrorKind string

const (
	InputNotFound    ErrorKind = "input_not_found"
	InvalidInput     ErrorKind = "invalid_input"
	StorageFailure   ErrorKind = "storage_failure"
	InferenceFailure ErrorKind = "inference_failure"
	UploadFailure    ErrorKind = "upload_failure"
	StartupFailure   ErrorKind = "startup_failure"
	TooBusy          ErrorKind = "too_busy"
	Timeout          ErrorKind = "timeout"
	Canceled         ErrorKind = "canceled"
)

// Error names the generation stage that failed and wraps the cause.
type Error struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case InputNotFound:
		return http.StatusNotFound
	case InvalidInput:
		return http.StatusUnprocessableEntity
	case StorageFailure:
		return http.StatusBadGateway
	case StartupFailure:
		return http.StatusServiceUnavailable
	case TooBusy:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Canceled:
		// Client closed request; nothing is written.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsInputNotFound reports whether a required upstream image was missing.
func IsInputNotFound(err error) bool { return KindOf(err) == InputNotFound }

// IsInvalidInput reports whether the request or its input image was rejected.
func IsInvalidInput(err error) bool { return KindOf(err) == InvalidInput }

func invalid(format string, args ...any) error {
	return &Error{Stage: "validate", Kind: InvalidInput, Err: fmt.Errorf(format, args...)}
}

// classify wraps err for stage. Context and manager errors take precedence
// over fallback so a timeout during upload still reports Timeout.
func classify(ctx context.Context, stage string, err error, fallback ErrorKind) error {
	kind := fallback
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = Timeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		kind = Canceled
	case manager.IsTooBusy(err):
		kind = TooBusy
	case manager.IsDependencyUnavailable(err):
		kind = StartupFailure
	}
	return &Error{Stage: stage, Kind: kind, Err: err}
}

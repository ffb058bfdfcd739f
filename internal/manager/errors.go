package manager

import "errors"

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string { return "too busy: " + e.reason }

// StatusCode implements the HTTP status mapping used by the API layer.
func (e tooBusyError) StatusCode() int { return 429 }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

// dependencyUnavailableError signals that the diffusion runtime or a
// required resource (accelerator, checkpoint) is missing, so the HTTP layer
// can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

func (e dependencyUnavailableError) StatusCode() int { return 503 }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// adapterLoadError wraps a failure to fetch or load adapter weights.
type adapterLoadError struct {
	id  string
	err error
}

func (e adapterLoadError) Error() string { return "adapter " + e.id + ": " + e.err.Error() }

func (e adapterLoadError) Unwrap() error { return e.err }

// IsAdapterLoad reports whether err is an adapter fetch/load failure.
func IsAdapterLoad(err error) bool {
	var ae adapterLoadError
	return errors.As(err, &ae)
}

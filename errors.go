package labkit

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError is returned when a named lab resource does not exist.
type NotFoundError struct {
	Lab      string // Lab name
	Resource string // Resource file, empty when the lab itself is unknown
}

func (e *NotFoundError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("lab %q: resource %s not found", e.Lab, e.Resource)
	}
	return fmt.Sprintf("lab %q not found", e.Lab)
}

// FetchError wraps a transient failure while retrieving a lab resource.
type FetchError struct {
	Lab        string
	Resource   string
	StatusCode int   // HTTP status, 0 when the failure was not an HTTP response
	Err        error // Underlying error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("lab %q: fetch %s failed: HTTP %d %s", e.Lab, e.Resource, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("lab %q: fetch %s failed: %v", e.Lab, e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NotInitializedError signals a playground operation invoked before
// initialization completed.
type NotInitializedError struct {
	Op string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("playground %s: not initialized", e.Op)
}

// InitializationError is returned when the execution environment is
// unavailable or fails to create an instance.
type InitializationError struct {
	Reason string
	Err    error
}

func (e *InitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("playground initialization failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("playground initialization failed: %s", e.Reason)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ValidationServiceError is returned when an external validator cannot be
// reached or answers with something unusable.
type ValidationServiceError struct {
	Service    string // "html" or "css"
	StatusCode int
	Err        error
}

func (e *ValidationServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s validation service: HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s validation service unavailable: %v", e.Service, e.Err)
}

func (e *ValidationServiceError) Unwrap() error {
	return e.Err
}

// UserFriendlyMessage maps an error to notification text.
func UserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return fmt.Sprintf("Lab %q was not found. Check the lab name in the URL.", notFound.Lab)
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return "Could not load the lab files. Please try again."
	}

	var notInit *NotInitializedError
	if errors.As(err, &notInit) {
		return "The playground is not ready yet."
	}

	var initErr *InitializationError
	if errors.As(err, &initErr) {
		return "The playground failed to start. Check your connection and reload."
	}

	var svcErr *ValidationServiceError
	if errors.As(err, &svcErr) {
		return fmt.Sprintf("The %s validator is unavailable right now.", svcErr.Service)
	}

	return err.Error()
}

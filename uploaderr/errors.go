// Package uploaderr holds the error kinds surfaced by a resumable media upload.
// Every failure that reaches the caller of an upload can be told apart with errors.As.
package uploaderr

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError reports a missing or invalid endpoint or parameter. It is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// AuthError reports a missing or rejected access token. It is never retried.
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("auth: %s", e.Reason)
	}
	return fmt.Sprintf("auth: HTTP %d: %s", e.StatusCode, e.Reason)
}

// TransportError reports a network failure or a non-2xx response.
// StatusCode is 0 when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the remote side answered with 429.
func (e *TransportError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ChecksumMismatchError reports that the digest echoed by the server differs from the local one.
type ChecksumMismatchError struct {
	PartNumber int
	Local      string
	Remote     string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for part %d: server=%s local=%s", e.PartNumber, e.Remote, e.Local)
}

// StateError reports that upload progress could not be read or persisted.
type StateError struct {
	UploadID string
	Op       string
	Err      error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s for upload %s: %s", e.Op, e.UploadID, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// IOError reports that the source file could not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read source %s: %s", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// PartUploadError is the terminal failure of one part.
type PartUploadError struct {
	PartNumber int
	Attempts   int
	Err        error
}

func (e *PartUploadError) Error() string {
	return fmt.Sprintf("part %d failed after %d attempt(s): %s", e.PartNumber, e.Attempts, e.Err)
}

func (e *PartUploadError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err may succeed when the same request is sent again.
// Transport failures and checksum mismatches are retryable; everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	var stateErr *StateError
	var configErr *ConfigurationError
	if errors.As(err, &authErr) || errors.As(err, &stateErr) || errors.As(err, &configErr) {
		return false
	}

	var transportErr *TransportError
	var mismatchErr *ChecksumMismatchError
	return errors.As(err, &transportErr) || errors.As(err, &mismatchErr)
}

// IsRateLimited reports whether err carries a 429 response.
func IsRateLimited(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.RateLimited()
	}
	return false
}

// FromStatus classifies a non-2xx response: 401 and 403 become AuthError, everything else TransportError.
func FromStatus(op string, statusCode int, body string) error {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return &AuthError{StatusCode: statusCode, Reason: body}
	}
	return &TransportError{Op: op, StatusCode: statusCode, Body: body}
}

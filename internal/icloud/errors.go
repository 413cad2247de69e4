package icloud

import (
	"errors"
	"fmt"
)

// Sentinel errors for the service-level error taxonomy (spec.md §7).
// Use errors.Is(err, icloud.ErrX) to classify; callers that need the
// status code or request ID can errors.As into *APIError.
var (
	ErrAuthExpired        = errors.New("icloud: session expired")
	ErrAuthFailed         = errors.New("icloud: authentication failed")
	ErrMfaRequired        = errors.New("icloud: multi-factor authentication required")
	ErrMfaFailed          = errors.New("icloud: multi-factor authentication failed")
	ErrServiceUnavailable = errors.New("icloud: service unavailable")
	ErrRateLimited        = errors.New("icloud: rate limited")
	ErrNotFound           = errors.New("icloud: asset not found")
	ErrIntegrityMismatch  = errors.New("icloud: downloaded content length mismatch")
	ErrFilesystem         = errors.New("icloud: filesystem error")
	ErrConfig             = errors.New("icloud: configuration error")
	ErrCancelled          = errors.New("icloud: operation cancelled")
	ErrFatal              = errors.New("icloud: unexpected error")
)

// APIError wraps a sentinel with the HTTP status and request context
// needed for diagnostics, mirroring a typical Graph-style client's
// structured error type.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // one of the sentinels above
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("icloud: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("icloud: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IntegrityError carries the expected/actual byte counts for a failed
// length verification (spec.md §7 IntegrityMismatch{expected_len, got_len}).
type IntegrityError struct {
	Expected int64
	Got      int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("icloud: length mismatch: expected %d bytes, got %d", e.Expected, e.Got)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityMismatch
}

// FilesystemError carries the failing path and a short kind tag.
type FilesystemError struct {
	Path string
	Kind string // e.g. "permission", "no-space", "not-exist"
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("icloud: filesystem error (%s) at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return ErrFilesystem
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns
// nil for 2xx success codes.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 401:
		return ErrAuthExpired
	case code == 403:
		return ErrAuthFailed
	case code == 404:
		return ErrNotFound
	case code == 429:
		return ErrRateLimited
	case code >= 500:
		return ErrServiceUnavailable
	default:
		return ErrFatal
	}
}

// IsRetryable reports whether an error classified from a transport
// round-trip should be retried internally by the downloader/client
// (spec.md §4.4: only Retryable is retried; AuthExpired/RateLimited/
// NotFound/Fatal propagate for the caller to classify).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, errConnReset)
}

// errConnReset is a local sentinel used to tag plain network-level
// errors (connection reset, timeout) as retryable without requiring
// the caller to inspect net.Error directly.
var errConnReset = errors.New("icloud: connection reset")

// WrapTransportError tags a raw transport error (e.g. from http.Client.Do)
// as retryable so the retry loop and the downloader's classification
// agree on what counts as transient.
func WrapTransportError(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", errConnReset, err)
}

// Package apperror implements the gateway's error taxonomy: plain wrapped
// errors, in the teacher's own idiom (fmt.Errorf/%w throughout), carrying
// just enough classification to pick an HTTP status and a sanitized body at
// the boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind classifies an error for HTTP status mapping and remediation text.
type Kind int

const (
	KindValidation Kind = iota
	KindAuth
	KindPermission
	KindNotFound
	KindBackend
	KindTimeout
	KindRelay
	KindCache
)

// Error wraps an underlying cause with a Kind and an optional remediation
// message safe to send to a client.
type Error struct {
	Kind        Kind
	Remediation string
	cause       error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Remediation
	}
	return fmt.Sprintf("%s: %v", e.Remediation, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, remediation string, cause error) *Error {
	return &Error{Kind: kind, Remediation: remediation, cause: cause}
}

// Validation wraps a malformed-identifier, path-traversal, or oversized-
// payload failure. Never retried; surfaced as 400.
func Validation(remediation string, cause error) *Error {
	return newErr(KindValidation, remediation, cause)
}

// Auth wraps a NIP-98 verification subreason. Surfaced as 401 with
// WWW-Authenticate so the credential helper is invoked.
func Auth(reason string, cause error) *Error {
	return newErr(KindAuth, reason, cause)
}

// Permission wraps an authenticated-but-denied policy decision. Surfaced as
// 403 with a remediation body; never redirected to 401.
func Permission(remediation string, cause error) *Error {
	return newErr(KindPermission, remediation, cause)
}

// NotFound wraps an unknown owner/repo path lookup. 404.
func NotFound(what string) *Error {
	return newErr(KindNotFound, fmt.Sprintf("%s not found", what), nil)
}

// Backend wraps a git CGI or filesystem failure with no useful client-facing
// detail. Sanitized and returned as 500.
func Backend(cause error) *Error {
	return newErr(KindBackend, "backend operation failed", cause)
}

// Timeout wraps a deadline exceeded on a network or subprocess operation. 504.
func Timeout(cause error) *Error {
	return newErr(KindTimeout, "operation timed out", cause)
}

// Relay wraps a relay publish/fetch failure. Never fatal outside the
// publish() boundary itself; mirror fan-out failures are logged and
// swallowed by the caller, not surfaced through this constructor's HTTP
// mapping.
func Relay(cause error) *Error {
	return newErr(KindRelay, "relay operation failed", cause)
}

// Cache wraps a persistent-store failure. Never fatal; callers log it at
// debug and continue without the cache.
func Cache(cause error) *Error {
	return newErr(KindCache, "cache operation failed", cause)
}

// HTTPStatus maps a Kind to the status code of spec.md §7.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindBackend, KindRelay, KindCache:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor returns the HTTP status for err, defaulting to 500 for errors
// that were never classified through this package.
func StatusFor(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}

var (
	hex64Pattern = regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`)
	nsecPattern  = regexp.MustCompile(`\bnsec1[0-9a-z]+\b`)
)

// Sanitize strips hex-64 sequences (event ids, pubkeys) and nsec1... secret
// keys from any error string leaving the process, per spec.md §7.
func Sanitize(msg string) string {
	msg = hex64Pattern.ReplaceAllString(msg, "<redacted-hex64>")
	msg = nsecPattern.ReplaceAllString(msg, "<redacted-nsec>")
	return msg
}

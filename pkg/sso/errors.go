package sso

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the machine-readable classification of a broker error.
// The transport layer maps kinds to HTTP status codes; the engine never
// retries any of them.
type ErrorKind string

const (
	KindDuplicateConfig      ErrorKind = "duplicate_config"
	KindConfigNotFound       ErrorKind = "config_not_found"
	KindUnknownTenant        ErrorKind = "unknown_tenant"
	KindInvalidRedirect      ErrorKind = "invalid_redirect"
	KindUnknownRequest       ErrorKind = "unknown_request"
	KindInvalidSignature     ErrorKind = "invalid_signature"
	KindExpiredAssertion     ErrorKind = "expired_assertion"
	KindAudienceMismatch     ErrorKind = "audience_mismatch"
	KindInvalidCode          ErrorKind = "invalid_code"
	KindRedirectMismatch     ErrorKind = "redirect_mismatch"
	KindInvalidClient        ErrorKind = "invalid_client"
	KindInvalidToken         ErrorKind = "invalid_token"
	KindUnknownLogoutRequest ErrorKind = "unknown_logout_request"
	KindLogoutRejected       ErrorKind = "logout_rejected"
)

// kindStatus maps each kind to its default HTTP status. Kinds absent from
// the map fall back to 500.
var kindStatus = map[ErrorKind]int{
	KindDuplicateConfig:      http.StatusConflict,
	KindConfigNotFound:       http.StatusNotFound,
	KindUnknownTenant:        http.StatusNotFound,
	KindInvalidRedirect:      http.StatusBadRequest,
	KindUnknownRequest:       http.StatusUnauthorized,
	KindInvalidSignature:     http.StatusUnauthorized,
	KindExpiredAssertion:     http.StatusUnauthorized,
	KindAudienceMismatch:     http.StatusUnauthorized,
	KindInvalidCode:          http.StatusBadRequest,
	KindRedirectMismatch:     http.StatusBadRequest,
	KindInvalidClient:        http.StatusUnauthorized,
	KindInvalidToken:         http.StatusUnauthorized,
	KindUnknownLogoutRequest: http.StatusBadRequest,
	KindLogoutRejected:       http.StatusBadGateway,
}

// Status returns the HTTP status associated with the kind
func (k ErrorKind) Status() int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a broker error carrying a kind and a human-readable message
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

// Errorf creates a new broker error with a formatted message
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a broker error preserving the underlying cause
func WrapError(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a broker error of the same kind
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the error kind, or "" for non-broker errors
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsKind reports whether err is a broker error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Package apierror defines the error taxonomy surfaced by the HTTP API.
// Services return these as ordinary error values; handlers lift them to
// status codes at the edge. Anything else is an internal error and callers
// outside the admin role see only a generic message.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names an error class. The wire value is stable: billing systems and
// the UI dispatch on it.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindPermissionDenied  Kind = "PermissionDenied"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindDuplicateName     Kind = "DuplicateName"
	KindPodExists         Kind = "PodExists"
	KindPDIsUsed          Kind = "PDIsUsed"
	KindNoFreeIPs         Kind = "NoFreeIPs"
	KindPDSizeLimit       Kind = "PDSizeLimit"
	KindCommandIsMissing  Kind = "CommandIsMissing"
	KindImageNotAvailable Kind = "ImageNotAvailable"
	KindRegistryError     Kind = "RegistryError"
	KindTooManyAttempts   Kind = "TooManyLoginAttempts"
	KindInvalidAPIVersion Kind = "InvalidAPIVersion"
	KindBilling           Kind = "BillingError"
	KindMaintenanceMode   Kind = "MaintenanceMode"
	KindInternal          Kind = "InternalAPIError"
)

// statusByKind maps each kind to its HTTP status code.
var statusByKind = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindPermissionDenied:  http.StatusForbidden,
	KindNotFound:          http.StatusNotFound,
	KindConflict:          http.StatusConflict,
	KindDuplicateName:     http.StatusNotAcceptable,
	KindPodExists:         http.StatusConflict,
	KindPDIsUsed:          http.StatusConflict,
	KindNoFreeIPs:         http.StatusConflict,
	KindPDSizeLimit:       http.StatusConflict,
	KindCommandIsMissing:  http.StatusConflict,
	KindImageNotAvailable: http.StatusServiceUnavailable,
	KindRegistryError:     http.StatusServiceUnavailable,
	KindTooManyAttempts:   http.StatusTooManyRequests,
	KindInvalidAPIVersion: http.StatusBadRequest,
	KindBilling:           http.StatusBadRequest,
	KindMaintenanceMode:   http.StatusServiceUnavailable,
	KindInternal:          http.StatusInternalServerError,
}

// Error is a typed API error. Details carries optional structured context
// (field errors, the blocking reason, etc.) for the v2 envelope.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

func NoFreeIPs() *Error {
	return New(KindNoFreeIPs, "There are no free public IP-addresses, contact KuberDock administrator")
}

func MaintenanceMode() *Error {
	return New(KindMaintenanceMode, "Sorry, KuberDock is under maintenance. Please, wait until it is fixed")
}

func InvalidAPIVersion(got string, supported ...string) *Error {
	return New(KindInvalidAPIVersion, "API version %q is not supported", got).
		WithDetails(map[string]any{"supported": supported})
}

// From unwraps err into an *Error, or nil if err is not one.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind reports whether err is an API error of the given kind.
func IsKind(err error, kind Kind) bool {
	e := From(err)
	return e != nil && e.Kind == kind
}

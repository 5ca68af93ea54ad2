// Package apperrors provides the closed fetch-failure taxonomy and its
// user-facing messages. Every failure of the upstream inference call is
// classified into exactly one class before it reaches user-visible state.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Class is the category of a fetch failure. The set is closed: anything the
// classifier cannot place lands in ClassUnclassified.
type Class string

const (
	// ClassAuth indicates a missing or rejected credential.
	ClassAuth Class = "auth"
	// ClassNetwork indicates a transport or connectivity failure.
	ClassNetwork Class = "network"
	// ClassRateLimit indicates an upstream throttling signal.
	ClassRateLimit Class = "rate_limit"
	// ClassUnclassified is everything else; the raw detail is kept for diagnosis.
	ClassUnclassified Class = "unclassified"
)

// Error is a classified fetch failure with a message suitable for the
// dashboard and the underlying cause for logs.
type Error struct {
	Class   Class
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage is what the presentation layer shows for this failure.
func (e *Error) UserMessage() string {
	switch e.Class {
	case ClassAuth:
		return "Inference credentials are missing or invalid. Check the API key configuration."
	case ClassNetwork:
		return "The sentiment service is unreachable. Check your connection and retry."
	case ClassRateLimit:
		return "The sentiment service is throttling requests. Please wait a moment and retry."
	default:
		return fmt.Sprintf("Sentiment fetch failed: %s", e.Message)
	}
}

// HTTPStatus maps the class to a response status for the API surface.
func (e *Error) HTTPStatus() int {
	switch e.Class {
	case ClassAuth:
		return http.StatusBadGateway
	case ClassNetwork:
		return http.StatusBadGateway
	case ClassRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// AuthError creates an auth-class error.
func AuthError(message string, cause error) *Error {
	return &Error{Class: ClassAuth, Message: message, Cause: cause}
}

// NetworkError creates a network-class error.
func NetworkError(message string, cause error) *Error {
	return &Error{Class: ClassNetwork, Message: message, Cause: cause}
}

// RateLimitError creates a rate-limit-class error.
func RateLimitError(message string, cause error) *Error {
	return &Error{Class: ClassRateLimit, Message: message, Cause: cause}
}

// UnclassifiedError creates an unclassified error carrying the raw detail.
func UnclassifiedError(message string, cause error) *Error {
	return &Error{Class: ClassUnclassified, Message: message, Cause: cause}
}

// FromStatusCode classifies an upstream HTTP status.
func FromStatusCode(code int, detail string) *Error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return AuthError(detail, nil)
	case code == http.StatusTooManyRequests:
		return RateLimitError(detail, nil)
	default:
		return UnclassifiedError(fmt.Sprintf("upstream status %d: %s", code, detail), nil)
	}
}

// Classify converts any error into a classified *Error. Already-classified
// errors pass through unchanged; transport-level failures become
// ClassNetwork; the rest is unclassified.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError("transport failure", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NetworkError("transport failure", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkError("request timed out", err)
	}

	return UnclassifiedError(err.Error(), err)
}

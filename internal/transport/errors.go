package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/sungwon/mailer/internal/mail"
)

// Error wraps a delivery failure with classification metadata.
type Error struct {
	// Transport is the name of the backend that failed.
	Transport string
	// Code is a short machine-readable failure code.
	Code string
	// Status is the HTTP or SMTP status code, when the backend returned one.
	Status int
	// Message is the error description from the backend.
	Message string
	// Permanent indicates the error will not succeed on retry.
	Permanent bool
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	return e.Transport + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent returns true if the error is a permanent failure that should
// not be retried.
func IsPermanent(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Permanent
	}
	return false
}

// IsTransient returns true if the error is a temporary failure that may
// succeed on retry.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return !te.Permanent
	}
	// Unknown errors are treated as transient to avoid data loss.
	return true
}

// NormalizeError reduces any delivery error to the {code, message, status}
// shape stored on a failed record.
func NormalizeError(err error) *mail.Response {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return &mail.Response{Code: te.Code, Message: te.Message, Status: te.Status}
	}

	resp := &mail.Response{Message: err.Error()}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		resp.Code = "ETIMEDOUT"
	case errors.Is(err, context.Canceled):
		resp.Code = "ECANCELED"
	}
	return resp
}

// ClassifyHTTPError creates an Error from an HTTP status code and response
// body, classifying it as permanent or transient. It returns nil for 2xx.
func ClassifyHTTPError(transportName string, statusCode int, body string) *Error {
	te := &Error{
		Transport: transportName,
		Code:      httpErrorCode(statusCode),
		Status:    statusCode,
		Message:   body,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil

	case statusCode == 400:
		te.Permanent = containsPermanentIndicator(body)

	case statusCode == 401, statusCode == 403, statusCode == 404:
		te.Permanent = true

	case statusCode == 429:
		te.Permanent = false

	case statusCode >= 500:
		te.Permanent = containsPermanentServerIndicator(body)

	default:
		te.Permanent = statusCode >= 400 && statusCode < 500
	}

	return te
}

func httpErrorCode(statusCode int) string {
	switch {
	case statusCode == 401 || statusCode == 403:
		return "EAUTH"
	case statusCode == 429:
		return "ERATELIMIT"
	case statusCode >= 500:
		return "EPROVIDER"
	default:
		return "EMESSAGE"
	}
}

// containsPermanentIndicator checks if a 400 response body indicates a
// failure that will not change on retry.
func containsPermanentIndicator(body string) bool {
	return containsAny(body,
		"invalid recipient",
		"invalid email",
		"does not exist",
		"mailbox not found",
		"recipient rejected",
		"bad request",
		"validation error",
		"invalid address",
	)
}

// containsPermanentServerIndicator checks if a 5xx response body indicates
// a broken account or credential setup.
func containsPermanentServerIndicator(body string) bool {
	return containsAny(body,
		"invalid api key",
		"authentication failed",
		"account suspended",
		"account disabled",
		"unauthorized",
	)
}

func containsAny(s string, patterns ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

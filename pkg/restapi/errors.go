package restapi

import (
	"context"
	"errors"
	"fmt"
)

// GenericMessage is the fallback shown when no more specific message exists.
const GenericMessage = "Something went wrong. Please try again."

// statusMessages maps HTTP failure statuses to human-readable phrases.
var statusMessages = map[int]string{
	400: "Invalid request. Please check your input and try again.",
	401: "You are not authorized. Please sign in and try again.",
	403: "You do not have permission to perform this action.",
	404: "The requested resource could not be found.",
	409: "This change conflicts with the current state. Refresh and try again.",
	422: "The submitted data could not be processed. Please check your input.",
	500: "The server encountered an error. Please try again later.",
	503: "The service is temporarily unavailable. Please try again later.",
}

// Error is a normalized request failure. Status is zero for transport
// failures that never produced an HTTP response.
type Error struct {
	// Status is the HTTP status code, or 0 for transport failures.
	Status int

	// Message is a human-readable description, suitable for display.
	Message string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Wrapped }

// StatusMessage returns the display phrase for an HTTP failure status.
// Unmapped statuses fall back to the supplied fallback, or to GenericMessage
// when the fallback is empty. It never panics.
func StatusMessage(status int, fallback string) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	if fallback != "" {
		return fallback
	}
	return GenericMessage
}

// Normalize maps an arbitrary failure value to a display string. It accepts
// errors, strings, and anything else a recovered panic or callback might
// carry, and never panics itself.
func Normalize(v any) string {
	switch val := v.(type) {
	case nil:
		return GenericMessage
	case *Error:
		if val == nil || val.Message == "" {
			return GenericMessage
		}
		return val.Message
	case error:
		var apiErr *Error
		if errors.As(val, &apiErr) && apiErr.Message != "" {
			return apiErr.Message
		}
		if msg := val.Error(); msg != "" {
			return msg
		}
		return GenericMessage
	case string:
		if val != "" {
			return val
		}
		return GenericMessage
	case fmt.Stringer:
		if msg := val.String(); msg != "" {
			return msg
		}
		return GenericMessage
	default:
		return GenericMessage
	}
}

// IsAborted reports whether err stems from a cancelled request. Aborted
// requests are not failures: they must never trigger rollback or reach an
// error callback.
func IsAborted(err error) bool {
	return errors.Is(err, context.Canceled)
}

package optimistic

import (
	"encoding/json"
	"log/slog"
	"time"
)

// UpdateOption configures an UpdateEngine (and, through delegation, a
// ToggleEngine).
type UpdateOption[T any] func(*UpdateEngine[T])

// WithMethod sets the HTTP method used to persist values. Default: PATCH.
func WithMethod[T any](method string) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.method = method
	}
}

// WithDebounce coalesces rapid updates: the persistence call fires only
// after the quiet period elapses with no further Update. Zero disables
// debouncing.
func WithDebounce[T any](wait time.Duration) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.wait = wait
	}
}

// WithPayload injects the strategy that shapes the request body from the
// value being persisted.
func WithPayload[T any](build PayloadBuilder[T]) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.payload = build
	}
}

// WithConfirm injects the parser that extracts the server-confirmed value
// from a response envelope.
func WithConfirm[T any](parse ConfirmParser[T]) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.confirm = parse
	}
}

// WithField persists the value as {name: value} and confirms it from the
// same field of the response's data object. Responses without a usable
// field fall back to trusting the sent value.
func WithField[T any](name string) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.payload = func(v T) any {
			return map[string]any{name: v}
		}
		e.confirm = func(data json.RawMessage) (T, bool) {
			return decodeField[T](data, name)
		}
	}
}

// WithEquals enables no-op suppression: when the value to persist equals the
// last confirmed value and nothing is in flight, no request is issued.
func WithEquals[T any](eq func(a, b T) bool) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.equal = eq
	}
}

// OnError registers the callback invoked with the normalized error after a
// failed call has rolled back. Aborted calls never reach it.
func OnError[T any](fn func(error)) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.onError = fn
	}
}

// OnChange registers the callback invoked whenever the displayed value
// changes: on every Update, on confirmation, on rollback, and on
// Reset/Rebase.
func OnChange[T any](fn func(T)) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.onChange = fn
	}
}

// WithEngineLogger sets the structured logger for settlement debug logging.
func WithEngineLogger[T any](logger *slog.Logger) UpdateOption[T] {
	return func(e *UpdateEngine[T]) {
		e.logger = logger
	}
}

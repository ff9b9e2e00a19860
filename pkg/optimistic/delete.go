package optimistic

import (
	"context"
	"log/slog"

	"github.com/leaseline-dev/leaseline/pkg/restapi"
)

// DeleteEngine removes items from a remote collection. Like CreateEngine it
// is stateless: the caller removes the item from its own list before calling
// Delete and re-inserts it if the deletion fails.
type DeleteEngine struct {
	client  *restapi.Client
	onError func(error)
	logger  *slog.Logger
}

// DeleteOption configures a DeleteEngine.
type DeleteOption func(*DeleteEngine)

// OnDeleteError registers the callback invoked with the normalized error
// when a deletion fails. Aborted calls never reach it.
func OnDeleteError(fn func(error)) DeleteOption {
	return func(e *DeleteEngine) {
		e.onError = fn
	}
}

// WithDeleteLogger sets the structured logger for failure debug logging.
func WithDeleteLogger(logger *slog.Logger) DeleteOption {
	return func(e *DeleteEngine) {
		e.logger = logger
	}
}

// NewDelete creates a delete engine bound to the given client.
func NewDelete(client *restapi.Client, opts ...DeleteOption) *DeleteEngine {
	e := &DeleteEngine{client: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Delete issues the deletion request against endpoint. It returns true when
// the removal is confirmed and final, false when the caller should restore
// the item it removed. On failure the error callback fires before Delete
// returns; aborted requests return false silently.
func (e *DeleteEngine) Delete(ctx context.Context, endpoint string) bool {
	_, err := e.client.Delete(ctx, endpoint)
	if err == nil {
		return true
	}
	if restapi.IsAborted(err) {
		return false
	}
	if e.logger != nil {
		e.logger.Debug("delete failed", "endpoint", endpoint, "error", err)
	}
	if e.onError != nil {
		e.onError(err)
	}
	return false
}

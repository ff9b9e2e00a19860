package optimistic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leaseline-dev/leaseline/pkg/restapi"
	"github.com/leaseline-dev/leaseline/pkg/tempid"
)

// Fields is the partial payload for a new item.
type Fields map[string]any

// CreateEngine adds new items to a remote collection with zero perceived
// latency. It holds no list state: the caller stages a placeholder, renders
// it, and substitutes the server-confirmed item (or removes the placeholder)
// when Create settles.
type CreateEngine[T any] struct {
	client   *restapi.Client
	endpoint string
	onError  func(error)
	logger   *slog.Logger
}

// CreateOption configures a CreateEngine.
type CreateOption[T any] func(*CreateEngine[T])

// OnCreateError registers the callback invoked with the normalized error
// when a create fails. Aborted calls never reach it.
func OnCreateError[T any](fn func(error)) CreateOption[T] {
	return func(e *CreateEngine[T]) {
		e.onError = fn
	}
}

// WithCreateLogger sets the structured logger for failure debug logging.
func WithCreateLogger[T any](logger *slog.Logger) CreateOption[T] {
	return func(e *CreateEngine[T]) {
		e.logger = logger
	}
}

// NewCreate creates an engine that POSTs new items to endpoint.
func NewCreate[T any](client *restapi.Client, endpoint string, opts ...CreateOption[T]) *CreateEngine[T] {
	e := &CreateEngine[T]{client: client, endpoint: endpoint}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stage returns a copy of fields carrying a temporary identifier under
// "id", ready for the caller to insert into its own list for immediate
// rendering.
func (e *CreateEngine[T]) Stage(fields Fields) Fields {
	staged := make(Fields, len(fields)+1)
	for k, v := range fields {
		staged[k] = v
	}
	staged["id"] = tempid.New()
	return staged
}

// Create persists the item. The temporary identifier, if present, is
// stripped before sending. On success it returns the server-confirmed item
// for substitution into the caller's list. On failure it returns nil and the
// error, after invoking the error callback; the caller removes its
// placeholder. There is no retry.
func (e *CreateEngine[T]) Create(ctx context.Context, fields Fields) (*T, error) {
	payload := make(Fields, len(fields))
	for k, v := range fields {
		if k == "id" {
			if s, ok := v.(string); ok && tempid.Is(s) {
				continue
			}
		}
		payload[k] = v
	}

	env, err := e.client.Post(ctx, e.endpoint, payload)
	if err != nil {
		if restapi.IsAborted(err) {
			return nil, err
		}
		return nil, e.fail(err)
	}
	if env == nil || len(env.Data) == 0 {
		// The contract requires the server to echo the created item;
		// without it the caller cannot learn the real identifier.
		return nil, e.fail(&restapi.Error{Message: restapi.GenericMessage, Wrapped: fmt.Errorf("create response carried no data")})
	}

	var item T
	if err := json.Unmarshal(env.Data, &item); err != nil {
		return nil, e.fail(&restapi.Error{Message: restapi.GenericMessage, Wrapped: fmt.Errorf("decode created item: %w", err)})
	}
	return &item, nil
}

func (e *CreateEngine[T]) fail(err error) error {
	if e.logger != nil {
		e.logger.Debug("create failed", "endpoint", e.endpoint, "error", err)
	}
	if e.onError != nil {
		e.onError(err)
	}
	return err
}

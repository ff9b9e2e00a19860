package optimistic

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/leaseline-dev/leaseline/pkg/restapi"
)

// State describes where an engine is in its reconciliation cycle.
type State int

const (
	// StateIdle means no edit is pending or in flight.
	StateIdle State = iota

	// StateUpdating means a persistence call is in flight.
	StateUpdating

	// StateConfirmed means the last call settled with server confirmation.
	// It is a resting state: the next Update leaves it like Idle.
	StateConfirmed

	// StateRolledBack means the last call failed and the local value was
	// restored to the last confirmed one. Also a resting state.
	StateRolledBack
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUpdating:
		return "updating"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// PayloadBuilder shapes the request body for a value being persisted.
type PayloadBuilder[T any] func(value T) any

// ConfirmParser extracts the server-confirmed value from a response
// envelope's data field. Returning ok=false means the response carried no
// usable value and the locally sent one is treated as confirmed.
type ConfirmParser[T any] func(data json.RawMessage) (T, bool)

// UpdateEngine manages one remote-backed field with instant local feedback.
//
// Update applies the new value synchronously, then persists it; on success
// both the current and the confirmed value adopt the server's response (the
// server may normalize input), on failure the current value rolls back to
// the last confirmed one. Only the most recently initiated call may settle:
// earlier in-flight calls are aborted and their results ignored.
type UpdateEngine[T any] struct {
	client   *restapi.Client
	endpoint string
	method   string
	payload  PayloadBuilder[T]
	confirm  ConfirmParser[T]
	wait     time.Duration
	equal    func(a, b T) bool
	onError  func(error)
	onChange func(T)
	logger   *slog.Logger

	mu       sync.Mutex
	current  T
	original T
	state    State
	lastErr  error
	timer    *time.Timer
	cancel   context.CancelFunc
	seq      uint64
	closed   bool
}

// NewUpdate creates an engine for the given endpoint, baselined at initial.
// The default method is PATCH, the default payload is the value itself, and
// the default confirmation decodes the envelope's data field into T.
func NewUpdate[T any](client *restapi.Client, endpoint string, initial T, opts ...UpdateOption[T]) *UpdateEngine[T] {
	e := &UpdateEngine[T]{
		client:   client,
		endpoint: endpoint,
		method:   http.MethodPatch,
		current:  initial,
		original: initial,
	}
	e.payload = func(v T) any { return v }
	e.confirm = decodeInto[T]
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Update applies v locally and schedules persistence. With a debounce
// configured, the network call fires only after the quiet period passes with
// no further Update superseding it; otherwise it fires immediately.
func (e *UpdateEngine[T]) Update(v T) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.current = v
	e.lastErr = nil
	onChange := e.onChange

	if e.wait > 0 {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.timer = time.AfterFunc(e.wait, e.dispatch)
		e.mu.Unlock()
		if onChange != nil {
			onChange(v)
		}
		return
	}
	e.mu.Unlock()
	if onChange != nil {
		onChange(v)
	}
	e.dispatch()
}

// dispatch starts the persistence call for the current value, superseding
// any call still in flight.
func (e *UpdateEngine[T]) dispatch() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.equal != nil && e.state != StateUpdating && e.equal(e.current, e.original) {
		e.mu.Unlock()
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.seq++
	seq := e.seq
	e.state = StateUpdating
	sent := e.current
	method, endpoint := e.method, e.endpoint
	body := e.payload(sent)
	e.mu.Unlock()

	go func() {
		env, err := e.client.Do(ctx, method, endpoint, body)
		e.settle(ctx, seq, sent, env, err)
	}()
}

// settle reconciles the outcome of one persistence call. Aborted and
// superseded calls leave state untouched.
func (e *UpdateEngine[T]) settle(ctx context.Context, seq uint64, sent T, env *restapi.Envelope, err error) {
	if ctx.Err() != nil || restapi.IsAborted(err) {
		return
	}

	e.mu.Lock()
	if e.closed || seq != e.seq {
		e.mu.Unlock()
		return
	}
	e.cancel = nil

	if err != nil {
		// Rollback completes before the error is surfaced.
		e.current = e.original
		e.state = StateRolledBack
		e.lastErr = err
		rolled := e.current
		onChange, onError := e.onChange, e.onError
		logger := e.logger
		e.mu.Unlock()

		if logger != nil {
			logger.Debug("update rolled back", "endpoint", e.endpoint, "error", err)
		}
		if onChange != nil {
			onChange(rolled)
		}
		if onError != nil {
			onError(err)
		}
		return
	}

	confirmed := sent
	if env != nil && len(env.Data) > 0 {
		if v, ok := e.confirm(env.Data); ok {
			confirmed = v
		}
	}
	e.current = confirmed
	e.original = confirmed
	e.state = StateConfirmed
	e.lastErr = nil
	onChange := e.onChange
	e.mu.Unlock()

	if onChange != nil {
		onChange(confirmed)
	}
}

// Value returns the value the UI should display right now.
func (e *UpdateEngine[T]) Value() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Confirmed returns the last server-confirmed value.
func (e *UpdateEngine[T]) Confirmed() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.original
}

// State returns the engine's current reconciliation state.
func (e *UpdateEngine[T]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InFlight reports whether a persistence call is in flight.
func (e *UpdateEngine[T]) InFlight() bool {
	return e.State() == StateUpdating
}

// Err returns the failure recorded by the last settled call, or nil.
func (e *UpdateEngine[T]) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Reset restores the current value to the last confirmed one, clears the
// error, and abandons any pending or in-flight call.
func (e *UpdateEngine[T]) Reset() {
	e.mu.Lock()
	e.abandonLocked()
	e.current = e.original
	e.lastErr = nil
	e.state = StateIdle
	v := e.current
	onChange := e.onChange
	e.mu.Unlock()

	if onChange != nil {
		onChange(v)
	}
}

// Rebase re-baselines both the current and the confirmed value to fresh
// server data, discarding any unconfirmed local edit.
func (e *UpdateEngine[T]) Rebase(v T) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.abandonLocked()
	e.current = v
	e.original = v
	e.lastErr = nil
	e.state = StateIdle
	onChange := e.onChange
	e.mu.Unlock()

	if onChange != nil {
		onChange(v)
	}
}

// Flush fires a pending debounced call immediately, if one is scheduled.
func (e *UpdateEngine[T]) Flush() {
	e.mu.Lock()
	t := e.timer
	e.timer = nil
	e.mu.Unlock()

	if t != nil && t.Stop() {
		e.dispatch()
	}
}

// Close aborts any in-flight call and makes the engine inert. Use it when
// the owning component goes away so a late settlement can never mutate
// state afterwards.
func (e *UpdateEngine[T]) Close() {
	e.mu.Lock()
	e.abandonLocked()
	e.closed = true
	e.mu.Unlock()
}

// abandonLocked stops the debounce timer, aborts the in-flight call, and
// orphans its settlement. Caller holds e.mu.
func (e *UpdateEngine[T]) abandonLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.seq++
}

// decodeInto is the default confirmation parser: unmarshal data into T.
func decodeInto[T any](data json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// decodeField extracts one named field of an object-shaped data payload
// into T. Missing fields and shape mismatches report ok=false.
func decodeField[T any](data json.RawMessage, name string) (T, bool) {
	var zero T
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return zero, false
	}
	raw, ok := obj[name]
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

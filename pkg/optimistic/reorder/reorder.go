// Package reorder persists drag-reordered lists.
//
// A Coordinator coalesces the orders produced by a continuous drag gesture
// and sends only the order that exists once the user stops dragging for a
// quiet period. Orders identical to the last persisted one are suppressed
// entirely. On failure the caller receives the last confirmed order so it
// can revert the displayed list, exactly like an update-engine rollback.
//
// The server side of the protocol is a two-phase write inside one
// transaction (displace every row to a high offset, then settle final
// positions) so sibling rows under a uniqueness constraint never collide
// mid-reorder.
package reorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leaseline-dev/leaseline/pkg/debounce"
	"github.com/leaseline-dev/leaseline/pkg/restapi"
)

// DefaultWait is the quiet period after the last drag movement before the
// resulting order is persisted.
const DefaultWait = 300 * time.Millisecond

// Coordinator persists new total orders for one ordered collection.
type Coordinator[ID comparable] struct {
	client    *restapi.Client
	endpoint  string
	onError   func(err error, confirmed []ID)
	onConfirm func([]ID)
	logger    *slog.Logger

	debounced *debounce.Func[[]ID]

	mu        sync.Mutex
	confirmed []ID
	seq       uint64
	cancel    context.CancelFunc
	closed    bool
}

// Option configures a Coordinator.
type Option[ID comparable] func(*coordinatorConfig[ID])

type coordinatorConfig[ID comparable] struct {
	wait      time.Duration
	onError   func(err error, confirmed []ID)
	onConfirm func([]ID)
	logger    *slog.Logger
}

// WithWait sets the quiet period. Zero persists every submitted order
// immediately.
func WithWait[ID comparable](wait time.Duration) Option[ID] {
	return func(c *coordinatorConfig[ID]) {
		c.wait = wait
	}
}

// OnError registers the callback invoked after a rejected reorder, carrying
// the last confirmed order for the caller to revert to.
func OnError[ID comparable](fn func(err error, confirmed []ID)) Option[ID] {
	return func(c *coordinatorConfig[ID]) {
		c.onError = fn
	}
}

// OnConfirm registers the callback invoked after the server accepts an
// order.
func OnConfirm[ID comparable](fn func([]ID)) Option[ID] {
	return func(c *coordinatorConfig[ID]) {
		c.onConfirm = fn
	}
}

// WithLogger sets the structured logger for settlement debug logging.
func WithLogger[ID comparable](logger *slog.Logger) Option[ID] {
	return func(c *coordinatorConfig[ID]) {
		c.logger = logger
	}
}

// New creates a Coordinator for the collection behind endpoint, with initial
// as the order currently persisted server-side.
func New[ID comparable](client *restapi.Client, endpoint string, initial []ID, opts ...Option[ID]) *Coordinator[ID] {
	cfg := coordinatorConfig[ID]{wait: DefaultWait}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Coordinator[ID]{
		client:    client,
		endpoint:  endpoint,
		onError:   cfg.onError,
		onConfirm: cfg.onConfirm,
		logger:    cfg.logger,
		confirmed: append([]ID(nil), initial...),
	}
	c.debounced = debounce.New(cfg.wait, c.send)
	return c
}

// Submit records the order currently displayed. Persistence fires once the
// quiet period passes with no further Submit. Submitting the last persisted
// order cancels any pending write instead of scheduling one.
func (c *Coordinator[ID]) Submit(ids []ID) {
	order := append([]ID(nil), ids...)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if equalOrder(order, c.confirmed) {
		c.mu.Unlock()
		c.debounced.Stop()
		return
	}
	c.mu.Unlock()

	c.debounced.Call(order)
}

// Confirmed returns the last order the server accepted.
func (c *Coordinator[ID]) Confirmed() []ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ID(nil), c.confirmed...)
}

// Close cancels pending and in-flight writes and makes the coordinator
// inert.
func (c *Coordinator[ID]) Close() {
	c.debounced.Stop()
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.mu.Unlock()
}

// send persists one settled order, superseding any write still in flight.
func (c *Coordinator[ID]) send(order []ID) {
	c.mu.Lock()
	if c.closed || equalOrder(order, c.confirmed) {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	go func() {
		_, err := c.client.Put(ctx, c.endpoint, map[string]any{"order": order})
		c.settle(ctx, seq, order, err)
	}()
}

func (c *Coordinator[ID]) settle(ctx context.Context, seq uint64, order []ID, err error) {
	if ctx.Err() != nil || restapi.IsAborted(err) {
		return
	}

	c.mu.Lock()
	if c.closed || seq != c.seq {
		c.mu.Unlock()
		return
	}
	c.cancel = nil

	if err != nil {
		confirmed := append([]ID(nil), c.confirmed...)
		onError := c.onError
		logger := c.logger
		c.mu.Unlock()

		if logger != nil {
			logger.Debug("reorder rejected", "endpoint", c.endpoint, "error", err)
		}
		if onError != nil {
			onError(err, confirmed)
		}
		return
	}

	c.confirmed = order
	onConfirm := c.onConfirm
	c.mu.Unlock()

	if onConfirm != nil {
		onConfirm(append([]ID(nil), order...))
	}
}

func equalOrder[ID comparable](a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

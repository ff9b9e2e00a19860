package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongTimeout  = 60 * time.Second
	feedPingInterval = 50 * time.Second

	// feedSendBuffer is the per-connection event backlog. A client that
	// cannot drain it in time is disconnected rather than allowed to block
	// broadcasts to everyone else.
	feedSendBuffer = 64
)

// Event is one confirmed mutation pushed to feed subscribers. Clients use
// these to re-baseline their optimistic engines with fresh server data.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Feed broadcasts confirmed mutations over websocket connections.
type Feed struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*feedConn]struct{}
	closed bool
}

type feedConn struct {
	ws   *websocket.Conn
	send chan []byte
}

// NewFeed creates an empty feed.
func NewFeed(logger *slog.Logger) *Feed {
	return &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*feedConn]struct{}),
	}
}

// Broadcast delivers an event to every connected subscriber. Subscribers
// with a full backlog are dropped.
func (f *Feed) Broadcast(evt Event) {
	msg, err := json.Marshal(evt)
	if err != nil {
		f.logger.Error("encode feed event", "type", evt.Type, "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		select {
		case c.send <- msg:
		default:
			delete(f.conns, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	c := &feedConn{ws: ws, send: make(chan []byte, feedSendBuffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		ws.Close()
		return
	}
	f.conns[c] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(c)
	f.readLoop(c)
}

// readLoop discards inbound messages; the feed is one-way. It exists to
// notice disconnects and answer pings.
func (f *Feed) readLoop(c *feedConn) {
	defer f.unregister(c)

	c.ws.SetReadLimit(512)
	c.ws.SetReadDeadline(time.Now().Add(feedPongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(feedPongTimeout))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				f.logger.Debug("feed read error", "error", err)
			}
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedConn) {
	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()
	defer c.ws.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.ws.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) unregister(c *feedConn) {
	f.mu.Lock()
	if _, ok := f.conns[c]; ok {
		delete(f.conns, c)
		close(c.send)
	}
	f.mu.Unlock()
	c.ws.Close()
}

// Close disconnects every subscriber and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for c := range f.conns {
		delete(f.conns, c)
		close(c.send)
	}
}

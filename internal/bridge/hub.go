// Package bridge implements the control bridge: a WebSocket endpoint through
// which the external collaborators (extension background, overlay, options
// page) start and stop capture, edit settings, and receive transcripts and
// status updates.
//
// Every connected client receives every broadcast. Each client has a bounded
// send queue; when a client falls behind, messages are dropped for that client
// only and the others are unaffected.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/meetcaption/internal/observe"
)

// Defaults for [Hub] options.
const (
	DefaultQueueDepth   = 64
	DefaultWriteTimeout = 5 * time.Second
	maxInboundBytes     = 64 << 10
)

// Handler receives decoded commands. Only [*Start], [*Stop] and
// [*SettingsSet] reach it; unknown and malformed payloads are logged and
// dropped by the hub. clientID identifies the sender for [Hub.Send].
type Handler interface {
	HandleCommand(ctx context.Context, clientID string, cmd Command)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, clientID string, cmd Command)

// HandleCommand implements [Handler].
func (f HandlerFunc) HandleCommand(ctx context.Context, clientID string, cmd Command) {
	f(ctx, clientID, cmd)
}

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueDepth sets the per-client send queue depth. Values < 1 are ignored.
func WithQueueDepth(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueDepth = n
		}
	}
}

// WithWriteTimeout bounds a single write to a client. Values <= 0 are ignored.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin clients whose Origin host matches one
// of the patterns (see [websocket.AcceptOptions]). Extension pages connect
// with a chrome-extension:// origin and need an entry here.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// Hub accepts bridge connections and fans messages out to them.
// It implements [http.Handler]; mount it at /ws.
type Hub struct {
	handler        Handler
	queueDepth     int
	writeTimeout   time.Duration
	originPatterns []string
	metrics        *observe.Metrics

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

var _ http.Handler = (*Hub)(nil)

// NewHub creates a hub that dispatches commands to handler.
func NewHub(handler Handler, opts ...Option) *Hub {
	h := &Hub{
		handler:      handler,
		queueDepth:   DefaultQueueDepth,
		writeTimeout: DefaultWriteTimeout,
		metrics:      observe.DefaultMetrics(),
		clients:      make(map[string]*client),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type client struct {
	id    string
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// ServeHTTP upgrades the request and serves the client until it disconnects
// or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("bridge: accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxInboundBytes)

	c := &client{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan []byte, h.queueDepth),
		done:  make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(c)

	log := observe.Logger(r.Context()).With("client_id", c.id)
	log.Info("bridge: client connected", "remote", r.RemoteAddr)

	// The request context ends when the handler returns; commands are
	// dispatched on a context that lives as long as the connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, c, log)
	}()

	err = h.readLoop(ctx, c, log)
	c.stop()
	cancel()
	<-writerDone

	status := websocket.CloseStatus(err)
	if h.isClosed() || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		log.Info("bridge: client disconnected")
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	log.Warn("bridge: client connection ended", "err", err)
	_ = conn.Close(websocket.StatusInternalError, "read failed")
}

func (h *Hub) readLoop(ctx context.Context, c *client, log *slog.Logger) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			log.Debug("bridge: ignoring binary message", "bytes", len(data))
			continue
		}
		switch cmd := ParseCommand(data).(type) {
		case *Malformed:
			log.Warn("bridge: malformed command dropped", "err", cmd.Err, "bytes", len(cmd.Raw))
		case *Unknown:
			log.Debug("bridge: unknown command dropped", "type", cmd.Kind)
		default:
			log.Debug("bridge: command", "type", cmd.Type())
			if h.handler != nil {
				h.handler.HandleCommand(ctx, c.id, cmd)
			}
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client, log *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Warn("bridge: write failed, disconnecting client", "err", err)
				c.stop()
				_ = c.conn.Close(websocket.StatusPolicyViolation, "write failed")
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.wg.Add(1)
	h.metrics.BridgeClients.Add(context.Background(), 1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		h.metrics.BridgeClients.Add(context.Background(), -1)
	}
	h.wg.Done()
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every connected client. It never blocks; clients
// whose queue is full miss this message. Returns the number of clients the
// message was queued for.
func (h *Hub) Broadcast(msg Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("bridge: encode %s: %w", msg.MessageType(), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for _, c := range h.clients {
		if h.enqueueLocked(c, data, msg.MessageType()) {
			sent++
		}
	}
	return sent, nil
}

// Send queues msg for a single client. It returns false when the client is
// gone or its queue is full.
func (h *Hub) Send(clientID string, msg Message) (bool, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("bridge: encode %s: %w", msg.MessageType(), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return false, nil
	}
	return h.enqueueLocked(c, data, msg.MessageType()), nil
}

func (h *Hub) enqueueLocked(c *client, data []byte, typ string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		h.metrics.BridgeDrops.Add(context.Background(), 1)
		slog.Debug("bridge: client queue full, message dropped", "client_id", c.id, "type", typ)
		return false
	}
}

// Close disconnects every client and rejects new connections. It waits for
// all client handlers to return or ctx to expire.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
		go func() { _ = c.conn.Close(websocket.StatusGoingAway, "shutting down") }()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: close: %w", ctx.Err())
	}
}

// Package notify delivers branch notifications to connected listeners.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/domain/notify"
	"github.com/xenking/foodorder/pkg/metrics"
)

// HubConfig tunes listener connections.
type HubConfig struct {
	// OutboxSize is the number of messages buffered per listener before it
	// is dropped.
	OutboxSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// PongTimeout must exceed PingInterval.
	PongTimeout time.Duration
	// CheckOrigin validates the Origin of upgrade requests. Nil allows all.
	CheckOrigin func(r *http.Request) bool
}

func (c HubConfig) withDefaults() HubConfig {
	if c.OutboxSize <= 0 {
		c.OutboxSize = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = c.PingInterval * 2
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	return c
}

var _ notify.Sender = (*Hub)(nil)

// Hub fans messages out to the websocket listeners of each branch.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	lg       *zap.Logger

	mu        sync.RWMutex
	listeners map[int64]map[*Listener]struct{}
}

// Listener is one connected websocket peer of a branch.
type Listener struct {
	branchID int64
	conn     *websocket.Conn
	out      chan []byte
	done     chan struct{}
	once     sync.Once
}

// Done is closed when the listener is disconnected.
func (l *Listener) Done() <-chan struct{} { return l.done }

func (l *Listener) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// NewHub creates an empty Hub.
func NewHub(cfg HubConfig, m *metrics.Metrics, lg *zap.Logger) *Hub {
	cfg = cfg.withDefaults()
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		metrics:   m,
		lg:        lg,
		listeners: make(map[int64]map[*Listener]struct{}),
	}
}

// ServeWS upgrades the request and keeps the connection registered for
// branchID until the peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, branchID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	l := h.Subscribe(branchID, conn)
	h.readLoop(l)
}

// Subscribe registers conn as a listener of branchID and starts its writer.
// The caller must keep reading from conn (ServeWS does) so that control
// frames are processed.
func (h *Hub) Subscribe(branchID int64, conn *websocket.Conn) *Listener {
	l := &Listener{
		branchID: branchID,
		conn:     conn,
		out:      make(chan []byte, h.cfg.OutboxSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.listeners[branchID]
	if !ok {
		set = make(map[*Listener]struct{})
		h.listeners[branchID] = set
	}
	set[l] = struct{}{}
	h.mu.Unlock()

	h.metrics.ListenerDelta(1)
	h.lg.Info("Branch listener connected", zap.Int64("branch_id", branchID))

	go h.writeLoop(l)
	return l
}

func (h *Hub) remove(l *Listener) {
	h.mu.Lock()
	set := h.listeners[l.branchID]
	_, ok := set[l]
	if ok {
		delete(set, l)
		if len(set) == 0 {
			delete(h.listeners, l.branchID)
		}
	}
	h.mu.Unlock()

	l.close()
	if ok {
		h.metrics.ListenerDelta(-1)
		h.lg.Info("Branch listener disconnected", zap.Int64("branch_id", l.branchID))
	}
}

// Listeners returns the number of listeners connected for branchID.
func (h *Hub) Listeners(branchID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[branchID])
}

// Send enqueues msg for every listener of branchID. Listeners whose outbox
// is full are disconnected. Send never blocks on a slow peer and never
// fails: a branch without listeners simply misses the message.
func (h *Hub) Send(_ context.Context, branchID int64, msg notify.Message) error {
	var e jx.Encoder
	msg.Encode(&e)
	data := e.Bytes()

	h.mu.RLock()
	targets := make([]*Listener, 0, len(h.listeners[branchID]))
	for l := range h.listeners[branchID] {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.metrics.Notification("no_listener")
		return nil
	}
	for _, l := range targets {
		select {
		case l.out <- data:
			h.metrics.Notification("queued")
		case <-l.done:
		default:
			h.metrics.Notification("dropped")
			h.lg.Warn("Dropping slow branch listener", zap.Int64("branch_id", branchID))
			h.remove(l)
		}
	}
	return nil
}

// Close disconnects every listener.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Listener
	for _, set := range h.listeners {
		for l := range set {
			all = append(all, l)
		}
	}
	h.mu.RUnlock()

	for _, l := range all {
		h.remove(l)
	}
}

func (h *Hub) writeLoop(l *Listener) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	defer h.remove(l)

	for {
		select {
		case <-l.done:
			return
		case data := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := l.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames until the connection fails and keeps the
// read deadline alive on pongs.
func (h *Hub) readLoop(l *Listener) {
	defer h.remove(l)

	l.conn.SetReadLimit(4096)
	_ = l.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})
	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	}
}

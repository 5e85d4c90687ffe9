// Package broadcast fans lock transitions out to real-time websocket viewers.
//
// Each viewer gets its own buffered FIFO queue drained by a dedicated write pump, so
// a slow or dead viewer never delays delivery to the others. Liveness is tracked per
// connection with protocol pings; a viewer silent for longer than ClientTimeout is dropped.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/lock"
)

const (
	DefaultPingInterval  = 5 * time.Second
	DefaultClientTimeout = 10 * time.Second
	defaultQueueSize     = 32
	writeWait            = 5 * time.Second
	maxMessageSize       = 512
)

// Config tunes heartbeats and queueing.
type Config struct {
	PingInterval  time.Duration
	ClientTimeout time.Duration
	QueueSize     int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = DefaultClientTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// StatusSource provides the current lock status atomically with respect to transitions.
// *lock.Coordinator implements it.
type StatusSource interface {
	Watch(ctx context.Context, fn func(lock.Status)) error
}

// Hub is the registry of live subscribers. It implements lock.Publisher.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	source StatusSource

	// OnCountChange, if set, is called with the new subscriber count.
	OnCountChange func(int)
}

// NewHub returns an empty hub. Bind must be called before serving connections.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:  log.With().Str("module", "broadcast").Logger(),
		subs: make(map[string]*Subscriber),
	}
}

// Bind sets where late joiners read the current lock status from.
func (h *Hub) Bind(src StatusSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = src
}

type lockFrame struct {
	IsLocked bool `json:"isLocked"`
}

// Frame encodes the wire message sent to viewers.
func Frame(locked bool) []byte {
	b, _ := json.Marshal(lockFrame{IsLocked: locked})
	return b
}

// Publish implements lock.Publisher. It never blocks.
func (h *Hub) Publish(ev lock.Changed) {
	frame := Frame(ev.Locked)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subs {
		if err := sub.TrySend(frame); err != nil {
			h.log.Warn().Err(err).Str("sid", id).Bool("locked", ev.Locked).Msg("frame dropped")
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and serves the connection until it ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if err := h.Serve(r.Context(), conn); err != nil {
		h.log.Error().Err(err).Msg("serve subscriber")
	}
}

// Serve registers conn as a subscriber, sends it the current lock status and
// pumps frames until the connection closes or times out.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) error {
	h.mu.RLock()
	src := h.source
	h.mu.RUnlock()
	if src == nil {
		_ = conn.Close()
		return errors.New("hub has no status source")
	}

	sub := newSubscriber(conn, h.cfg.QueueSize)
	err := src.Watch(ctx, func(st lock.Status) {
		h.add(sub)
		_ = sub.TrySend(Frame(st.IsLocked))
	})
	if err != nil {
		sub.Close()
		return err
	}
	h.log.Info().Str("sid", sub.ID).Msg("subscriber connected")

	go h.writePump(sub)
	h.readPump(sub)
	return nil
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) add(sub *Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()
	h.countChanged(n)
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		h.countChanged(n)
	}
}

func (h *Hub) countChanged(n int) {
	if h.OnCountChange != nil {
		h.OnCountChange(n)
	}
}

func (h *Hub) writePump(sub *Subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
	}()

	for {
		select {
		case <-sub.done:
			return
		case frame := <-sub.send:
			if err := sub.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.log.Error().Err(err).Str("sid", sub.ID).Msg("writePump set deadline")
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Error().Err(err).Str("sid", sub.ID).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if sub.expired(h.cfg.ClientTimeout) {
				h.log.Info().Str("sid", sub.ID).Msg("heartbeat timed out, disconnecting")
				return
			}
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.log.Warn().Err(err).Str("sid", sub.ID).Msg("ping failed")
				return
			}
		}
	}
}

func (h *Hub) readPump(sub *Subscriber) {
	defer func() {
		h.remove(sub)
		sub.Close()
		h.log.Info().Str("sid", sub.ID).Msg("subscriber disconnected")
	}()

	conn := sub.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		sub.touch()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		sub.touch()
		return pong(conn, []byte(data))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn().Err(err).Str("sid", sub.ID).Msg("readPump read error")
			}
			return
		}
		if mt == websocket.TextMessage && isPing(data) {
			sub.touch()
			if err := pong(conn, nil); err != nil {
				return
			}
			continue
		}
		h.log.Warn().Str("sid", sub.ID).Int("type", mt).Msg("unexpected frame, closing")
		return
	}
}

func pong(conn *websocket.Conn, data []byte) error {
	err := conn.WriteControl(websocket.PongMessage, data, time.Now().Add(writeWait))
	if err == websocket.ErrCloseSent {
		return nil
	}
	return err
}

// isPing reports whether a text frame is the application-level {"type":"PING"}.
func isPing(data []byte) bool {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return false
	}
	return env.Type == "PING"
}

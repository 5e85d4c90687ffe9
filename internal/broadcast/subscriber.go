package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("subscriber closed")
)

// Subscriber is one live websocket viewer of the lock state.
type Subscriber struct {
	ID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	heartbeat atomic.Int64
	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn, queue int) *Subscriber {
	s := &Subscriber{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
	s.touch()
	return s
}

// TrySend queues a frame without blocking.
func (s *Subscriber) TrySend(frame []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// LastHeartbeat is the time of the last ping, pong or PING frame from the client.
func (s *Subscriber) LastHeartbeat() time.Time {
	return time.Unix(0, s.heartbeat.Load())
}

func (s *Subscriber) touch() {
	s.heartbeat.Store(time.Now().UnixNano())
}

func (s *Subscriber) expired(timeout time.Duration) bool {
	return time.Since(s.LastHeartbeat()) > timeout
}

// Close tears the connection down. Safe to call more than once.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// Done is closed once the subscriber has been closed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

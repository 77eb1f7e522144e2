package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/logging"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20 // 1 MiB, per spec's maxBufferSize default
	sendBufferSize = 32
)

// connState is this connection's position in the dispatcher's state machine:
// UNBOUND -> (join) -> WAITING or ACTIVE -> CLOSED.
type connState int

const (
	stateUnbound connState = iota
	stateWaiting
	stateActive
	stateClosed
)

// Client binds one WebSocket connection to at most one Participant or one
// WaitingParticipant at a time. It implements registry.Socket so the
// registry can address it without knowing about gorilla/websocket.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	state         connState
	roomID        string
	participantID string
	waitingID     string

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		state:  stateUnbound,
		closed: make(chan struct{}),
	}
}

// Send implements registry.Socket. It never blocks: a client that cannot
// keep up with its own buffer has this frame dropped rather than stalling
// the broadcaster. send is never closed (only closed is, by Close), so this
// never races a concurrent Close into a send-on-closed-channel panic; the
// recover below is a safety net matching the teacher's SendProto guard.
func (c *Client) Send(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "recovered from panic sending to client", zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		logging.Warn(context.Background(), "dropping outbound frame, client send buffer full")
		return nil
	}
}

// Close implements registry.Socket. Only closed is closed here — never
// send — since other goroutines (registry broadcast/sendTo) may still be
// writing to send lock-free; closing a channel they send on would panic.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// IsOpen implements registry.Socket.
func (c *Client) IsOpen() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *Client) getState() (connState, string, string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.roomID, c.participantID, c.waitingID
}

func (c *Client) bindActive(roomID, participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateActive
	c.roomID = roomID
	c.participantID = participantID
	c.waitingID = ""
}

func (c *Client) bindWaiting(roomID, waitingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateWaiting
	c.roomID = roomID
	c.waitingID = waitingID
	c.participantID = ""
}

func (c *Client) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateClosed
	c.roomID = ""
	c.participantID = ""
	c.waitingID = ""
}

// writePump drains the send channel to the underlying socket until the
// client is closed. It is the only goroutine that writes to conn, per
// gorilla/websocket's concurrency contract.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.closed:
			// Drain whatever was already queued before Close (e.g. a kick or
			// reject envelope sent just ahead of it) so it still goes out.
			for {
				select {
				case data := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

func (c *Client) configureConn() {
	c.conn.SetReadLimit(maxMessageSize)
}

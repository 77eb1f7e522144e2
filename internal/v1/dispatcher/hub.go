// Package dispatcher attaches incoming WebSocket connections to the room
// registry and routes each inbound envelope per its type.
package dispatcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/logging"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/metrics"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/protocol"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/ratelimit"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/registry"
	"go.uber.org/zap"
)

// Hub upgrades incoming connections and owns the dispatch loop for each.
// It holds no room state itself — only weak (lookup) references via Client
// bindings — the registry remains the single source of truth.
type Hub struct {
	registry       *registry.Registry
	connLimiter    *ratelimit.ConnLimiter
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

// New creates a Hub bound to reg, gating new connections with connLimiter
// (may be nil to disable rate limiting) and restricting the WebSocket
// handshake to allowedOrigins (comma-separated list; empty allows any).
func New(reg *registry.Registry, connLimiter *ratelimit.ConnLimiter, allowedOrigins string) *Hub {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins[o] = true
		}
	}

	h := &Hub{
		registry:       reg,
		connLimiter:    connLimiter,
		allowedOrigins: origins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return h.allowedOrigins[origin]
}

// ServeWs handles GET /ws: rate-limits the attempt, upgrades the connection,
// and launches the per-connection read/write pumps.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.connLimiter != nil && !h.connLimiter.Allow(ctx, r) {
		// Framing/rate-limit errors are silent: the connection is closed with
		// no HTTP response and no envelope. A writer that cannot be hijacked
		// gets a bare 429 status with no body instead.
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn)
	client.configureConn()

	metrics.IncConnection()
	go client.writePump()
	go h.readPump(client)
}

// readPump reads frames from the client in order and dispatches each to the
// appropriate handler. Inbound processing for one socket is strictly
// sequential by construction: this loop never parallelizes its own reads.
func (h *Hub) readPump(c *Client) {
	defer h.handleDisconnect(c)
	defer metrics.DecConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(c, raw)
	}
}

func (h *Hub) handleFrame(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(context.Background(), "recovered from panic handling inbound frame", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	env, err := protocol.Decode(raw)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("unknown", "decode_error").Inc()
		_, roomID, participantID, _ := c.getState()
		c.sendError(roomID, participantID, "Invalid message format", "")
		return
	}

	h.routeEnvelope(c, env)

	metrics.WebsocketEvents.WithLabelValues(string(env.Type), "ok").Inc()
	metrics.MessageProcessingDuration.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())
}

// routeEnvelope enforces the UNBOUND/WAITING/ACTIVE state machine before
// handing off to the type-specific handler.
func (h *Hub) routeEnvelope(c *Client, env *protocol.Envelope) {
	state, roomID, participantID, _ := c.getState()

	if env.Type == protocol.TypeJoin {
		if state != stateUnbound {
			return
		}
		h.handleJoin(c, env)
		return
	}

	switch state {
	case stateUnbound:
		c.sendError("", "", "Not joined to a room", "")
		return
	case stateWaiting:
		// Only socket close is meaningful while waiting; everything else is ignored.
		return
	case stateClosed:
		return
	}

	// stateActive from here on.
	switch env.Type {
	case protocol.TypeLeave:
		h.handleDisconnect(c)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate,
		protocol.TypeFileOffer, protocol.TypeFileAnswer, protocol.TypeFileChunk,
		protocol.TypeQualityChange:
		h.handleRelay(c, roomID, participantID, env)
	case protocol.TypeChat:
		h.handleChat(c, roomID, participantID, env)
	case protocol.TypeParticipantUpd:
		h.handleParticipantUpdated(c, roomID, participantID, env)
	case protocol.TypeRaiseHand:
		h.handleHandRaise(roomID, participantID, true)
	case protocol.TypeLowerHand:
		h.handleHandRaise(roomID, participantID, false)
	case protocol.TypeModeratorAction:
		h.handleModeratorAction(c, roomID, participantID, env)
	case protocol.TypeRoomLocked:
		h.handleLockToggle(c, roomID, participantID, true)
	case protocol.TypeRoomUnlocked:
		h.handleLockToggle(c, roomID, participantID, false)
	case protocol.TypeAdmitUser:
		h.handleAdmit(c, roomID, participantID, env)
	case protocol.TypeRejectUser:
		h.handleReject(c, roomID, participantID, env)
	}
}

// handleDisconnect clears whatever this socket was bound to and performs the
// associated cleanup and notification. Idempotent: calling it more than
// once (e.g. once for an explicit "leave" and again on socket close)
// produces exactly one participant-left observation per remaining peer,
// since the second call finds nothing still bound.
func (h *Hub) handleDisconnect(c *Client) {
	state, roomID, participantID, waitingID := c.getState()
	c.unbind()
	_ = c.Close()

	switch state {
	case stateActive:
		removed, promotedID, _ := h.registry.RemoveParticipant(roomID, participantID)
		if removed == nil {
			return
		}
		h.registry.Broadcast(roomID, h.encode(buildParticipantLeft(roomID, participantID)), "")
		if promotedID != "" {
			if p, ok := h.registry.GetParticipantSnapshot(roomID, promotedID); ok {
				h.registry.Broadcast(roomID, h.encode(buildParticipantUpdated(p)), "")
			}
		}
	case stateWaiting:
		h.registry.RejectFromWaitingRoom(roomID, waitingID)
	}
}

func (h *Hub) encode(env *protocol.Envelope) []byte {
	data, err := protocol.Encode(env)
	if err != nil {
		return nil
	}
	return data
}

func (c *Client) sendError(roomID, participantID, message, code string) {
	data, err := protocol.Encode(&protocol.Envelope{
		Type:          protocol.TypeError,
		RoomID:        roomID,
		ParticipantID: participantID,
		Timestamp:     time.Now().UnixMilli(),
		Message:       message,
		Code:          code,
	})
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func mintID() string {
	return uuid.New().String()
}

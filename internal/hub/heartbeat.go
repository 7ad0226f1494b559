package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stopbars/realtime/internal/protocol"
)

// heartbeatLoop drives liveness for one socket: a server HEARTBEAT
// every interval, eviction after the timeout, and an identity
// revalidation on every second tick. Revalidation failures only ever
// affect this socket.
func (s *Session) heartbeatLoop() {
	h := s.hub
	ticker := time.NewTicker(h.cfg.HeartbeatInterval())
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		tick++
		if h.now()-s.lastHeartbeatMs.Load() > int64(h.cfg.HeartbeatTimeoutMs) {
			slog.Info("evicting silent socket",
				"airport", s.airport, "user_id", s.userID)
			s.closeWith(websocket.CloseGoingAway, "heartbeat_timeout")
			return
		}

		if tick%2 == 0 && !h.revalidate(s) {
			return
		}

		s.reply(&protocol.Packet{Type: protocol.TypeHeartbeat})
	}
}

// revalidate re-checks the session against the identity oracle.
// Returns false when the session was closed. Oracle transport failures
// degrade to "unknown" and leave the session alone; only a definite
// ban, absence, or role change evicts.
func (h *Hub) revalidate(s *Session) bool {
	ctx, cancel := h.lookupContext()
	defer cancel()

	banned, err := h.deps.Oracle.IsBanned(ctx, s.userID)
	if err != nil {
		slog.Warn("ban revalidation failed, keeping session",
			"airport", s.airport, "user_id", s.userID, "error", err)
	} else if banned {
		s.reply(protocol.NewError("banned"))
		s.closeWith(websocket.CloseNormalClosure, "banned")
		return false
	}

	st, err := h.deps.Oracle.Status(ctx, s.userID)
	if err != nil {
		slog.Warn("status revalidation failed, keeping session",
			"airport", s.airport, "user_id", s.userID, "error", err)
		return true
	}
	if st == nil {
		s.reply(protocol.NewError("not_on_network"))
		s.closeWith(websocket.CloseNormalClosure, "not_on_network")
		return false
	}
	if classify(st) != s.kind {
		s.reply(protocol.NewError("role_changed"))
		s.closeWith(websocket.CloseNormalClosure, "role_changed")
		return false
	}
	return true
}

func (h *Hub) lookupContext() (context.Context, context.CancelFunc) {
	timeout := h.cfg.IdentityTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

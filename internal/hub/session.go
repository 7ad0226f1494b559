package hub

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stopbars/realtime/internal/identity"
)

// ClientKind is the role a socket holds for the lifetime of its session.
type ClientKind string

const (
	KindController ClientKind = "controller"
	KindPilot      ClientKind = "pilot"
	KindObserver   ClientKind = "observer"
)

// observerSuffix marks ATC positions that watch without controlling.
const observerSuffix = "_OBS"

// classify derives the session role from live network status. ATC
// callsigns ending in _OBS are observers; everything non-ATC is a pilot.
func classify(st *identity.Status) ClientKind {
	if st.Kind == identity.KindATC {
		if strings.HasSuffix(st.Callsign, observerSuffix) {
			return KindObserver
		}
		return KindController
	}
	return KindPilot
}

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Session is the per-socket record. The read pump and heartbeat loop
// are the only goroutines touching the connection reader and the
// session's liveness clock; all outbound frames funnel through the
// send channel into the write pump.
type Session struct {
	hub  *Hub
	conn *websocket.Conn

	userID   string
	callsign string
	kind     ClientKind
	airport  string

	send chan []byte
	done chan struct{}
	once sync.Once

	lastHeartbeatMs atomic.Int64
}

func newSession(h *Hub, conn *websocket.Conn, userID, callsign string, kind ClientKind) *Session {
	s := &Session{
		hub:      h,
		conn:     conn,
		userID:   userID,
		callsign: callsign,
		kind:     kind,
		airport:  h.airport,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	s.lastHeartbeatMs.Store(h.now())
	return s
}

// touch refreshes the liveness clock. Called for every inbound frame.
func (s *Session) touch() {
	s.lastHeartbeatMs.Store(s.hub.now())
}

// enqueue hands a serialized frame to the write pump without blocking.
// A full buffer means the client is not draining; the frame is dropped
// and logged, never allowed to stall a broadcast.
func (s *Session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	case <-s.done:
	default:
		droppedFrames.Inc()
		slog.Warn("send buffer full, dropping frame",
			"airport", s.airport, "user_id", s.userID)
	}
}

// closeWith tears the session down exactly once: close frame with the
// given reason, socket close, hub unregistration.
func (s *Session) closeWith(code int, reason string) {
	s.once.Do(func() {
		// Give the write pump a moment to flush queued frames, e.g. the
		// ERROR packet that precedes an eviction.
		deadline := time.Now().Add(250 * time.Millisecond)
		for len(s.send) > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		msg := websocket.FormatCloseMessage(code, reason)
		// WriteControl is safe concurrently with the write pump.
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			slog.Debug("close frame write failed", "airport", s.airport, "user_id", s.userID, "error", err)
		}
		close(s.done)
		s.conn.Close()
		s.hub.dropSession(s)
	})
}

// writePump owns every data write on the connection.
func (s *Session) writePump() {
	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Warn("socket write failed", "airport", s.airport, "user_id", s.userID, "error", err)
				s.closeWith(websocket.CloseAbnormalClosure, "write_failed")
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump owns every read. Each frame refreshes liveness and goes to
// the hub dispatcher.
func (s *Session) readPump() {
	defer s.closeWith(websocket.CloseNormalClosure, "")

	// Keep the transport limit well above the codec's size cap so an
	// oversized packet is answered with an ERROR instead of tearing the
	// socket down; the hard limit only stops grossly abusive frames.
	limit := int64(s.hub.limits.MaxPacketChars) * 4
	if limit < 1<<20 {
		limit = 1 << 20
	}
	s.conn.SetReadLimit(limit)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("socket read failed", "airport", s.airport, "user_id", s.userID, "error", err)
			}
			return
		}
		s.touch()
		s.hub.handleFrame(s, payload)
	}
}

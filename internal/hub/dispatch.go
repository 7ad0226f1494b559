package hub

import (
	"errors"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/stopbars/realtime/internal/analytics"
	"github.com/stopbars/realtime/internal/merge"
	"github.com/stopbars/realtime/internal/protocol"
	"github.com/stopbars/realtime/internal/store"
)

// handleFrame validates and dispatches one inbound frame. Per-packet
// failures answer with an ERROR packet on the originating socket; the
// socket only closes for CLOSE and frame-level failures in the reader.
func (h *Hub) handleFrame(s *Session, payload []byte) {
	pkt, err := protocol.Decode(payload, h.limits)
	if err != nil {
		packetsTotal.WithLabelValues("invalid", "rejected").Inc()
		s.reply(protocol.NewError(err.Error()))
		return
	}

	if pkt.Airport != "" && !strings.EqualFold(pkt.Airport, h.airport) {
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError("invalid_packet: airport does not match this connection"))
		return
	}

	switch pkt.Type {
	case protocol.TypeHeartbeat:
		s.reply(&protocol.Packet{Type: protocol.TypeHeartbeatAck})

	case protocol.TypeGetState:
		h.handleGetState(s, pkt)

	case protocol.TypeStateUpdate:
		h.handleStateUpdate(s, pkt)

	case protocol.TypeSharedStateUpdate:
		h.handleSharedStateUpdate(s, pkt)

	case protocol.TypeStopbarCrossing:
		h.handleStopbarCrossing(s, pkt)

	case protocol.TypeClose:
		packetsTotal.WithLabelValues(string(pkt.Type), "ok").Inc()
		s.closeWith(websocket.CloseNormalClosure, "closed")
		return
	}
}

// reply encodes and enqueues a packet to one session.
func (s *Session) reply(pkt *protocol.Packet) {
	if pkt.Airport == "" && pkt.Type != protocol.TypeHeartbeatAck && pkt.Type != protocol.TypeError {
		pkt.Airport = s.airport
	}
	frame, err := protocol.Encode(pkt)
	if err != nil {
		return
	}
	s.enqueue(frame)
}

func (h *Hub) handleGetState(s *Session, pkt *protocol.Packet) {
	packetsTotal.WithLabelValues(string(pkt.Type), "ok").Inc()

	requestedAt := pkt.Timestamp
	if requestedAt == 0 {
		requestedAt = h.now()
	}

	h.mu.Lock()
	online := len(h.state.Controllers) > 0
	var objects []*Object
	if online {
		objects = cloneObjects(h.state.objectList())
	}
	sharedSnap := merge.Clone(h.shared)
	h.mu.Unlock()

	if !online {
		ctx, cancel := h.lookupContext()
		objects = offlineBaseline(ctx, h.deps.Catalogue, h.airport, h.now())
		cancel()
	}

	s.reply(&protocol.Packet{
		Type:    protocol.TypeStateSnapshot,
		Airport: h.airport,
		Data: map[string]interface{}{
			"objects":     objects,
			"sharedState": sharedSnap,
			"offline":     !online,
			"requestedAt": requestedAt,
		},
	})
}

func (h *Hub) handleStateUpdate(s *Session, pkt *protocol.Packet) {
	if s.kind != KindController {
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError("not_authorized_for_packet"))
		return
	}

	su, err := pkt.StateUpdate()
	if err != nil {
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError(err.Error()))
		return
	}

	nowMs := h.now()

	h.mu.Lock()
	obj := h.state.Objects[su.ObjectID]
	if obj == nil {
		obj = &Object{ID: su.ObjectID}
		h.state.Objects[su.ObjectID] = obj
	}

	if su.Patch != nil {
		// Patch target defaults to an empty object when the object is
		// new or currently holds a boolean.
		target, _ := obj.State.(map[string]interface{})
		merged, err := merge.Merge(target, su.Patch, h.limits.Guards)
		if err != nil {
			if obj.State == nil && obj.ControllerID == "" {
				delete(h.state.Objects, su.ObjectID)
			}
			h.mu.Unlock()
			mergeRejections.Inc()
			packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
			if errors.Is(err, merge.ErrGuard) {
				s.reply(protocol.NewError("merge_failed: " + err.Error()))
			} else {
				s.reply(protocol.NewError(err.Error()))
			}
			return
		}
		obj.State = merged
	} else {
		obj.State = su.State
	}

	obj.ControllerID = s.userID
	obj.UpdatedAt = nowMs
	h.state.LastUpdateAt = nowMs

	stateFrame := h.marshalStateLocked()
	broadcast, encErr := protocol.Encode(&protocol.Packet{
		Type:    protocol.TypeStateUpdate,
		Airport: h.airport,
		Data:    pkt.Data,
	})
	if encErr == nil {
		h.enqueueAllLocked(broadcast, s)
	}
	h.mu.Unlock()

	packetsTotal.WithLabelValues(string(pkt.Type), "ok").Inc()
	h.enqueuePersist(store.StateKey(h.airport), stateFrame)
	h.deps.Analytics.Record(analytics.Event{
		Type:    analytics.EventStateUpdate,
		Airport: h.airport,
		UserID:  s.userID,
		Data:    map[string]interface{}{"objectId": su.ObjectID},
	})
}

func (h *Hub) handleSharedStateUpdate(s *Session, pkt *protocol.Packet) {
	if s.kind != KindController {
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError("not_authorized_for_packet"))
		return
	}

	patch, err := pkt.SharedStatePatch()
	if err != nil {
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError(err.Error()))
		return
	}

	h.mu.Lock()
	merged, err := merge.Merge(h.shared, patch, h.limits.Guards)
	if err != nil {
		h.mu.Unlock()
		mergeRejections.Inc()
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError("merge_failed: " + err.Error()))
		return
	}
	h.shared = merged
	h.state.LastUpdateAt = h.now()

	sharedFrame := h.marshalSharedLocked()
	// Shared-state updates fan out to every socket, the sender
	// included, so all clients converge on the same scratchpad.
	broadcast, encErr := protocol.Encode(&protocol.Packet{
		Type:    protocol.TypeSharedStateUpdate,
		Airport: h.airport,
		Data: map[string]interface{}{
			"sharedStatePatch": patch,
			"controllerId":     s.userID,
		},
	})
	if encErr == nil {
		h.enqueueAllLocked(broadcast, nil)
	}
	h.mu.Unlock()

	packetsTotal.WithLabelValues(string(pkt.Type), "ok").Inc()
	h.enqueuePersist(store.SharedStateKey(h.airport), sharedFrame)
	h.deps.Analytics.Record(analytics.Event{
		Type:    analytics.EventSharedState,
		Airport: h.airport,
		UserID:  s.userID,
	})
}

func (h *Hub) handleStopbarCrossing(s *Session, pkt *protocol.Packet) {
	if s.kind != KindPilot {
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError("not_authorized_for_packet"))
		return
	}

	objectID, err := pkt.CrossingObjectID()
	if err != nil {
		packetsTotal.WithLabelValues(string(pkt.Type), "rejected").Inc()
		s.reply(protocol.NewError(err.Error()))
		return
	}

	// Crossings are visible to controllers only; no state is mutated.
	broadcast, encErr := protocol.Encode(&protocol.Packet{
		Type:    protocol.TypeStopbarCrossing,
		Airport: h.airport,
		Data: map[string]interface{}{
			"objectId":     objectID,
			"controllerId": s.userID,
		},
	})
	if encErr == nil {
		h.mu.Lock()
		h.enqueueKindLocked(broadcast, KindController, nil)
		h.mu.Unlock()
	}

	packetsTotal.WithLabelValues(string(pkt.Type), "ok").Inc()
	h.deps.Analytics.Record(analytics.Event{
		Type:    analytics.EventStopbarCrossing,
		Airport: h.airport,
		UserID:  s.userID,
		Data:    map[string]interface{}{"objectId": objectID},
	})
}

// Package hub implements the per-airport realtime state machine: the
// authoritative object map, session registry, packet dispatch,
// broadcast fan-out, heartbeat/revalidation, staleness, and
// best-effort persistence.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stopbars/realtime/internal/analytics"
	"github.com/stopbars/realtime/internal/catalogue"
	"github.com/stopbars/realtime/internal/config"
	"github.com/stopbars/realtime/internal/directory"
	"github.com/stopbars/realtime/internal/identity"
	"github.com/stopbars/realtime/internal/merge"
	"github.com/stopbars/realtime/internal/protocol"
	"github.com/stopbars/realtime/internal/store"
)

// Deps are the process-wide collaborators injected into every hub.
type Deps struct {
	Oracle    identity.Oracle
	Directory directory.Directory
	Catalogue catalogue.Catalogue
	Store     store.StateStore
	Active    store.ActiveHubs
	Analytics analytics.Recorder
}

// Hub owns one airport. Every mutation of its state, shared scratchpad
// and session set is serialized through mu; collaborator calls (store,
// oracle, catalogue) happen off the lock.
type Hub struct {
	airport string
	hubID   string
	cfg     config.HubConfig
	limits  protocol.Limits
	deps    Deps

	// now is the millisecond clock, swappable in tests.
	now func() int64

	mu       sync.Mutex
	sessions map[*Session]struct{}
	state    *airportState
	shared   map[string]interface{}
	// stopped marks a hub that has decided to retire; no new session may
	// land on it afterwards.
	stopped bool

	lastActiveUpsertMs int64
	persistSeq         uint64

	persistCh chan persistReq
	stop      chan struct{}
	stopOnce  sync.Once

	// onEmpty is invoked (off-lock) after the last session leaves so
	// the registry can drop the hub.
	onEmpty func(*Hub)
}

type persistReq struct {
	key  string
	data []byte
	seq  uint64
}

func newHub(airport string, cfg config.HubConfig, limits protocol.Limits, deps Deps, onEmpty func(*Hub)) *Hub {
	h := &Hub{
		airport:   airport,
		hubID:     uuid.NewString(),
		cfg:       cfg,
		limits:    limits,
		deps:      deps,
		now:       func() int64 { return time.Now().UnixMilli() },
		sessions:  make(map[*Session]struct{}),
		shared:    map[string]interface{}{},
		persistCh: make(chan persistReq, 32),
		stop:      make(chan struct{}),
		onEmpty:   onEmpty,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.state = loadAirportState(ctx, deps.Store, airport, h.now())
	h.shared = loadSharedState(ctx, deps.Store, airport)

	go h.persistLoop()
	go h.staleLoop()
	return h
}

// Airport returns the hub's partition key.
func (h *Hub) Airport() string { return h.airport }

// counts reports connected sessions by kind. Callers hold mu.
func (h *Hub) countsLocked() (controllers, pilots, observers int) {
	for s := range h.sessions {
		switch s.kind {
		case KindController:
			controllers++
		case KindPilot:
			pilots++
		case KindObserver:
			observers++
		}
	}
	return
}

// attach registers an authenticated, upgraded socket and delivers its
// INITIAL_STATE. The session's pumps and heartbeat loop are started
// here. Returns false when the hub has already decided to retire; the
// caller must re-route to a live instance.
func (h *Hub) attach(s *Session) bool {
	// Staleness is evaluated lazily on every new connection so a pilot
	// arriving after controllers left long ago sees the offline view.
	h.staleCleanup()

	nowMs := h.now()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.sessions[s] = struct{}{}
	sessionsGauge.WithLabelValues(h.airport, string(s.kind)).Inc()

	var stateFrame []byte
	if s.kind == KindController {
		h.state.Controllers[s.userID] = struct{}{}
		stateFrame = h.marshalStateLocked()

		if frame, err := protocol.Encode(&protocol.Packet{
			Type:    protocol.TypeControllerConnect,
			Airport: h.airport,
			Data:    map[string]interface{}{"controllerId": s.userID},
		}); err == nil {
			h.enqueueAllLocked(frame, s)
		}
	}

	online := len(h.state.Controllers) > 0
	live := s.kind == KindController || online
	var objects []*Object
	if live {
		objects = cloneObjects(h.state.objectList())
	}
	sharedSnap := merge.Clone(h.shared)
	h.mu.Unlock()

	if stateFrame != nil {
		h.enqueuePersist(store.StateKey(h.airport), stateFrame)
	}
	if !live {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		objects = offlineBaseline(ctx, h.deps.Catalogue, h.airport, nowMs)
		cancel()
	}

	if frame, err := protocol.Encode(&protocol.Packet{
		Type:    protocol.TypeInitialState,
		Airport: h.airport,
		Data: map[string]interface{}{
			"objects":        objects,
			"connectionType": string(s.kind),
			"offline":        !live,
			"sharedState":    sharedSnap,
		},
	}); err == nil {
		s.enqueue(frame)
	}

	go s.writePump()
	go s.readPump()
	go s.heartbeatLoop()

	h.updateActive(true)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Active.AddConnections(ctx, 1); err != nil {
			slog.Warn("connection counter update failed", "error", err)
		}
	}()
	h.deps.Analytics.Record(analytics.Event{
		Type:    analytics.EventConnect,
		Airport: h.airport,
		UserID:  s.userID,
		Data:    map[string]interface{}{"kind": string(s.kind)},
	})
	return true
}

// dropSession removes a closed session and runs controller-disconnect
// side effects. Called exactly once per session from closeWith.
func (h *Hub) dropSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	sessionsGauge.WithLabelValues(h.airport, string(s.kind)).Dec()

	var stateFrame []byte
	if s.kind == KindController {
		delete(h.state.Controllers, s.userID)

		if frame, err := protocol.Encode(&protocol.Packet{
			Type:    protocol.TypeControllerDisconnect,
			Airport: h.airport,
			Data:    map[string]interface{}{"controllerId": s.userID},
		}); err == nil {
			h.enqueueAllLocked(frame, nil)
		}

		if len(h.state.Controllers) == 0 {
			// Start the stale clock from the moment the airport went
			// uncontrolled.
			h.state.LastUpdateAt = h.now()
		}
		stateFrame = h.marshalStateLocked()
	}
	empty := len(h.sessions) == 0
	if empty {
		// The retire decision is made under the lock so a concurrent
		// attach cannot land on a hub whose loops are shutting down.
		h.stopped = true
	}
	h.mu.Unlock()

	if stateFrame != nil {
		h.enqueuePersist(store.StateKey(h.airport), stateFrame)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Active.AddConnections(ctx, -1); err != nil {
			slog.Warn("connection counter update failed", "error", err)
		}
	}()
	h.deps.Analytics.Record(analytics.Event{
		Type:    analytics.EventDisconnect,
		Airport: h.airport,
		UserID:  s.userID,
		Data:    map[string]interface{}{"kind": string(s.kind)},
	})

	if empty {
		h.retire()
	} else {
		h.updateActive(false)
	}
}

// isStopped reports whether the hub has decided to retire.
func (h *Hub) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// closeAll evicts every session, used at process shutdown.
func (h *Hub) closeAll(code int, reason string) {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.closeWith(code, reason)
	}
}

// retire tears the hub down once nobody is connected: the active-hub
// row is removed promptly and the registry forgets the instance.
func (h *Hub) retire() {
	h.stopOnce.Do(func() { close(h.stop) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.deps.Active.Remove(ctx, h.hubID); err != nil {
		slog.Warn("active hub remove failed", "airport", h.airport, "error", err)
	}
	if h.onEmpty != nil {
		h.onEmpty(h)
	}
}

// enqueueAllLocked fans a frame out to every session except skip.
// Callers hold mu; enqueue never blocks, so holding the lock across
// the fan-out preserves per-hub broadcast order.
func (h *Hub) enqueueAllLocked(frame []byte, skip *Session) {
	n := 0
	for s := range h.sessions {
		if s == skip {
			continue
		}
		s.enqueue(frame)
		n++
	}
	broadcastFanout.Observe(float64(n))
}

// enqueueKindLocked fans a frame out to sessions of one kind only.
func (h *Hub) enqueueKindLocked(frame []byte, kind ClientKind, skip *Session) {
	n := 0
	for s := range h.sessions {
		if s == skip || s.kind != kind {
			continue
		}
		s.enqueue(frame)
		n++
	}
	broadcastFanout.Observe(float64(n))
}

// marshalStateLocked serializes the airport state for persistence and
// assigns it the next write sequence. Callers hold mu.
func (h *Hub) marshalStateLocked() []byte {
	data, err := h.state.marshal()
	if err != nil {
		slog.Warn("airport state marshal failed", "airport", h.airport, "error", err)
		persistFailures.Inc()
		return nil
	}
	return data
}

func (h *Hub) marshalSharedLocked() []byte {
	data, err := json.Marshal(h.shared)
	if err != nil {
		slog.Warn("shared state marshal failed", "airport", h.airport, "error", err)
		persistFailures.Inc()
		return nil
	}
	return data
}

// enqueuePersist hands a serialized blob to the persist worker. Writes
// are best-effort: a full queue drops the request with a warning.
func (h *Hub) enqueuePersist(key string, data []byte) {
	if data == nil {
		return
	}
	if len(data) > h.cfg.MaxStateSize {
		slog.Warn("state blob exceeds persistence cap, skipping write",
			"airport", h.airport, "key", key, "size", len(data))
		persistFailures.Inc()
		return
	}

	h.mu.Lock()
	h.persistSeq++
	req := persistReq{key: key, data: data, seq: h.persistSeq}
	h.mu.Unlock()

	select {
	case h.persistCh <- req:
	default:
		persistFailures.Inc()
		slog.Warn("persist queue full, dropping write", "airport", h.airport, "key", key)
	}
}

// persistLoop applies writes in sequence order, skipping blobs already
// superseded by a newer write for the same key.
func (h *Hub) persistLoop() {
	latest := map[string]uint64{}
	write := func(req persistReq) {
		if req.seq < latest[req.key] {
			return
		}
		latest[req.key] = req.seq
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Store.Put(ctx, req.key, req.data); err != nil {
			persistFailures.Inc()
			slog.Warn("state persist failed", "airport", h.airport, "key", req.key, "error", err)
		}
	}

	for {
		select {
		case req := <-h.persistCh:
			write(req)
		case <-h.stop:
			for {
				select {
				case req := <-h.persistCh:
					write(req)
				default:
					return
				}
			}
		}
	}
}

// staleLoop periodically applies the stale-cleanup policy so an
// airport does not keep a dead object map just because nobody
// reconnects.
func (h *Hub) staleLoop() {
	interval := h.cfg.StaleTTL() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.staleCleanup()
		case <-h.stop:
			return
		}
	}
}

// staleCleanup clears objects and shared state once the airport has
// been uncontrolled for longer than the TTL.
func (h *Hub) staleCleanup() {
	nowMs := h.now()

	h.mu.Lock()
	stale := len(h.state.Controllers) == 0 &&
		nowMs-h.state.LastUpdateAt > int64(h.cfg.StaleTTLMs) &&
		(len(h.state.Objects) > 0 || len(h.shared) > 0)
	var stateFrame, sharedFrame []byte
	if stale {
		h.state.Objects = make(map[string]*Object)
		h.shared = map[string]interface{}{}
		h.state.LastUpdateAt = nowMs
		stateFrame = h.marshalStateLocked()
		sharedFrame = h.marshalSharedLocked()
	}
	h.mu.Unlock()

	if !stale {
		return
	}
	slog.Info("cleared stale airport state", "airport", h.airport)
	h.enqueuePersist(store.StateKey(h.airport), stateFrame)
	h.enqueuePersist(store.SharedStateKey(h.airport), sharedFrame)
	h.deps.Analytics.Record(analytics.Event{
		Type:    analytics.EventStaleCleanup,
		Airport: h.airport,
	})
}

// updateActive upserts this hub's ActiveHubEntry, throttled unless
// forced by a connection-count change.
func (h *Hub) updateActive(force bool) {
	nowMs := h.now()

	h.mu.Lock()
	if !force && nowMs-h.lastActiveUpsertMs < int64(h.cfg.ActiveHubThrottleMs) {
		h.mu.Unlock()
		return
	}
	h.lastActiveUpsertMs = nowMs
	controllers, pilots, observers := h.countsLocked()
	h.mu.Unlock()

	entry := store.ActiveHubEntry{
		HubID:     h.hubID,
		Label:     activeLabel(h.airport, controllers, pilots, observers),
		UpdatedAt: time.UnixMilli(nowMs),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.deps.Active.Upsert(ctx, entry); err != nil {
			slog.Warn("active hub upsert failed", "airport", h.airport, "error", err)
		}
	}()
}

// Snapshot answers the local get_state query for this hub.
func (h *Hub) Snapshot(ctx context.Context, offlineForced bool) SnapshotResult {
	h.mu.Lock()
	res := SnapshotResult{
		Airport:     h.airport,
		Controllers: []string{},
		Pilots:      []string{},
		Objects:     []*Object{},
	}
	for s := range h.sessions {
		switch s.kind {
		case KindController:
			res.Controllers = append(res.Controllers, s.userID)
		case KindPilot:
			res.Pilots = append(res.Pilots, s.userID)
		}
	}
	online := len(h.state.Controllers) > 0
	res.Offline = offlineForced || !online
	if !res.Offline {
		res.Objects = cloneObjects(h.state.objectList())
	}
	h.mu.Unlock()

	if res.Offline {
		res.Objects = offlineBaseline(ctx, h.deps.Catalogue, h.airport, h.now())
	}
	sortStrings(res.Controllers)
	sortStrings(res.Pilots)
	return res
}

// SnapshotResult is the get_state answer shared by the socket path and
// the HTTP façade.
type SnapshotResult struct {
	Airport     string    `json:"airport"`
	Controllers []string  `json:"controllers"`
	Pilots      []string  `json:"pilots"`
	Objects     []*Object `json:"objects"`
	Offline     bool      `json:"offline"`
}

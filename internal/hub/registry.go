package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stopbars/realtime/internal/config"
	"github.com/stopbars/realtime/internal/directory"
	"github.com/stopbars/realtime/internal/protocol"
)

var airportRe = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// ErrInvalidAirport rejects identifiers that are not a 4-character ICAO
// code.
var ErrInvalidAirport = errors.New("invalid_airport")

// Registry maps airports to their single live Hub and owns the
// connection accept gate.
type Registry struct {
	cfg    config.HubConfig
	limits protocol.Limits
	deps   Deps

	upgrader websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRegistry builds the process-wide hub registry.
func NewRegistry(cfg config.HubConfig, limits protocol.Limits, deps Deps) *Registry {
	return &Registry{
		cfg:    cfg,
		limits: limits,
		deps:   deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hubs: make(map[string]*Hub),
	}
}

// route returns the hub for an airport, creating it if missing.
// Creation happens at most once per airport per process; concurrent
// callers converge on the same instance.
func (r *Registry) route(airport string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[airport]; ok && !h.isStopped() {
		return h
	}
	// First connection for this airport: load persisted state and
	// start the hub. Rare enough that doing it under the registry lock
	// keeps creation trivially idempotent.
	h := newHub(airport, r.cfg, r.limits, r.deps, r.forget)
	r.hubs[airport] = h
	return h
}

// forget drops a retired hub, unless the slot was already replaced by
// a newer instance.
func (r *Registry) forget(h *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hubs[h.airport] == h {
		delete(r.hubs, h.airport)
	}
}

// lookup returns the live hub for an airport, if any.
func (r *Registry) lookup(airport string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hubs[airport]
}

// HandleConnect is the socket accept gate: credential checks happen
// before the upgrade, and missing or unknown credentials are rejected
// with a uniform 20–50 ms jitter so the endpoint cannot be used to
// enumerate keys.
func (r *Registry) HandleConnect(w http.ResponseWriter, req *http.Request) {
	airport := strings.ToUpper(req.URL.Query().Get("airport"))
	apiKey := req.URL.Query().Get("apiKey")
	if apiKey == "" {
		if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			apiKey = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if airport == "" || apiKey == "" {
		r.jitterReject(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if !airportRe.MatchString(airport) {
		authRejects.WithLabelValues("invalid_airport").Inc()
		http.Error(w, ErrInvalidAirport.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.IdentityTimeout())
	defer cancel()

	userID, err := r.deps.Directory.ResolveKey(ctx, apiKey)
	if errors.Is(err, directory.ErrUnknownKey) {
		r.jitterReject(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if err != nil {
		slog.Warn("api key resolution failed", "error", err)
		authRejects.WithLabelValues("directory_error").Inc()
		http.Error(w, "service_unavailable", http.StatusServiceUnavailable)
		return
	}

	banned, err := r.deps.Directory.IsBanned(ctx, userID)
	if err != nil {
		slog.Warn("ban lookup failed", "user_id", userID, "error", err)
		authRejects.WithLabelValues("directory_error").Inc()
		http.Error(w, "service_unavailable", http.StatusServiceUnavailable)
		return
	}
	if banned {
		time.Sleep(jitterDelay())
		authRejects.WithLabelValues("banned").Inc()
		http.Error(w, "forbidden: banned", http.StatusForbidden)
		return
	}

	st, err := r.deps.Oracle.Status(ctx, userID)
	if err != nil || st == nil {
		authRejects.WithLabelValues("not_on_network").Inc()
		http.Error(w, "forbidden: not_on_network", http.StatusForbidden)
		return
	}
	kind := classify(st)

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "airport", airport, "error", err)
		return
	}

	slog.Info("session connected",
		"airport", airport, "user_id", userID, "kind", kind, "callsign", st.Callsign)

	// A hub can decide to retire between route and attach; re-route
	// until the session lands on a live instance.
	for {
		h := r.route(airport)
		if h.attach(newSession(h, conn, userID, st.Callsign, kind)) {
			return
		}
	}
}

// jitterReject answers an authentication failure after a uniform delay
// in [20,50) ms. The delay is the anti-enumeration control: timing
// does not reveal whether the airport, key, or account was the
// problem.
func (r *Registry) jitterReject(w http.ResponseWriter, msg string, code int) {
	time.Sleep(jitterDelay())
	authRejects.WithLabelValues(msg).Inc()
	http.Error(w, msg, code)
}

func jitterDelay() time.Duration {
	return time.Duration(20+rand.Intn(30)) * time.Millisecond
}

// Snapshot answers the local get_state query without opening a socket.
func (r *Registry) Snapshot(ctx context.Context, airport string, offlineForced bool) (SnapshotResult, error) {
	airport = strings.ToUpper(airport)
	if !airportRe.MatchString(airport) {
		return SnapshotResult{}, ErrInvalidAirport
	}

	if h := r.lookup(airport); h != nil {
		return h.Snapshot(ctx, offlineForced), nil
	}

	// No live hub: nobody is connected, so the airport reads as
	// offline with the catalogue baseline.
	res := SnapshotResult{
		Airport:     airport,
		Controllers: []string{},
		Pilots:      []string{},
		Offline:     true,
	}
	res.Objects = offlineBaseline(ctx, r.deps.Catalogue, airport, time.Now().UnixMilli())
	return res, nil
}

// SnapshotAll aggregates snapshots for every advertised live hub,
// pruning stale rows as a side effect of the read.
func (r *Registry) SnapshotAll(ctx context.Context) ([]SnapshotResult, error) {
	entries, err := r.deps.Active.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate active hubs: %w", err)
	}

	seen := map[string]bool{}
	var out []SnapshotResult
	for _, entry := range entries {
		airport := labelAirport(entry.Label)
		if airport == "" || seen[airport] {
			continue
		}
		seen[airport] = true

		res, err := r.Snapshot(ctx, airport, false)
		if err != nil {
			slog.Warn("snapshot failed for advertised hub", "label", entry.Label, "error", err)
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Airport < out[j].Airport })
	return out, nil
}

// Shutdown closes every session on every hub with a going-away frame.
// Each hub persists and retires through its normal close path.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		h.closeAll(websocket.CloseGoingAway, "server_shutdown")
	}
}

// activeLabel encodes the advertised row: "<icao>/<ctl>/<pilot>/<obs>".
func activeLabel(airport string, controllers, pilots, observers int) string {
	return fmt.Sprintf("%s/%d/%d/%d", airport, controllers, pilots, observers)
}

func labelAirport(label string) string {
	if i := strings.IndexByte(label, '/'); i > 0 {
		return label[:i]
	}
	return ""
}

func sortStrings(s []string) { sort.Strings(s) }

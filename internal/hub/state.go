package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/stopbars/realtime/internal/catalogue"
	"github.com/stopbars/realtime/internal/merge"
	"github.com/stopbars/realtime/internal/store"
)

// Object is one illuminated airfield element. State is either a bool
// (plain on/off) or a JSON object driven by patches; never an array,
// never null.
type Object struct {
	ID           string      `json:"id"`
	State        interface{} `json:"state"`
	ControllerID string      `json:"controllerId,omitempty"`
	UpdatedAt    int64       `json:"timestamp"`
}

// airportState is the authoritative per-airport object map. Owned by
// exactly one Hub; all access goes through the hub mutex.
type airportState struct {
	Airport      string
	Objects      map[string]*Object
	LastUpdateAt int64
	Controllers  map[string]struct{}
}

func newAirportState(airport string, nowMs int64) *airportState {
	return &airportState{
		Airport:      airport,
		Objects:      make(map[string]*Object),
		LastUpdateAt: nowMs,
		Controllers:  make(map[string]struct{}),
	}
}

// persistedState is the durable layout of airport_state:<icao>.
type persistedState struct {
	Airport     string             `json:"airport"`
	Objects     map[string]*Object `json:"objects"`
	LastUpdate  int64              `json:"lastUpdate"`
	Controllers []string           `json:"controllers"`
}

func (s *airportState) marshal() ([]byte, error) {
	controllers := make([]string, 0, len(s.Controllers))
	for id := range s.Controllers {
		controllers = append(controllers, id)
	}
	sort.Strings(controllers)

	return json.Marshal(persistedState{
		Airport:     s.Airport,
		Objects:     s.Objects,
		LastUpdate:  s.LastUpdateAt,
		Controllers: controllers,
	})
}

// loadAirportState reads a persisted blob, tolerating missing or
// malformed data by starting empty. Persisted controller ids are not
// restored: a restart drops every socket, so nobody is connected.
func loadAirportState(ctx context.Context, st store.StateStore, airport string, nowMs int64) *airportState {
	out := newAirportState(airport, nowMs)

	data, err := st.Get(ctx, store.StateKey(airport))
	if err != nil {
		slog.Warn("airport state load failed, starting empty", "airport", airport, "error", err)
		return out
	}
	if data == nil {
		return out
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		slog.Warn("airport state blob malformed, starting empty", "airport", airport, "error", err)
		return out
	}
	if ps.Objects != nil {
		out.Objects = ps.Objects
	}
	if ps.LastUpdate > 0 {
		out.LastUpdateAt = ps.LastUpdate
	}
	return out
}

// loadSharedState reads airport_shared_state:<icao>, defaulting empty.
func loadSharedState(ctx context.Context, st store.StateStore, airport string) map[string]interface{} {
	data, err := st.Get(ctx, store.SharedStateKey(airport))
	if err != nil || data == nil {
		if err != nil {
			slog.Warn("shared state load failed, starting empty", "airport", airport, "error", err)
		}
		return map[string]interface{}{}
	}

	var shared map[string]interface{}
	if err := json.Unmarshal(data, &shared); err != nil || shared == nil {
		slog.Warn("shared state blob malformed, starting empty", "airport", airport)
		return map[string]interface{}{}
	}
	return shared
}

// objectList returns the objects sorted by id for stable snapshots.
func (s *airportState) objectList() []*Object {
	out := make([]*Object, 0, len(s.Objects))
	for _, obj := range s.Objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// offlineBaseline synthesizes the default object list from the point
// catalogue for an airport nobody is controlling.
func offlineBaseline(ctx context.Context, cat catalogue.Catalogue, airport string, nowMs int64) []*Object {
	points, err := cat.Points(ctx, airport)
	if err != nil {
		slog.Warn("point catalogue lookup failed", "airport", airport, "error", err)
		return []*Object{}
	}

	out := make([]*Object, 0, len(points))
	for _, p := range points {
		out = append(out, &Object{
			ID:        p.ID,
			State:     catalogue.DefaultState(p.Kind),
			UpdatedAt: nowMs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// cloneObjects deep-copies an object list so snapshots handed to
// encoders cannot race with later merges.
func cloneObjects(objs []*Object) []*Object {
	out := make([]*Object, len(objs))
	for i, o := range objs {
		cp := *o
		if m, ok := o.State.(map[string]interface{}); ok {
			cp.State = merge.Clone(m)
		}
		out[i] = &cp
	}
	return out
}

// Package store persists per-airport hub state and the process-shared
// active-hubs table.
package store

import (
	"context"
	"time"
)

// StateStore is the durable key/value port scoped to a hub. A missing
// key reads as (nil, nil); writes are best-effort from the hub's point
// of view.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ActiveHubEntry advertises one live hub to other processes. Label
// encodes "<icao>/<controllers>/<pilots>/<observers>".
type ActiveHubEntry struct {
	HubID     string    `json:"hub_id"`
	Label     string    `json:"label"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PruneHorizon is how stale an ActiveHubEntry may be before readers
// discard (and garbage-collect) it.
const PruneHorizon = 48 * time.Hour

// ActiveHubs is the shared table of live hubs plus the global
// connection counter. Writers upsert by hub id; readers tolerate
// concurrent deletes.
type ActiveHubs interface {
	Upsert(ctx context.Context, entry ActiveHubEntry) error
	Remove(ctx context.Context, hubID string) error

	// Entries returns live rows, pruning anything older than
	// PruneHorizon as a side effect.
	Entries(ctx context.Context) ([]ActiveHubEntry, error)

	// AddConnections adjusts the active_connections counter, which
	// never goes below zero.
	AddConnections(ctx context.Context, delta int64) error
}

// StateKey returns the durable key for an airport's object state.
func StateKey(airport string) string {
	return "airport_state:" + airport
}

// SharedStateKey returns the durable key for an airport's scratchpad.
func SharedStateKey(airport string) string {
	return "airport_shared_state:" + airport
}

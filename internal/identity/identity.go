// Package identity resolves a user's live presence on the network: are
// they connected, under what callsign, and in what capacity.
package identity

import "context"

// Kind is the raw network classification. The hub derives the client
// role (controller/observer/pilot) from Kind plus the callsign.
type Kind string

const (
	KindATC   Kind = "atc"
	KindPilot Kind = "pilot"
)

// Status is a user's live network presence.
type Status struct {
	Callsign string `json:"callsign"`
	Kind     Kind   `json:"type"`
}

// Oracle reports live network status. A nil Status with a nil error
// means the user is not on the network right now.
type Oracle interface {
	// Status looks up the user's current session. Implementations own
	// their timeout. Transport failures are returned as errors so that
	// callers can keep an established session alive through an oracle
	// blip while still refusing new connections.
	Status(ctx context.Context, userID string) (*Status, error)

	// IsBanned reports whether the network has banned the user.
	IsBanned(ctx context.Context, userID string) (bool, error)
}

// Package catalogue exposes the static airfield object inventory used
// to synthesize the offline baseline when no controller is connected.
package catalogue

import "context"

// PointKind classifies an airfield light or area element.
type PointKind string

const (
	KindStopbar PointKind = "stopbar"
	KindTaxiway PointKind = "taxiway"
	KindLeadOn  PointKind = "lead_on"
	KindStand   PointKind = "stand"
)

// Point is one catalogued airfield object.
type Point struct {
	ID   string    `json:"id"`
	Kind PointKind `json:"type"`
}

// Catalogue lists the points defined for an airport.
type Catalogue interface {
	Points(ctx context.Context, airport string) ([]Point, error)
}

// DefaultState is the baseline on/off state for a point when no
// controller is driving the airport: taxiway routes, lead-ons and
// stands are lit, stopbars and anything unrecognized are dark.
func DefaultState(kind PointKind) bool {
	switch kind {
	case KindTaxiway, KindLeadOn, KindStand:
		return true
	default:
		return false
	}
}

// Static is an in-memory catalogue keyed by airport, used in tests and
// for fixture-driven deployments.
type Static map[string][]Point

// Points implements Catalogue.
func (s Static) Points(_ context.Context, airport string) ([]Point, error) {
	return s[airport], nil
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/stopbars/realtime/internal/merge"
)

// ErrInvalid is wrapped by every structural validation failure. The
// message is safe to echo back to the client in an ERROR packet.
var ErrInvalid = errors.New("invalid_packet")

var objectIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Limits bounds inbound frames. Guards apply to every nested
// user-supplied object in the payload.
type Limits struct {
	MaxPacketChars int
	MaxPatchSize   int
	Guards         merge.Limits
}

// DefaultLimits returns the documented protocol caps.
func DefaultLimits() Limits {
	return Limits{
		MaxPacketChars: 50_000,
		MaxPatchSize:   10_240,
		Guards:         merge.DefaultLimits(),
	}
}

// Decode parses and validates one inbound frame. On success the packet
// is structurally sound for its type: dispatch can use the typed
// accessors without re-checking shapes.
func Decode(raw []byte, lim Limits) (*Packet, error) {
	if len(raw) > lim.MaxPacketChars {
		return nil, fmt.Errorf("%w: packet exceeds %d characters", ErrInvalid, lim.MaxPacketChars)
	}

	var env struct {
		Type      string                 `json:"type"`
		Airport   *string                `json:"airport"`
		Timestamp *float64               `json:"timestamp"`
		Data      map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalid)
	}

	t := Type(env.Type)
	if !inboundTypes[t] {
		return nil, fmt.Errorf("%w: unknown_type", ErrInvalid)
	}

	p := &Packet{Type: t, Data: env.Data}
	if env.Airport != nil {
		if *env.Airport == "" {
			return nil, fmt.Errorf("%w: airport must be a non-empty string", ErrInvalid)
		}
		p.Airport = *env.Airport
	}
	if env.Timestamp != nil {
		if *env.Timestamp < 0 {
			return nil, fmt.Errorf("%w: negative timestamp", ErrInvalid)
		}
		p.Timestamp = int64(*env.Timestamp)
	}

	if env.Data != nil {
		if err := merge.Validate(env.Data, lim.Guards); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	if err := validatePayload(p, lim); err != nil {
		return nil, err
	}
	return p, nil
}

func validatePayload(p *Packet, lim Limits) error {
	switch p.Type {
	case TypeStateUpdate:
		_, err := p.StateUpdate()
		return err
	case TypeSharedStateUpdate:
		patch, err := p.SharedStatePatch()
		if err != nil {
			return err
		}
		reser, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("%w: unserializable patch", ErrInvalid)
		}
		if len(reser) > lim.MaxPatchSize {
			return fmt.Errorf("%w: sharedStatePatch exceeds %d characters", ErrInvalid, lim.MaxPatchSize)
		}
	case TypeStopbarCrossing:
		_, err := p.CrossingObjectID()
		return err
	}
	return nil
}

// StateUpdateData is the validated payload of a STATE_UPDATE packet.
// Exactly one of Patch or State is set; State is a bool or a JSON
// object, never an array or null.
type StateUpdateData struct {
	ObjectID string
	Patch    map[string]interface{}
	State    interface{}
}

// StateUpdate extracts and validates the STATE_UPDATE payload.
func (p *Packet) StateUpdate() (*StateUpdateData, error) {
	if p.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrInvalid)
	}
	id, ok := p.Data["objectId"].(string)
	if !ok || !objectIDRe.MatchString(id) {
		return nil, fmt.Errorf("%w: objectId must match %s", ErrInvalid, objectIDRe.String())
	}

	patchRaw, hasPatch := p.Data["patch"]
	stateRaw, hasState := p.Data["state"]
	if hasPatch == hasState {
		return nil, fmt.Errorf("%w: exactly one of patch or state is required", ErrInvalid)
	}

	out := &StateUpdateData{ObjectID: id}
	if hasPatch {
		patch, ok := patchRaw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: patch must be an object", ErrInvalid)
		}
		out.Patch = patch
		return out, nil
	}

	switch stateRaw.(type) {
	case bool, map[string]interface{}:
		out.State = stateRaw
		return out, nil
	default:
		return nil, fmt.Errorf("%w: state must be a boolean or an object", ErrInvalid)
	}
}

// SharedStatePatch extracts the SHARED_STATE_UPDATE payload.
func (p *Packet) SharedStatePatch() (map[string]interface{}, error) {
	if p.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrInvalid)
	}
	patch, ok := p.Data["sharedStatePatch"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: sharedStatePatch must be an object", ErrInvalid)
	}
	return patch, nil
}

// CrossingObjectID extracts the STOPBAR_CROSSING payload.
func (p *Packet) CrossingObjectID() (string, error) {
	if p.Data == nil {
		return "", fmt.Errorf("%w: missing data", ErrInvalid)
	}
	id, ok := p.Data["objectId"].(string)
	if !ok || !objectIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: objectId must match %s", ErrInvalid, objectIDRe.String())
	}
	return id, nil
}

// Package protocol defines the JSON packet protocol spoken on every
// realtime socket: the type enumeration, the envelope, and the
// structural validation applied to every inbound frame.
package protocol

import (
	"encoding/json"
	"time"
)

// Type discriminates the packet union.
type Type string

// Client → server types.
const (
	TypeHeartbeat         Type = "HEARTBEAT"
	TypeGetState          Type = "GET_STATE"
	TypeStateUpdate       Type = "STATE_UPDATE"
	TypeSharedStateUpdate Type = "SHARED_STATE_UPDATE"
	TypeStopbarCrossing   Type = "STOPBAR_CROSSING"
	TypeClose             Type = "CLOSE"
)

// Server → client types.
const (
	TypeHeartbeatAck         Type = "HEARTBEAT_ACK"
	TypeInitialState         Type = "INITIAL_STATE"
	TypeStateSnapshot        Type = "STATE_SNAPSHOT"
	TypeControllerConnect    Type = "CONTROLLER_CONNECT"
	TypeControllerDisconnect Type = "CONTROLLER_DISCONNECT"
	TypeError                Type = "ERROR"
)

var inboundTypes = map[Type]bool{
	TypeHeartbeat:         true,
	TypeGetState:          true,
	TypeStateUpdate:       true,
	TypeSharedStateUpdate: true,
	TypeStopbarCrossing:   true,
	TypeClose:             true,
}

// Packet is the wire envelope. Data carries the per-type payload as a
// decoded JSON object; typed accessors live in validate.go.
type Packet struct {
	Type      Type                   `json:"type"`
	Airport   string                 `json:"airport,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Now returns the current time in epoch milliseconds, the unit used for
// every packet timestamp.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Encode serializes a packet for egress, stamping the server timestamp.
// The stamp always overrides whatever the originating client sent.
func Encode(p *Packet) ([]byte, error) {
	p.Timestamp = Now()
	return json.Marshal(p)
}

// NewError builds an ERROR packet with a human-readable message.
func NewError(message string) *Packet {
	return &Packet{
		Type: TypeError,
		Data: map[string]interface{}{"message": message},
	}
}

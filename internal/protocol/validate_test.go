package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHeartbeat(t *testing.T) {
	p, err := Decode([]byte(`{"type":"HEARTBEAT"}`), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, p.Type)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"TELEPORT"}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "unknown_type")
}

func TestDecodeServerTypeRejectedInbound(t *testing.T) {
	_, err := Decode([]byte(`{"type":"CONTROLLER_CONNECT"}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeOversizedPacket(t *testing.T) {
	big := `{"type":"HEARTBEAT","data":{"pad":"` + strings.Repeat("x", 60_000) + `"}}`
	_, err := Decode([]byte(big), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeEmptyAirport(t *testing.T) {
	_, err := Decode([]byte(`{"type":"GET_STATE","airport":""}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeNegativeTimestamp(t *testing.T) {
	_, err := Decode([]byte(`{"type":"HEARTBEAT","timestamp":-5}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestStateUpdatePatchForm(t *testing.T) {
	p, err := Decode([]byte(`{"type":"STATE_UPDATE","data":{"objectId":"SB_1","patch":{"on":true}}}`), DefaultLimits())
	require.NoError(t, err)

	su, err := p.StateUpdate()
	require.NoError(t, err)
	assert.Equal(t, "SB_1", su.ObjectID)
	assert.Equal(t, map[string]interface{}{"on": true}, su.Patch)
	assert.Nil(t, su.State)
}

func TestStateUpdateBooleanState(t *testing.T) {
	p, err := Decode([]byte(`{"type":"STATE_UPDATE","data":{"objectId":"SB1","state":false}}`), DefaultLimits())
	require.NoError(t, err)

	su, err := p.StateUpdate()
	require.NoError(t, err)
	assert.Equal(t, false, su.State)
}

func TestStateUpdateRejectsBothPatchAndState(t *testing.T) {
	_, err := Decode([]byte(`{"type":"STATE_UPDATE","data":{"objectId":"SB1","state":true,"patch":{}}}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestStateUpdateRejectsNeither(t *testing.T) {
	_, err := Decode([]byte(`{"type":"STATE_UPDATE","data":{"objectId":"SB1"}}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestStateUpdateRejectsArrayState(t *testing.T) {
	_, err := Decode([]byte(`{"type":"STATE_UPDATE","data":{"objectId":"SB1","state":[1,2]}}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestStateUpdateRejectsNullState(t *testing.T) {
	_, err := Decode([]byte(`{"type":"STATE_UPDATE","data":{"objectId":"SB1","state":null}}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestStateUpdateRejectsBadObjectID(t *testing.T) {
	for _, id := range []string{"", "has space", "semi;colon", "slash/y"} {
		raw, _ := json.Marshal(map[string]interface{}{
			"type": "STATE_UPDATE",
			"data": map[string]interface{}{"objectId": id, "state": true},
		})
		_, err := Decode(raw, DefaultLimits())
		assert.ErrorIs(t, err, ErrInvalid, "objectId %q", id)
	}
}

func TestSharedStateUpdatePatchCap(t *testing.T) {
	patch := map[string]interface{}{"pad": strings.Repeat("y", 11_000)}
	raw, _ := json.Marshal(map[string]interface{}{
		"type": "SHARED_STATE_UPDATE",
		"data": map[string]interface{}{"sharedStatePatch": patch},
	})
	_, err := Decode(raw, DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestSharedStateUpdateRejectsNonObjectPatch(t *testing.T) {
	_, err := Decode([]byte(`{"type":"SHARED_STATE_UPDATE","data":{"sharedStatePatch":[1]}}`), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeDepthGuard(t *testing.T) {
	inner := `true`
	for i := 0; i < 30; i++ {
		inner = `{"n":` + inner + `}`
	}
	raw := `{"type":"SHARED_STATE_UPDATE","data":{"sharedStatePatch":` + inner + `}}`
	_, err := Decode([]byte(raw), DefaultLimits())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestEncodeStampsServerTimestamp(t *testing.T) {
	p := &Packet{Type: TypeHeartbeatAck, Timestamp: 12345}
	raw, err := Encode(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Greater(t, out["timestamp"].(float64), float64(12345))
}

func TestNewError(t *testing.T) {
	p := NewError("not_authorized_for_packet")
	assert.Equal(t, TypeError, p.Type)
	assert.Equal(t, "not_authorized_for_packet", p.Data["message"])
}

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KeepsRelayPayloadVerbatim(t *testing.T) {
	raw := `{"type":"offer","roomId":"r1","sessionDescription":{"type":"offer","sdp":"not really sdp"}}`
	m, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, TypeOffer, m.Type)
	assert.JSONEq(t, `{"type":"offer","sdp":"not really sdp"}`, string(m.Description))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"roomId":"r1"}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncode_OmitsEmptyFields(t *testing.T) {
	b, err := Encode(Message{Type: TypeKicked})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"kicked"}`, string(b))

	b, err = Encode(Message{Type: TypeKickUser, RoomID: "r1", Target: "b"})
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.Equal(t, "b", fields["targetConnectionId"])
}

func TestErrorf(t *testing.T) {
	m := Errorf(CodeAlreadyInRoom, "r1")
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, CodeAlreadyInRoom, m.Error)
	assert.Empty(t, m.Description)
}

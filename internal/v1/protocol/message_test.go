package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Join_RequiresName(t *testing.T) {
	_, err := Decode([]byte(`{"type":"join","roomId":"ABC123"}`))
	assert.Error(t, err)
}

func TestDecode_Join_OK(t *testing.T) {
	env, err := Decode([]byte(`{"type":"join","roomId":"ABC123","name":"Alice","isHost":true}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, env.Type)
	assert.Equal(t, "Alice", env.Name)
	assert.True(t, env.IsHost)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"not-a-type"}`))
	assert.Error(t, err)
}

func TestDecode_Offer_RequiresTargetAndSDP(t *testing.T) {
	_, err := Decode([]byte(`{"type":"offer","targetId":"P2"}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"offer","targetId":"P2","sdp":"v=0"}`))
	require.NoError(t, err)
	assert.Equal(t, "P2", env.TargetID)
}

func TestDecode_ICECandidate_RequiresCandidate(t *testing.T) {
	_, err := Decode([]byte(`{"type":"ice-candidate","targetId":"P2"}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"ice-candidate","targetId":"P2","candidate":{"sdpMid":"0"}}`))
	require.NoError(t, err)
	assert.NotEmpty(t, env.Candidate)
}

func TestDecode_Chat_RequiresText(t *testing.T) {
	_, err := Decode([]byte(`{"type":"chat"}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"chat","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", env.Text)
}

func TestDecode_ParticipantUpdated_RequiresAtLeastOneField(t *testing.T) {
	_, err := Decode([]byte(`{"type":"participant-updated"}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"participant-updated","isMuted":true}`))
	require.NoError(t, err)
	require.NotNil(t, env.IsMuted)
	assert.True(t, *env.IsMuted)
}

func TestDecode_ModeratorAction_ValidatesAction(t *testing.T) {
	_, err := Decode([]byte(`{"type":"moderator-action","targetId":"P2","action":"nope"}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"moderator-action","targetId":"P2","action":"kick"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionKick, env.Action)
}

func TestDecode_QualityChange_ValidatesQuality(t *testing.T) {
	_, err := Decode([]byte(`{"type":"quality-change","targetId":"P2","quality":"ultra"}`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"quality-change","targetId":"P2","quality":"low"}`))
	require.NoError(t, err)
	assert.Equal(t, QualityLow, env.QualityValue)
}

func TestEncode_OutboundEnvelopeSerializes(t *testing.T) {
	env := &Envelope{
		Type:          TypeParticipantJoined,
		RoomID:        "ABC123",
		ParticipantID: "P1",
		Name:          "Alice",
		IsModerator:   BoolPtr(true),
		IsMuted:       BoolPtr(false),
	}
	raw, err := Encode(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"participantId":"P1"`)
	assert.Contains(t, string(raw), `"name":"Alice"`)
}

func TestEncode_Decode_RoundTripsInboundEnvelope(t *testing.T) {
	env := &Envelope{
		Type:          TypeJoin,
		RoomID:        "ABC123",
		ParticipantID: "",
		Name:          "Alice",
	}
	raw, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.Name, decoded.Name)
	assert.Equal(t, env.RoomID, decoded.RoomID)
}

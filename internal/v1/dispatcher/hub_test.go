package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/protocol"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// drain reads every currently-buffered frame off a client's outbound channel
// without blocking, decoding each as an Envelope.
func drain(t *testing.T, c *Client) []*protocol.Envelope {
	t.Helper()
	var out []*protocol.Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			env, err := protocol.Decode(data)
			require.NoError(t, err, "server must only emit envelopes its own codec accepts")
			out = append(out, env)
		default:
			return out
		}
	}
}

func newTestHub() (*Hub, *registry.Registry) {
	reg := registry.New(10, 0, nil)
	return New(reg, nil, ""), reg
}

func joinEnv(roomID, name string, isHost bool) *protocol.Envelope {
	return &protocol.Envelope{Type: protocol.TypeJoin, RoomID: roomID, Name: name, IsHost: isHost}
}

func TestHandleJoin_FirstJoinerBecomesHost(t *testing.T) {
	h, reg := newTestHub()
	c := newClient(nil)

	h.handleJoin(c, joinEnv("ABC123", "Alice", true))

	sent := drain(t, c)
	require.Len(t, sent, 1)
	self := sent[0]
	assert.Equal(t, protocol.TypeParticipantJoined, self.Type)
	assert.Equal(t, "Alice", self.Name)
	require.NotNil(t, self.IsModerator)
	assert.True(t, *self.IsModerator)

	state, roomID, participantID, _ := c.getState()
	assert.Equal(t, stateActive, state)
	assert.Equal(t, "ABC123", roomID)

	room, ok := reg.GetRoom("ABC123")
	require.True(t, ok)
	assert.Equal(t, participantID, room.HostID)
}

func TestHandleJoin_SecondJoinerEnumeratesRoom(t *testing.T) {
	h, _ := newTestHub()
	cA := newClient(nil)
	h.handleJoin(cA, joinEnv("ABC123", "Alice", true))
	drain(t, cA)

	cB := newClient(nil)
	h.handleJoin(cB, joinEnv("ABC123", "Bob", false))

	// Alice observes exactly one new participant-joined for Bob.
	aliceSaw := drain(t, cA)
	require.Len(t, aliceSaw, 1)
	assert.Equal(t, "Bob", aliceSaw[0].Name)

	// Bob first learns his own id/state, then enumerates pre-existing peers.
	bobSaw := drain(t, cB)
	require.Len(t, bobSaw, 2)
	assert.Equal(t, "Bob", bobSaw[0].Name)
	require.NotNil(t, bobSaw[0].IsModerator)
	assert.False(t, *bobSaw[0].IsModerator)
	assert.Equal(t, "Alice", bobSaw[1].Name)
}

func TestHandleJoin_UnknownRoomWithoutHostOrToken(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(nil)

	h.handleJoin(c, joinEnv("NOPE000", "Eve", false))

	sent := drain(t, c)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeError, sent[0].Type)
	assert.Equal(t, protocol.CodeRoomNotFound, sent[0].Code)

	state, _, _, _ := c.getState()
	assert.Equal(t, stateUnbound, state)
}

func TestHandleJoin_WrongPassword(t *testing.T) {
	h, reg := newTestHub()
	reg.GetOrCreateRoom("SEC999", "hunter2")

	c := newClient(nil)
	env := joinEnv("SEC999", "Eve", false)
	env.Password = "wrong"
	h.handleJoin(c, env)

	sent := drain(t, c)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeError, sent[0].Type)
	assert.Equal(t, protocol.CodeInvalidPassword, sent[0].Code)

	assert.Empty(t, reg.ListParticipantSnapshots("SEC999"))
}

func TestHandleJoin_LockedRoomWaitingRoomThenAdmit(t *testing.T) {
	h, reg := newTestHub()
	cM := newClient(nil)
	h.handleJoin(cM, joinEnv("LCK001", "Mod", true))
	drain(t, cM)
	_, _, pidM, _ := cM.getState()

	h.handleLockToggle(cM, "LCK001", pidM, true)
	drain(t, cM) // the lock-toggle broadcast to self

	cD := newClient(nil)
	h.handleJoin(cD, joinEnv("LCK001", "Dan", false))

	dSaw := drain(t, cD)
	require.Len(t, dSaw, 1)
	assert.Equal(t, protocol.TypeWaitingRoom, dSaw[0].Type)
	assert.Equal(t, "Dan", dSaw[0].Name)
	waitingID := dSaw[0].ParticipantID

	mSaw := drain(t, cM)
	require.Len(t, mSaw, 1)
	assert.Equal(t, protocol.TypeWaitingRoom, mSaw[0].Type)
	assert.Equal(t, waitingID, mSaw[0].ParticipantID)

	require.True(t, reg.IsRoomLocked("LCK001"))

	h.handleAdmit(cM, "LCK001", pidM, &protocol.Envelope{TargetID: waitingID})

	dAfterAdmit := drain(t, cD)
	require.Len(t, dAfterAdmit, 2)
	assert.Equal(t, protocol.TypeParticipantJoined, dAfterAdmit[0].Type)
	assert.Equal(t, "Dan", dAfterAdmit[0].Name)
	assert.Equal(t, "Mod", dAfterAdmit[1].Name)

	mAfterAdmit := drain(t, cM)
	require.Len(t, mAfterAdmit, 1)
	assert.Equal(t, "Dan", mAfterAdmit[0].Name)

	state, _, _, _ := cD.getState()
	assert.Equal(t, stateActive, state)
}

func TestHandleReject_ClosesWaitingSocket(t *testing.T) {
	h, reg := newTestHub()
	cM := newClient(nil)
	h.handleJoin(cM, joinEnv("LCK002", "Mod", true))
	drain(t, cM)
	_, _, pidM, _ := cM.getState()
	h.handleLockToggle(cM, "LCK002", pidM, true)
	drain(t, cM)

	cD := newClient(nil)
	h.handleJoin(cD, joinEnv("LCK002", "Dan", false))
	waitingID := drain(t, cD)[0].ParticipantID
	drain(t, cM)

	h.handleReject(cM, "LCK002", pidM, &protocol.Envelope{TargetID: waitingID, Reason: "not today"})

	dSaw := drain(t, cD)
	require.Len(t, dSaw, 1)
	assert.Equal(t, protocol.TypeRejectUser, dSaw[0].Type)
	assert.Equal(t, "not today", dSaw[0].Reason)
	assert.False(t, cD.IsOpen())

	_, ok := reg.GetRoom("LCK002")
	require.True(t, ok)
}

func TestHandleJoin_CreatorTokenBypassesLock(t *testing.T) {
	h, reg := newTestHub()
	roomID, token, ok := reg.PreCreateRoom("PRE777", "", 0)
	require.True(t, ok)
	reg.LockRoom(roomID)

	c := newClient(nil)
	env := joinEnv(roomID, "Host", false)
	env.CreatorToken = token
	h.handleJoin(c, env)

	sent := drain(t, c)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeParticipantJoined, sent[0].Type)
	require.NotNil(t, sent[0].IsModerator)
	assert.True(t, *sent[0].IsModerator)

	room, ok := reg.GetRoom(roomID)
	require.True(t, ok)
	assert.Len(t, room.Participants, 1)
}

func TestHandleModeratorAction_Kick(t *testing.T) {
	h, reg := newTestHub()
	cM := newClient(nil)
	h.handleJoin(cM, joinEnv("ABC123", "Mod", true))
	drain(t, cM)
	_, _, pidM, _ := cM.getState()

	cX := newClient(nil)
	h.handleJoin(cX, joinEnv("ABC123", "X", false))
	drain(t, cX)
	drain(t, cM) // Mod observed X join

	_, _, pidX, _ := cX.getState()

	h.handleModeratorAction(cM, "ABC123", pidM, &protocol.Envelope{
		TargetID: pidX,
		Action:   protocol.ActionKick,
	})

	xSaw := drain(t, cX)
	require.Len(t, xSaw, 1)
	assert.Equal(t, protocol.TypeModeratorAction, xSaw[0].Type)
	assert.Equal(t, protocol.ActionKick, xSaw[0].Action)
	assert.False(t, cX.IsOpen())

	mSaw := drain(t, cM)
	require.Len(t, mSaw, 1)
	assert.Equal(t, protocol.TypeParticipantLeft, mSaw[0].Type)
	assert.Equal(t, pidX, mSaw[0].ParticipantID)

	_, ok := reg.GetParticipantSnapshot("ABC123", pidX)
	assert.False(t, ok)
}

func TestHandleModeratorAction_NonModeratorRejected(t *testing.T) {
	h, _ := newTestHub()
	cM := newClient(nil)
	h.handleJoin(cM, joinEnv("ABC123", "Mod", true))
	drain(t, cM)

	cX := newClient(nil)
	h.handleJoin(cX, joinEnv("ABC123", "X", false))
	drain(t, cX)
	drain(t, cM)
	_, _, pidX, _ := cX.getState()
	_, _, pidM, _ := cM.getState()

	h.handleModeratorAction(cX, "ABC123", pidX, &protocol.Envelope{
		TargetID: pidM,
		Action:   protocol.ActionKick,
	})

	xSaw := drain(t, cX)
	require.Len(t, xSaw, 1)
	assert.Equal(t, protocol.TypeError, xSaw[0].Type)
	assert.Equal(t, "Only moderators can perform this action", xSaw[0].Message)
	assert.True(t, cM.IsOpen())
}

func TestHandleRelay_DeliversOnlyToTarget(t *testing.T) {
	h, _ := newTestHub()
	clients := map[string]*Client{}
	for _, name := range []string{"P1", "P2", "P3"} {
		c := newClient(nil)
		h.handleJoin(c, joinEnv("ABC123", name, name == "P1"))
		drain(t, c)
		clients[name] = c
	}
	for _, c := range clients {
		drain(t, c)
	}
	_, roomID, p1, _ := clients["P1"].getState()
	_, _, p2, _ := clients["P2"].getState()

	h.handleRelay(clients["P1"], roomID, p1, &protocol.Envelope{
		Type:     protocol.TypeOffer,
		TargetID: p2,
		SDP:      "v=0",
	})

	assert.Len(t, drain(t, clients["P2"]), 1, "target must receive the relay")
	assert.Empty(t, drain(t, clients["P1"]), "sender must not be echoed a relay message")
	assert.Empty(t, drain(t, clients["P3"]), "non-target participants must not see a targeted relay")
}

func TestHandleChat_EchoesSenderAndBroadcastsOthers(t *testing.T) {
	h, _ := newTestHub()
	clients := map[string]*Client{}
	for _, name := range []string{"P1", "P2", "P3"} {
		c := newClient(nil)
		h.handleJoin(c, joinEnv("ABC123", name, name == "P1"))
		drain(t, c)
		clients[name] = c
	}
	for _, c := range clients {
		drain(t, c)
	}
	_, roomID, p1, _ := clients["P1"].getState()

	h.handleChat(clients["P1"], roomID, p1, &protocol.Envelope{Type: protocol.TypeChat, Text: "hello room"})

	p1Saw := drain(t, clients["P1"])
	require.Len(t, p1Saw, 1, "sender must receive exactly one echo")
	assert.Equal(t, "hello room", p1Saw[0].Text)

	assert.Len(t, drain(t, clients["P2"]), 1)
	assert.Len(t, drain(t, clients["P3"]), 1)
}

func TestHandleDisconnect_PromotesHostAndNotifiesRemaining(t *testing.T) {
	h, reg := newTestHub()
	cHost := newClient(nil)
	h.handleJoin(cHost, joinEnv("ABC123", "Host", true))
	drain(t, cHost)

	cOther := newClient(nil)
	h.handleJoin(cOther, joinEnv("ABC123", "Other", false))
	drain(t, cOther)
	drain(t, cHost)

	h.handleDisconnect(cHost)

	saw := drain(t, cOther)
	require.Len(t, saw, 2)
	assert.Equal(t, protocol.TypeParticipantLeft, saw[0].Type)
	assert.Equal(t, protocol.TypeParticipantUpd, saw[1].Type)
	require.NotNil(t, saw[1].IsModerator)
	assert.True(t, *saw[1].IsModerator)

	room, ok := reg.GetRoom("ABC123")
	require.True(t, ok)
	_, _, pidOther, _ := cOther.getState()
	assert.Equal(t, pidOther, room.HostID)
}

func TestHandleDisconnect_IsIdempotent(t *testing.T) {
	h, _ := newTestHub()
	cHost := newClient(nil)
	h.handleJoin(cHost, joinEnv("ABC123", "Host", true))
	drain(t, cHost)

	cOther := newClient(nil)
	h.handleJoin(cOther, joinEnv("ABC123", "Other", false))
	drain(t, cOther)
	drain(t, cHost)

	h.handleDisconnect(cHost)
	drain(t, cOther)
	h.handleDisconnect(cHost) // explicit leave followed by socket close

	assert.Empty(t, drain(t, cOther), "a second disconnect on an already-unbound socket must not re-notify")
}

func TestRouteEnvelope_UnboundRejectsNonJoin(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(nil)

	h.routeEnvelope(c, &protocol.Envelope{Type: protocol.TypeChat, Text: "hi"})

	sent := drain(t, c)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeError, sent[0].Type)
	assert.Equal(t, "Not joined to a room", sent[0].Message)
}

func TestHandleFrame_MalformedJSONProducesProtocolError(t *testing.T) {
	h, _ := newTestHub()
	c := newClient(nil)

	h.handleFrame(c, []byte(`{not json`))

	sent := drain(t, c)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeError, sent[0].Type)
	assert.Equal(t, "Invalid message format", sent[0].Message)
	assert.Empty(t, sent[0].Code)
}

func TestHandleJoin_RejectsAtCapacity(t *testing.T) {
	h, reg := newTestHub()
	room, _ := reg.GetOrCreateRoom("ABC123", "")
	room.MaxParticipants = 1

	cA := newClient(nil)
	h.handleJoin(cA, joinEnv("ABC123", "Alice", true))
	drain(t, cA)

	cB := newClient(nil)
	h.handleJoin(cB, joinEnv("ABC123", "Bob", false))

	sent := drain(t, cB)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeError, sent[0].Type)
	assert.Equal(t, "Room is full", sent[0].Message)
}

func TestHandleLockToggle_NonModeratorRejected(t *testing.T) {
	h, _ := newTestHub()
	cA := newClient(nil)
	h.handleJoin(cA, joinEnv("ABC123", "Alice", true))
	drain(t, cA)

	cB := newClient(nil)
	h.handleJoin(cB, joinEnv("ABC123", "Bob", false))
	drain(t, cB)
	drain(t, cA)
	_, _, pidB, _ := cB.getState()

	h.handleLockToggle(cB, "ABC123", pidB, true)

	sent := drain(t, cB)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.TypeError, sent[0].Type)
}

func TestHandleParticipantUpdated_BroadcastsToOthersNotSelf(t *testing.T) {
	h, reg := newTestHub()
	cA := newClient(nil)
	h.handleJoin(cA, joinEnv("ABC123", "Alice", true))
	drain(t, cA)
	cB := newClient(nil)
	h.handleJoin(cB, joinEnv("ABC123", "Bob", false))
	drain(t, cB)
	drain(t, cA)
	_, _, pidB, _ := cB.getState()

	h.handleParticipantUpdated(cB, "ABC123", pidB, &protocol.Envelope{IsMuted: protocol.BoolPtr(true)})

	assert.Empty(t, drain(t, cB), "participant-updated is not echoed to the sender")
	aSaw := drain(t, cA)
	require.Len(t, aSaw, 1)
	assert.Equal(t, protocol.TypeParticipantUpd, aSaw[0].Type)
	require.NotNil(t, aSaw[0].IsMuted)
	assert.True(t, *aSaw[0].IsMuted)

	p, ok := reg.GetParticipantSnapshot("ABC123", pidB)
	require.True(t, ok)
	assert.True(t, p.IsMuted)
}

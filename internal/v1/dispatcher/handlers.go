package dispatcher

import (
	"time"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/protocol"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/registry"
)

// handleJoin implements the nine-step join sequence: existence/password/lock
// checks, waiting-room admission for locked rooms, participant creation, and
// the ordered fan-out that lets the joiner enumerate the room before peer
// negotiation begins.
func (h *Hub) handleJoin(c *Client, env *protocol.Envelope) {
	_, exists := h.registry.GetRoom(env.RoomID)

	if !exists && !env.IsHost && env.CreatorToken == "" {
		c.sendError(env.RoomID, "", "Room not found", protocol.CodeRoomNotFound)
		return
	}

	if exists && !h.registry.ValidatePassword(env.RoomID, env.Password) {
		c.sendError(env.RoomID, "", "Invalid room password", protocol.CodeInvalidPassword)
		return
	}

	isCreator := h.registry.ValidateCreatorToken(env.RoomID, env.CreatorToken)
	isLocked := h.registry.IsRoomLocked(env.RoomID)

	if exists && isLocked && !isCreator {
		wp := &registry.WaitingParticipant{
			ID:          mintID(),
			Name:        env.Name,
			RequestedAt: time.Now(),
			Socket:      c,
		}
		if !h.registry.AddToWaitingRoom(env.RoomID, wp) {
			c.sendError(env.RoomID, "", "Room is full", "")
			return
		}
		c.bindWaiting(env.RoomID, wp.ID)
		waitEnv := h.encode(buildWaitingRoom(env.RoomID, wp))
		_ = c.Send(waitEnv)
		h.registry.BroadcastToModerators(env.RoomID, waitEnv)
		return
	}

	room, _ := h.registry.GetOrCreateRoom(env.RoomID, env.Password)
	roomID := room.ID

	p := &registry.Participant{
		ID:     mintID(),
		Name:   env.Name,
		RoomID: roomID,
		Socket: c,
	}
	if !h.registry.AddParticipant(roomID, p, env.IsHost || isCreator) {
		c.sendError(roomID, "", "Room is full", "")
		return
	}

	c.bindActive(roomID, p.ID)

	// Build every outbound envelope from a registry snapshot, not the local
	// p, since p is now registry-owned and may be concurrently mutated.
	self, ok := h.registry.GetParticipantSnapshot(roomID, p.ID)
	if !ok {
		return
	}
	h.registry.Broadcast(roomID, h.encode(buildParticipantJoined(self)), p.ID)
	_ = c.Send(h.encode(buildParticipantJoined(self)))

	for _, peer := range h.registry.ListParticipantSnapshots(roomID) {
		if peer.ID == p.ID {
			continue
		}
		_ = c.Send(h.encode(buildParticipantJoined(peer)))
	}
}

// handleRelay forwards offer/answer/ice-candidate/file-*/quality-change
// envelopes to their single target, rewriting participantId to the sender's
// bound id. No broadcast, no echo.
func (h *Hub) handleRelay(c *Client, roomID, participantID string, env *protocol.Envelope) {
	env.RoomID = roomID
	env.ParticipantID = participantID
	h.registry.SendTo(roomID, env.TargetID, h.encode(env))
}

// handleChat rewrites participantId to the sender's bound id, broadcasts to
// every other participant, and echoes a copy back to the sender.
func (h *Hub) handleChat(c *Client, roomID, participantID string, env *protocol.Envelope) {
	env.RoomID = roomID
	env.ParticipantID = participantID
	data := h.encode(env)
	h.registry.Broadcast(roomID, data, participantID)
	_ = c.Send(data)
}

// handleParticipantUpdated merges the inbound delta into the sender's own
// record and broadcasts the resulting state to everyone else.
func (h *Hub) handleParticipantUpdated(c *Client, roomID, participantID string, env *protocol.Envelope) {
	patch := registry.ParticipantPatch{
		IsMuted:      env.IsMuted,
		IsVideoOff:   env.IsVideoOff,
		IsHandRaised: env.IsHandRaised,
	}
	p, ok := h.registry.UpdateParticipant(roomID, participantID, patch)
	if !ok {
		return
	}
	h.registry.Broadcast(roomID, h.encode(buildParticipantUpdated(p)), participantID)
}

// handleHandRaise sets isHandRaised on the sender and broadcasts the result.
func (h *Hub) handleHandRaise(roomID, participantID string, raised bool) {
	patch := registry.ParticipantPatch{IsHandRaised: protocol.BoolPtr(raised)}
	p, ok := h.registry.UpdateParticipant(roomID, participantID, patch)
	if !ok {
		return
	}
	h.registry.Broadcast(roomID, h.encode(buildParticipantUpdated(p)), participantID)
}

// handleModeratorAction authorizes the sender, then applies mute/unmute,
// kick, or make-moderator to the target.
func (h *Hub) handleModeratorAction(c *Client, roomID, participantID string, env *protocol.Envelope) {
	sender, ok := h.registry.GetParticipantSnapshot(roomID, participantID)
	if !ok || !sender.IsModerator {
		c.sendError(roomID, participantID, "Only moderators can perform this action", "")
		return
	}

	switch env.Action {
	case protocol.ActionMute, protocol.ActionUnmute:
		patch := registry.ParticipantPatch{IsMuted: protocol.BoolPtr(env.Action == protocol.ActionMute)}
		p, ok := h.registry.UpdateParticipant(roomID, env.TargetID, patch)
		if ok {
			h.registry.Broadcast(roomID, h.encode(buildParticipantUpdated(p)), "")
		}
	case protocol.ActionMakeModerator:
		patch := registry.ParticipantPatch{IsModerator: protocol.BoolPtr(true)}
		p, ok := h.registry.UpdateParticipant(roomID, env.TargetID, patch)
		if ok {
			h.registry.Broadcast(roomID, h.encode(buildParticipantUpdated(p)), "")
		}
	case protocol.ActionKick:
		kickEnv := &protocol.Envelope{
			Type:          protocol.TypeModeratorAction,
			RoomID:        roomID,
			ParticipantID: env.TargetID,
			Timestamp:     time.Now().UnixMilli(),
			TargetID:      env.TargetID,
			Action:        protocol.ActionKick,
		}
		h.registry.SendTo(roomID, env.TargetID, h.encode(kickEnv))

		removed, promotedID, _ := h.registry.KickParticipant(roomID, env.TargetID)
		if removed == nil {
			return
		}
		h.registry.Broadcast(roomID, h.encode(buildParticipantLeft(roomID, env.TargetID)), "")
		if promotedID != "" {
			if p, ok := h.registry.GetParticipantSnapshot(roomID, promotedID); ok {
				h.registry.Broadcast(roomID, h.encode(buildParticipantUpdated(p)), "")
			}
		}
	}
}

// handleLockToggle authorizes the sender and flips the room's lock state.
func (h *Hub) handleLockToggle(c *Client, roomID, participantID string, locked bool) {
	sender, ok := h.registry.GetParticipantSnapshot(roomID, participantID)
	if !ok || !sender.IsModerator {
		c.sendError(roomID, participantID, "Only moderators can perform this action", "")
		return
	}
	if locked {
		h.registry.LockRoom(roomID)
	} else {
		h.registry.UnlockRoom(roomID)
	}
	h.registry.Broadcast(roomID, h.encode(buildLockToggle(roomID, participantID, locked)), "")
}

// handleAdmit authorizes the sender, transitions a waiting participant into a
// full participant, rebinds its socket, and fans out participant-joined the
// same way a direct join does.
func (h *Hub) handleAdmit(c *Client, roomID, participantID string, env *protocol.Envelope) {
	sender, ok := h.registry.GetParticipantSnapshot(roomID, participantID)
	if !ok || !sender.IsModerator {
		c.sendError(roomID, participantID, "Only moderators can perform this action", "")
		return
	}

	wp, ok := h.registry.AdmitFromWaitingRoom(roomID, env.TargetID)
	if !ok {
		return
	}

	p := &registry.Participant{ID: wp.ID, Name: wp.Name, RoomID: roomID, Socket: wp.Socket}
	if !h.registry.AddParticipant(roomID, p, false) {
		h.rejectWaiting(roomID, wp, "Room is full")
		return
	}

	if target, ok := wp.Socket.(*Client); ok {
		target.bindActive(roomID, p.ID)
	}

	self, ok := h.registry.GetParticipantSnapshot(roomID, p.ID)
	if !ok {
		return
	}
	_ = wp.Socket.Send(h.encode(buildParticipantJoined(self)))
	for _, peer := range h.registry.ListParticipantSnapshots(roomID) {
		if peer.ID == p.ID {
			continue
		}
		_ = wp.Socket.Send(h.encode(buildParticipantJoined(peer)))
	}
	h.registry.Broadcast(roomID, h.encode(buildParticipantJoined(self)), p.ID)
}

// handleReject authorizes the sender and turns away a waiting participant.
func (h *Hub) handleReject(c *Client, roomID, participantID string, env *protocol.Envelope) {
	sender, ok := h.registry.GetParticipantSnapshot(roomID, participantID)
	if !ok || !sender.IsModerator {
		c.sendError(roomID, participantID, "Only moderators can perform this action", "")
		return
	}
	wp, ok := h.registry.RejectFromWaitingRoom(roomID, env.TargetID)
	if !ok {
		return
	}
	h.rejectWaiting(roomID, wp, env.Reason)
}

func (h *Hub) rejectWaiting(roomID string, wp *registry.WaitingParticipant, reason string) {
	_ = wp.Socket.Send(h.encode(buildRejectUser(roomID, wp.ID, reason)))
	_ = wp.Socket.Close()
}

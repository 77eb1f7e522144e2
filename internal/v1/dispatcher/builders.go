package dispatcher

import (
	"time"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/protocol"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/registry"
)

func buildParticipantJoined(p registry.Participant) *protocol.Envelope {
	return &protocol.Envelope{
		Type:          protocol.TypeParticipantJoined,
		RoomID:        p.RoomID,
		ParticipantID: p.ID,
		Timestamp:     time.Now().UnixMilli(),
		Name:          p.Name,
		IsModerator:   protocol.BoolPtr(p.IsModerator),
		IsMuted:       protocol.BoolPtr(p.IsMuted),
		IsVideoOff:    protocol.BoolPtr(p.IsVideoOff),
	}
}

func buildParticipantLeft(roomID, participantID string) *protocol.Envelope {
	return &protocol.Envelope{
		Type:          protocol.TypeParticipantLeft,
		RoomID:        roomID,
		ParticipantID: participantID,
		Timestamp:     time.Now().UnixMilli(),
	}
}

func buildParticipantUpdated(p registry.Participant) *protocol.Envelope {
	return &protocol.Envelope{
		Type:          protocol.TypeParticipantUpd,
		RoomID:        p.RoomID,
		ParticipantID: p.ID,
		Timestamp:     time.Now().UnixMilli(),
		IsModerator:   protocol.BoolPtr(p.IsModerator),
		IsMuted:       protocol.BoolPtr(p.IsMuted),
		IsVideoOff:    protocol.BoolPtr(p.IsVideoOff),
		IsHandRaised:  protocol.BoolPtr(p.IsHandRaised),
	}
}

func buildWaitingRoom(roomID string, wp *registry.WaitingParticipant) *protocol.Envelope {
	return &protocol.Envelope{
		Type:          protocol.TypeWaitingRoom,
		RoomID:        roomID,
		ParticipantID: wp.ID,
		Timestamp:     time.Now().UnixMilli(),
		Name:          wp.Name,
	}
}

func buildRejectUser(roomID, targetID, reason string) *protocol.Envelope {
	return &protocol.Envelope{
		Type:          protocol.TypeRejectUser,
		RoomID:        roomID,
		ParticipantID: targetID,
		Timestamp:     time.Now().UnixMilli(),
		TargetID:      targetID,
		Reason:        reason,
	}
}

func buildLockToggle(roomID, actorID string, locked bool) *protocol.Envelope {
	env := &protocol.Envelope{
		RoomID:        roomID,
		ParticipantID: actorID,
		Timestamp:     time.Now().UnixMilli(),
	}
	if locked {
		env.Type = protocol.TypeRoomLocked
		env.LockedBy = actorID
	} else {
		env.Type = protocol.TypeRoomUnlocked
		env.UnlockedBy = actorID
	}
	return env
}

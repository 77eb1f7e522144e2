// Package protocol defines the JSON envelope exchanged over the signaling
// WebSocket and its decode/validate discipline.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type is the discriminator tag carried by every envelope.
type Type string

const (
	TypeJoin            Type = "join"
	TypeLeave           Type = "leave"
	TypeOffer           Type = "offer"
	TypeAnswer          Type = "answer"
	TypeICECandidate    Type = "ice-candidate"
	TypeFileOffer       Type = "file-offer"
	TypeFileAnswer      Type = "file-answer"
	TypeFileChunk       Type = "file-chunk"
	TypeQualityChange   Type = "quality-change"
	TypeChat            Type = "chat"
	TypeParticipantUpd  Type = "participant-updated"
	TypeRaiseHand       Type = "raise-hand"
	TypeLowerHand       Type = "lower-hand"
	TypeModeratorAction Type = "moderator-action"
	TypeRoomLocked      Type = "room-locked"
	TypeRoomUnlocked    Type = "room-unlocked"
	TypeAdmitUser       Type = "admit-user"
	TypeRejectUser      Type = "reject-user"

	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"
	TypeWaitingRoom       Type = "waiting-room"
	TypeError             Type = "error"
)

// Error codes carried on outbound error envelopes. Protocol-level errors
// (malformed JSON, unknown type, missing fields) carry no code.
const (
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeInvalidPassword = "INVALID_PASSWORD"
)

// ModeratorActionKind enumerates the valid values of moderator-action.action.
type ModeratorActionKind string

const (
	ActionMute          ModeratorActionKind = "mute"
	ActionUnmute        ModeratorActionKind = "unmute"
	ActionKick          ModeratorActionKind = "kick"
	ActionMakeModerator ModeratorActionKind = "make-moderator"
)

// Quality enumerates the valid values of quality-change.quality.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Envelope is the closed, tagged union carried as a single WebSocket text
// frame. All fields beyond the common four are optional and interpreted
// per Type; Decode validates the subset each variant requires.
type Envelope struct {
	Type          Type   `json:"type"`
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	Timestamp     int64  `json:"timestamp"`

	// join
	Name         string `json:"name,omitempty"`
	Password     string `json:"password,omitempty"`
	IsHost       bool   `json:"isHost,omitempty"`
	CreatorToken string `json:"creatorToken,omitempty"`

	// relay targeting (offer/answer/ice-candidate/file-*/quality-change/moderator-action/admit-reject)
	TargetID string `json:"targetId,omitempty"`

	// offer/answer
	SDP string `json:"sdp,omitempty"`

	// ice-candidate
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// participant-joined / participant-updated (outbound + patch)
	IsModerator  *bool `json:"isModerator,omitempty"`
	IsMuted      *bool `json:"isMuted,omitempty"`
	IsVideoOff   *bool `json:"isVideoOff,omitempty"`
	IsHandRaised *bool `json:"isHandRaised,omitempty"`

	// chat
	Text    string `json:"text,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`

	// file-offer
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileType string `json:"fileType,omitempty"`

	// file-answer
	Accepted *bool `json:"accepted,omitempty"`

	// file-chunk
	Chunk string `json:"chunk,omitempty"`
	Index int    `json:"index,omitempty"`
	Total int    `json:"total,omitempty"`

	// moderator-action
	Action ModeratorActionKind `json:"action,omitempty"`

	// room-locked / room-unlocked
	LockedBy   string `json:"lockedBy,omitempty"`
	UnlockedBy string `json:"unlockedBy,omitempty"`

	// reject-user
	Reason string `json:"reason,omitempty"`

	// quality-change
	QualityValue Quality `json:"quality,omitempty"`

	// error (outbound)
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Decode parses a single frame into an Envelope, validating the tag and the
// fields required by that variant. Outbound-only variants (participant-joined,
// participant-left, waiting-room, error) are accepted without further field
// checks, so every envelope the server emits decodes. A decode failure is always
// reported as a generic, codeless protocol error per spec: malformed JSON,
// unknown type, or a missing/wrong-kinded required field.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	switch env.Type {
	case TypeJoin:
		if env.Name == "" {
			return nil, fmt.Errorf("join requires name")
		}
	case TypeLeave:
		// common fields only
	case TypeOffer, TypeAnswer:
		if env.TargetID == "" || env.SDP == "" {
			return nil, fmt.Errorf("%s requires targetId and sdp", env.Type)
		}
	case TypeICECandidate:
		if env.TargetID == "" || len(env.Candidate) == 0 {
			return nil, fmt.Errorf("ice-candidate requires targetId and candidate")
		}
	case TypeFileOffer:
		if env.TargetID == "" || env.FileName == "" {
			return nil, fmt.Errorf("file-offer requires targetId and fileName")
		}
	case TypeFileAnswer:
		if env.TargetID == "" || env.Accepted == nil {
			return nil, fmt.Errorf("file-answer requires targetId and accepted")
		}
	case TypeFileChunk:
		if env.TargetID == "" || env.Chunk == "" {
			return nil, fmt.Errorf("file-chunk requires targetId and chunk")
		}
	case TypeQualityChange:
		if env.TargetID == "" || (env.QualityValue != QualityHigh && env.QualityValue != QualityMedium && env.QualityValue != QualityLow) {
			return nil, fmt.Errorf("quality-change requires targetId and a valid quality")
		}
	case TypeChat:
		if env.Text == "" {
			return nil, fmt.Errorf("chat requires text")
		}
	case TypeParticipantUpd:
		if env.IsMuted == nil && env.IsVideoOff == nil && env.IsHandRaised == nil {
			return nil, fmt.Errorf("participant-updated requires at least one field")
		}
	case TypeRaiseHand, TypeLowerHand:
		// common fields only
	case TypeModeratorAction:
		if env.TargetID == "" {
			return nil, fmt.Errorf("moderator-action requires targetId")
		}
		switch env.Action {
		case ActionMute, ActionUnmute, ActionKick, ActionMakeModerator:
		default:
			return nil, fmt.Errorf("moderator-action has invalid action %q", env.Action)
		}
	case TypeRoomLocked, TypeRoomUnlocked:
		// common fields only
	case TypeAdmitUser, TypeRejectUser:
		if env.TargetID == "" {
			return nil, fmt.Errorf("%s requires targetId", env.Type)
		}
	case TypeParticipantJoined, TypeParticipantLeft, TypeWaitingRoom, TypeError:
		// outbound variants: no required fields beyond the tag
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	return &env, nil
}

// Encode serializes an outbound envelope for a single WebSocket text frame.
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// BoolPtr is a convenience constructor for the envelope's optional bool fields.
func BoolPtr(b bool) *bool { return &b }

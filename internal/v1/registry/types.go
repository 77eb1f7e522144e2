// Package registry owns the signaling server's shared mutable state: rooms,
// their participants, and their waiting rooms. It is the single source of
// truth; the connection dispatcher holds only lookup keys into it.
package registry

import "time"

// Socket is the minimal outbound interface a bound connection exposes to the
// registry. Any WebSocket library or hand-rolled framing layer can satisfy
// it; the registry never depends on gorilla/websocket directly.
type Socket interface {
	Send(data []byte) error
	Close() error
	IsOpen() bool
}

// Participant is an admitted, live member of exactly one room.
type Participant struct {
	ID           string
	Name         string
	RoomID       string
	IsModerator  bool
	IsMuted      bool
	IsVideoOff   bool
	IsHandRaised bool
	JoinedAt     time.Time
	Socket       Socket
}

// WaitingParticipant is a candidate pending moderator review in a locked room.
type WaitingParticipant struct {
	ID          string
	Name        string
	RoomID      string
	RequestedAt time.Time
	Socket      Socket
}

// Room is a named container for a single meeting.
type Room struct {
	ID              string
	Participants    map[string]*Participant
	WaitingRoom     map[string]*WaitingParticipant
	Password        string
	IsLocked        bool
	HostID          string
	CreatedAt       time.Time
	MaxParticipants int
	CreatorToken    string
	IsPreCreated    bool

	// order records participant insertion order, used to pick a deterministic
	// successor when the host leaves.
	order []string
}

// ParticipantPatch is the allowed mutable subset of Participant fields.
// id, roomId, and joinedAt are never changed by a patch.
type ParticipantPatch struct {
	IsModerator  *bool
	IsMuted      *bool
	IsVideoOff   *bool
	IsHandRaised *bool
}

// LatentRecord is the on-disk representation of a pre-created, empty room.
type LatentRecord struct {
	RoomID          string    `json:"roomId"`
	Password        string    `json:"password,omitempty"`
	CreatorToken    string    `json:"creatorToken"`
	CreatedAt       time.Time `json:"createdAt"`
	MaxParticipants int       `json:"maxParticipants"`
}

// LatentPersister rewrites the latent room set to durable storage. The
// registry snapshots under its lock and hands the snapshot to the persister,
// which performs the actual disk write outside any lock.
type LatentPersister interface {
	Save(records []LatentRecord) error
}

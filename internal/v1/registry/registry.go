package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/logging"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/metrics"
	"go.uber.org/zap"
)

const defaultMaxParticipants = 8

// Registry owns every Room, Participant, and WaitingParticipant. A single
// coarse mutex guards all mutation; critical sections are kept short and
// never perform socket I/O or disk writes while held (see spec's
// concurrency contract — suspension points are socket I/O and the janitor
// timer only).
type Registry struct {
	mu sync.Mutex

	rooms           map[string]*Room
	maxLatentRooms  int
	persister       LatentPersister
	defaultMaxParts int
}

// New creates an empty Registry. persister may be nil, in which case latent
// rooms are kept in memory only and never written to disk. maxParticipants
// is the default room capacity handed to GetOrCreateRoom; a value <= 0
// falls back to defaultMaxParticipants (8).
func New(maxLatentRooms, maxParticipants int, persister LatentPersister) *Registry {
	if maxParticipants <= 0 {
		maxParticipants = defaultMaxParticipants
	}
	return &Registry{
		rooms:           make(map[string]*Room),
		maxLatentRooms:  maxLatentRooms,
		persister:       persister,
		defaultMaxParts: maxParticipants,
	}
}

// Restore seeds the registry with latent rooms loaded from disk at startup.
// Entries already past their age cap must be filtered out by the caller.
func (r *Registry) Restore(records []LatentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.rooms[normalizeID(rec.RoomID)] = &Room{
			ID:              normalizeID(rec.RoomID),
			Participants:    make(map[string]*Participant),
			WaitingRoom:     make(map[string]*WaitingParticipant),
			Password:        rec.Password,
			CreatedAt:       rec.CreatedAt,
			MaxParticipants: rec.MaxParticipants,
			CreatorToken:    rec.CreatorToken,
			IsPreCreated:    true,
		}
	}
	metrics.LatentRooms.Set(float64(len(records)))
}

// GetOrCreateRoom returns the existing room or inserts one with default
// config (the registry's default maxParticipants, unlocked, no password). If the room is newly
// created and newPassword is non-empty, it is set on creation — this is the
// "password on first join" behavior spec.md keeps as load-bearing.
func (r *Registry) GetOrCreateRoom(id, newPassword string) (*Room, bool) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[id]; ok {
		return room, false
	}

	room := &Room{
		ID:              id,
		Participants:    make(map[string]*Participant),
		WaitingRoom:     make(map[string]*WaitingParticipant),
		Password:        newPassword,
		CreatedAt:       time.Now(),
		MaxParticipants: r.defaultMaxParts,
	}
	r.rooms[id] = room
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	return room, true
}

// GetRoom returns the room if it exists, without creating it.
func (r *Registry) GetRoom(id string) (*Room, bool) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	return room, ok
}

// PreCreateRoom mints a latent, empty room and its creator token. Rejects if
// the id collides with an existing room, or if the latent room count has
// reached maxLatentRooms.
func (r *Registry) PreCreateRoom(id, password string, maxParticipants int) (roomID, creatorToken string, ok bool) {
	r.mu.Lock()

	if id == "" {
		id = generateRoomID()
	} else {
		id = normalizeID(id)
	}
	if _, exists := r.rooms[id]; exists {
		r.mu.Unlock()
		return "", "", false
	}

	latentCount := 0
	for _, room := range r.rooms {
		if room.IsPreCreated && len(room.Participants) == 0 {
			latentCount++
		}
	}
	if latentCount >= r.maxLatentRooms {
		r.mu.Unlock()
		return "", "", false
	}

	if maxParticipants <= 0 {
		maxParticipants = r.defaultMaxParts
	}

	token := uuid.New().String()
	room := &Room{
		ID:              id,
		Participants:    make(map[string]*Participant),
		WaitingRoom:     make(map[string]*WaitingParticipant),
		Password:        password,
		CreatedAt:       time.Now(),
		MaxParticipants: maxParticipants,
		CreatorToken:    token,
		IsPreCreated:    true,
	}
	r.rooms[id] = room
	metrics.ActiveRooms.Set(float64(len(r.rooms)))

	records := r.snapshotLatentLocked()
	r.mu.Unlock()
	r.persist(records)

	return id, token, true
}

// ValidatePassword returns true if the room has no password, the candidate
// matches exactly, or the room does not yet exist (the creation-window
// behavior: the first joiner defines the room's password).
func (r *Registry) ValidatePassword(id, candidate string) bool {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return true
	}
	return room.Password == "" || room.Password == candidate
}

// ValidateCreatorToken checks strict equality against the room's stored token.
func (r *Registry) ValidateCreatorToken(id, token string) bool {
	if token == "" {
		return false
	}
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return false
	}
	return room.CreatorToken != "" && room.CreatorToken == token
}

// AddToWaitingRoom inserts wp into the room's waiting map. Fails if the
// room's participants are already at capacity.
func (r *Registry) AddToWaitingRoom(id string, wp *WaitingParticipant) bool {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return false
	}
	if len(room.Participants) >= room.MaxParticipants {
		return false
	}
	wp.RoomID = id
	room.WaitingRoom[wp.ID] = wp
	metrics.ObserveWaitingRoomSize(id, len(room.WaitingRoom))
	return true
}

// AdmitFromWaitingRoom removes and returns a waiting entry, or (nil, false).
func (r *Registry) AdmitFromWaitingRoom(id, pid string) (*WaitingParticipant, bool) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, false
	}
	wp, ok := room.WaitingRoom[pid]
	if !ok {
		return nil, false
	}
	delete(room.WaitingRoom, pid)
	metrics.ObserveWaitingRoomSize(id, len(room.WaitingRoom))
	return wp, true
}

// RejectFromWaitingRoom removes and returns a waiting entry without admitting it.
func (r *Registry) RejectFromWaitingRoom(id, pid string) (*WaitingParticipant, bool) {
	return r.AdmitFromWaitingRoom(id, pid)
}

// AddParticipant inserts p into the room's participants if capacity allows.
// The first participant, or one explicitly flagged isHost, becomes host and
// gains moderator status.
func (r *Registry) AddParticipant(id string, p *Participant, isHost bool) bool {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return false
	}
	if len(room.Participants) >= room.MaxParticipants {
		return false
	}

	p.RoomID = id
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}

	becomesHost := isHost || len(room.Participants) == 0
	if becomesHost {
		p.IsModerator = true
		room.HostID = p.ID
	}

	room.Participants[p.ID] = p
	room.order = append(room.order, p.ID)

	metrics.ObserveRoomParticipants(id, len(room.Participants), room.IsPreCreated)
	r.observePeakLocked()
	return true
}

// RemoveParticipant removes pid from the room. If pid was host and other
// participants remain, one is deterministically promoted (earliest
// remaining by insertion order). If the room becomes empty and is not
// pre-created, the room is deleted.
//
// Returns the removed participant (nil if not found), the id of any newly
// promoted host (empty if none), and whether the room was deleted.
func (r *Registry) RemoveParticipant(id, pid string) (removed *Participant, promotedID string, roomDeleted bool) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, "", false
	}
	p, ok := room.Participants[pid]
	if !ok {
		return nil, "", false
	}

	delete(room.Participants, pid)
	room.order = removeFromOrder(room.order, pid)

	wasHost := room.HostID == pid
	if wasHost {
		room.HostID = ""
		if len(room.order) > 0 {
			nextID := room.order[0]
			if next, ok := room.Participants[nextID]; ok {
				next.IsModerator = true
				room.HostID = nextID
				promotedID = nextID
			}
		}
	}

	metrics.ObserveRoomParticipants(id, len(room.Participants), room.IsPreCreated)
	r.observePeakLocked()

	if len(room.Participants) == 0 && !room.IsPreCreated {
		delete(r.rooms, id)
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
		roomDeleted = true
	}

	return p, promotedID, roomDeleted
}

// UpdateParticipant merges the non-nil fields of patch into the participant's
// record and returns a value copy of the result. Callers must not be handed
// the live *Participant: it is registry-owned and may be mutated by another
// goroutine the moment mu is released, so every caller outside this package
// only ever sees a point-in-time snapshot.
func (r *Registry) UpdateParticipant(id, pid string, patch ParticipantPatch) (Participant, bool) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return Participant{}, false
	}
	p, ok := room.Participants[pid]
	if !ok {
		return Participant{}, false
	}

	if patch.IsModerator != nil {
		p.IsModerator = *patch.IsModerator
	}
	if patch.IsMuted != nil {
		p.IsMuted = *patch.IsMuted
	}
	if patch.IsVideoOff != nil {
		p.IsVideoOff = *patch.IsVideoOff
	}
	if patch.IsHandRaised != nil {
		p.IsHandRaised = *patch.IsHandRaised
	}
	return *p, true
}

// GetParticipantSnapshot returns a value copy of a participant's current
// state. Callers outside this package must use this instead of reaching into
// a Room's Participants map directly, since that map is only safe to read
// while mu is held.
func (r *Registry) GetParticipantSnapshot(id, pid string) (Participant, bool) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return Participant{}, false
	}
	p, ok := room.Participants[pid]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ListParticipantSnapshots returns a value-copy snapshot of every participant
// in the room, in join order.
func (r *Registry) ListParticipantSnapshots(id string) []Participant {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil
	}
	out := make([]Participant, 0, len(room.Participants))
	for _, pid := range room.order {
		if p, ok := room.Participants[pid]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// LockRoom sets isLocked on the room.
func (r *Registry) LockRoom(id string) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[id]; ok {
		room.IsLocked = true
	}
}

// UnlockRoom clears isLocked on the room.
func (r *Registry) UnlockRoom(id string) {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[id]; ok {
		room.IsLocked = false
	}
}

// IsRoomLocked reports the room's lock state (false for unknown rooms).
func (r *Registry) IsRoomLocked(id string) bool {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	return ok && room.IsLocked
}

// KickParticipant closes the target's socket (if open) and removes them.
func (r *Registry) KickParticipant(id, pid string) (*Participant, string, bool) {
	id = normalizeID(id)
	r.mu.Lock()
	room, ok := r.rooms[id]
	var sock Socket
	if ok {
		if p, ok := room.Participants[pid]; ok {
			sock = p.Socket
		}
	}
	r.mu.Unlock()

	if sock != nil && sock.IsOpen() {
		_ = sock.Close()
	}
	return r.RemoveParticipant(id, pid)
}

// Broadcast serializes once (by the caller) and sends message to every
// participant in the room whose socket is open, skipping excludeID.
func (r *Registry) Broadcast(id string, message []byte, excludeID string) {
	id = normalizeID(id)
	r.mu.Lock()
	var targets []Socket
	if room, ok := r.rooms[id]; ok {
		targets = make([]Socket, 0, len(room.Participants))
		for pid, p := range room.Participants {
			if pid == excludeID || p.Socket == nil || !p.Socket.IsOpen() {
				continue
			}
			targets = append(targets, p.Socket)
		}
	}
	r.mu.Unlock()

	for _, sock := range targets {
		_ = sock.Send(message)
	}
}

// BroadcastToModerators sends message to every moderator in the room.
func (r *Registry) BroadcastToModerators(id string, message []byte) {
	id = normalizeID(id)
	r.mu.Lock()
	var targets []Socket
	if room, ok := r.rooms[id]; ok {
		for _, p := range room.Participants {
			if p.IsModerator && p.Socket != nil && p.Socket.IsOpen() {
				targets = append(targets, p.Socket)
			}
		}
	}
	r.mu.Unlock()

	for _, sock := range targets {
		_ = sock.Send(message)
	}
}

// SendTo sends message to a single participant if present with an open socket.
func (r *Registry) SendTo(id, pid string, message []byte) bool {
	id = normalizeID(id)
	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	p, ok := room.Participants[pid]
	r.mu.Unlock()
	if !ok || p.Socket == nil || !p.Socket.IsOpen() {
		return false
	}
	return p.Socket.Send(message) == nil
}

// CleanupAbandonedRooms deletes every empty room whose age exceeds its
// applicable cap: latentRoomMaxAge for pre-created rooms, roomMaxAge for
// ad-hoc rooms. Rewrites the latent store if a pre-created
// room was removed. Returns the number of rooms evicted.
func (r *Registry) CleanupAbandonedRooms(roomMaxAge, latentRoomMaxAge time.Duration) int {
	now := time.Now()
	r.mu.Lock()

	evicted := 0
	latentRemoved := false
	for id, room := range r.rooms {
		if len(room.Participants) != 0 {
			continue
		}
		ageCap := roomMaxAge
		if room.IsPreCreated {
			ageCap = latentRoomMaxAge
		}
		if now.Sub(room.CreatedAt) <= ageCap {
			continue
		}
		delete(r.rooms, id)
		evicted++
		if room.IsPreCreated {
			latentRemoved = true
			metrics.JanitorEvictions.WithLabelValues("latent").Inc()
		} else {
			metrics.JanitorEvictions.WithLabelValues("adhoc").Inc()
		}
	}

	metrics.ActiveRooms.Set(float64(len(r.rooms)))

	var records []LatentRecord
	if latentRemoved {
		records = r.snapshotLatentLocked()
	}
	r.mu.Unlock()

	if latentRemoved {
		r.persist(records)
	}
	return evicted
}

// TotalRooms reports the current room count, for the health endpoint.
func (r *Registry) TotalRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// TotalParticipants reports the current participant count across all rooms.
func (r *Registry) TotalParticipants() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, room := range r.rooms {
		total += len(room.Participants)
	}
	return total
}

// observePeakLocked updates the peak-participants gauge. Must be called
// with mu held.
func (r *Registry) observePeakLocked() {
	total := 0
	for _, room := range r.rooms {
		total += len(room.Participants)
	}
	metrics.ObservePeak(total)
}

// snapshotLatentLocked builds the latent record set. Must be called with mu held.
func (r *Registry) snapshotLatentLocked() []LatentRecord {
	var records []LatentRecord
	for _, room := range r.rooms {
		if !room.IsPreCreated {
			continue
		}
		records = append(records, LatentRecord{
			RoomID:          room.ID,
			Password:        room.Password,
			CreatorToken:    room.CreatorToken,
			CreatedAt:       room.CreatedAt,
			MaxParticipants: room.MaxParticipants,
		})
	}
	metrics.LatentRooms.Set(float64(len(records)))
	return records
}

// persist writes the latent record snapshot to disk. Called without the
// registry lock held, per the concurrency contract: no suspension point
// (here, file I/O) may occur while mu is locked.
func (r *Registry) persist(records []LatentRecord) {
	if r.persister == nil {
		return
	}
	if err := r.persister.Save(records); err != nil {
		metrics.LatentStoreWriteFailures.Inc()
		logging.Error(context.Background(), "failed to persist latent room store", zap.Error(err))
	}
}

func removeFromOrder(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func normalizeID(id string) string {
	return strings.ToUpper(id)
}

func generateRoomID() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	u := uuid.New()
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[int(u[i])%len(alphabet)]
	}
	return string(b)
}

// Package roomapi exposes the REST surface for pre-creating latent rooms.
package roomapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Creator is implemented by the room registry.
type Creator interface {
	PreCreateRoom(id, password string, maxParticipants int) (roomID, creatorToken string, ok bool)
}

// Handler serves the latent-room pre-create endpoint.
type Handler struct {
	creator Creator
}

// NewHandler creates a roomapi Handler backed by the given Creator.
func NewHandler(creator Creator) *Handler {
	return &Handler{creator: creator}
}

// createRequest is the optional JSON body of POST /api/rooms.
type createRequest struct {
	RoomID          string `json:"roomId"`
	Password        string `json:"password"`
	MaxParticipants int    `json:"maxParticipants"`
}

// createResponse is the body returned on a successful pre-create.
type createResponse struct {
	RoomID       string `json:"roomId"`
	CreatorToken string `json:"creatorToken"`
}

// CreateRoom handles POST /api/rooms: pre-creates an empty, latent room. A
// missing or empty body is valid — the registry mints an id and applies
// defaults. Responds 201 on success. Creator reports only success or
// failure, so the status on failure depends on the request alone: with no
// roomId it is 429 (the latent-room cap has been reached); with a roomId it
// is 409, whether the id already exists or the cap has been reached.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}
	}

	roomID, creatorToken, ok := h.creator.PreCreateRoom(req.RoomID, req.Password, req.MaxParticipants)
	if !ok {
		if req.RoomID != "" {
			c.JSON(http.StatusConflict, gin.H{"message": "room already exists or latent room capacity reached"})
			return
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "latent room capacity reached"})
		return
	}

	c.JSON(http.StatusCreated, createResponse{RoomID: roomID, CreatorToken: creatorToken})
}

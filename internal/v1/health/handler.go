// Package health exposes the server's health/status endpoint.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/metrics"
)

// StatsSource reports the registry's current shape for the health endpoint.
// Implemented by the room registry; declared here so health does not import
// the registry package directly.
type StatsSource interface {
	TotalRooms() int
	TotalParticipants() int
}

// Handler serves the signaling server's health/status endpoint.
type Handler struct {
	stats     StatsSource
	startedAt time.Time
	version   string
}

// NewHandler creates a health Handler reporting on stats from the given source.
func NewHandler(stats StatsSource, version string) *Handler {
	return &Handler{
		stats:     stats,
		startedAt: time.Now(),
		version:   version,
	}
}

// StatusResponse is the body returned by GET /health.
type StatusResponse struct {
	TotalRooms        int     `json:"totalRooms"`
	TotalParticipants int     `json:"totalParticipants"`
	PeakParticipants  int     `json:"peakParticipants"`
	Uptime            float64 `json:"uptime"`
	Version           string  `json:"version"`
}

// Health handles GET /health, returning server-wide room/participant stats.
// There are no external dependencies left to probe (no Redis, no SFU): a
// single-process signaling server is healthy whenever it can answer at all.
func (h *Handler) Health(c *gin.Context) {
	totalRooms, totalParticipants := 0, 0
	if h.stats != nil {
		totalRooms = h.stats.TotalRooms()
		totalParticipants = h.stats.TotalParticipants()
	}

	c.JSON(http.StatusOK, StatusResponse{
		TotalRooms:        totalRooms,
		TotalParticipants: totalParticipants,
		PeakParticipants:  metrics.Peak(),
		Uptime:            time.Since(h.startedAt).Seconds(),
		Version:           h.version,
	})
}

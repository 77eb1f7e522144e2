// Package janitor runs the periodic sweep that evicts abandoned rooms.
package janitor

import (
	"context"
	"time"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/logging"
	"go.uber.org/zap"
)

// Cleaner is implemented by the registry.
type Cleaner interface {
	CleanupAbandonedRooms(roomMaxAge, latentRoomMaxAge time.Duration) int
}

// Janitor runs registry.CleanupAbandonedRooms on a fixed interval. Latent
// rooms use their own, independently-configured max age within the same
// sweep (spec.md allows collapsing the two schedules into one).
type Janitor struct {
	cleaner          Cleaner
	interval         time.Duration
	roomMaxAge       time.Duration
	latentRoomMaxAge time.Duration
}

// New creates a Janitor. Call Run in its own goroutine.
func New(cleaner Cleaner, interval, roomMaxAge, latentRoomMaxAge time.Duration) *Janitor {
	return &Janitor{
		cleaner:          cleaner,
		interval:         interval,
		roomMaxAge:       roomMaxAge,
		latentRoomMaxAge: latentRoomMaxAge,
	}
}

// Run blocks, sweeping every interval until ctx is canceled. The periodic
// timer is one of the two suspension points the concurrency model allows
// outside of socket I/O.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	evicted := j.cleaner.CleanupAbandonedRooms(j.roomMaxAge, j.latentRoomMaxAge)
	if evicted > 0 {
		logging.Info(ctx, "janitor evicted abandoned rooms", zap.Int("count", evicted))
	}
}

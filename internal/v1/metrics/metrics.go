package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: signaling (application-level grouping)
// - subsystem: websocket, room, waiting_room, rate_limit, janitor, latent_room
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (messages processed, evictions, rejections)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms held in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms held in the registry",
	})

	// RoomParticipants tracks the number of participants in each room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// TotalParticipants tracks the current number of participants across all rooms.
	TotalParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "participants_total",
		Help:      "Current number of participants across all rooms",
	})

	// PeakParticipants tracks the highest concurrent participant count observed since start.
	PeakParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "participants_peak",
		Help:      "Highest concurrent participant count observed since process start",
	})

	// WaitingRoomSize tracks the number of candidates currently pending admission, per room.
	WaitingRoomSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "waiting_room",
		Name:      "pending_count",
		Help:      "Number of waiting participants pending admission in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of inbound envelope types processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket envelopes processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing an inbound envelope.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing one inbound WebSocket envelope",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// RateLimitExceeded tracks connection attempts rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of connection attempts rejected by the rate limiter",
	}, []string{"reason"})

	// RateLimitRequests tracks the total number of connection attempts checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of connection attempts checked against the rate limiter",
	}, []string{"endpoint"})

	// JanitorEvictions tracks rooms removed by the periodic cleanup sweep.
	JanitorEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "janitor",
		Name:      "evictions_total",
		Help:      "Total number of rooms evicted by the janitor",
	}, []string{"room_type"})

	// LatentRooms tracks the current number of pre-created, empty latent rooms.
	LatentRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "latent_room",
		Name:      "rooms_active",
		Help:      "Current number of pre-created latent rooms",
	})

	// LatentStoreWriteFailures tracks failures to persist the latent room store to disk.
	LatentStoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "latent_room",
		Name:      "store_write_failures_total",
		Help:      "Total number of failed writes to the latent room persistence file",
	})
)

// IncConnection records a newly-accepted WebSocket connection.
func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

// DecConnection records a closed WebSocket connection.
func DecConnection() {
	ActiveWebSocketConnections.Dec()
}

// ObserveRoomParticipants updates the per-room gauge, removing the series once a room is empty
// and not pre-created so cardinality does not grow unbounded with ad-hoc room churn.
func ObserveRoomParticipants(roomID string, count int, keep bool) {
	if count == 0 && !keep {
		RoomParticipants.DeleteLabelValues(roomID)
		return
	}
	RoomParticipants.WithLabelValues(roomID).Set(float64(count))
}

// ObserveWaitingRoomSize updates the per-room waiting count gauge.
func ObserveWaitingRoomSize(roomID string, count int) {
	if count == 0 {
		WaitingRoomSize.DeleteLabelValues(roomID)
		return
	}
	WaitingRoomSize.WithLabelValues(roomID).Set(float64(count))
}

// ObservePeak updates PeakParticipants if the current total participant count is a new high.
var peakParticipants int

func ObservePeak(current int) {
	TotalParticipants.Set(float64(current))
	if current > peakParticipants {
		peakParticipants = current
		PeakParticipants.Set(float64(current))
	}
}

// Peak returns the highest concurrent participant count observed since process start.
func Peak() int {
	return peakParticipants
}

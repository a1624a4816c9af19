package agents

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradewind/internal/bus"
)

const (
	// heartbeatTopic is the broadcast subject for liveness announcements.
	heartbeatTopic = "agents.heartbeat"

	// defaultHeartbeatInterval applies when the worker config leaves the
	// interval unset.
	defaultHeartbeatInterval = 30 * time.Second
)

// HeartbeatMessage is the liveness payload workers broadcast.
type HeartbeatMessage struct {
	AgentName string    `json:"agent_name"`
	AgentType string    `json:"agent_type"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// Heartbeat periodically announces worker liveness on the bus.
type Heartbeat struct {
	bus       *bus.Bus
	agentName string
	agentType string
	interval  time.Duration
	log       zerolog.Logger
	stopChan  chan struct{}
	running   atomic.Bool
}

func newHeartbeat(b *bus.Bus, name, agentType string, interval time.Duration, log zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Heartbeat{
		bus:       b,
		agentName: name,
		agentType: agentType,
		interval:  interval,
		log:       log.With().Str("component", "heartbeat").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start begins broadcasting. The first heartbeat goes out immediately,
// then one per interval until Stop.
func (h *Heartbeat) Start() {
	if h.running.Load() {
		h.log.Warn().Msg("Heartbeat already running")
		return
	}
	if h.bus == nil {
		h.log.Warn().Msg("Cannot start heartbeat: no bus")
		return
	}

	h.running.Store(true)
	ticker := time.NewTicker(h.interval)

	go func() {
		h.PublishStatus("healthy")

		for {
			select {
			case <-ticker.C:
				h.PublishStatus("healthy")
			case <-h.stopChan:
				ticker.Stop()
				h.log.Debug().Msg("Heartbeat stopped")
				return
			}
		}
	}()

	h.log.Info().Dur("interval", h.interval).Msg("Heartbeat started")
}

// PublishStatus broadcasts a single heartbeat with the given status.
func (h *Heartbeat) PublishStatus(status string) {
	if h.bus == nil {
		return
	}

	hb := HeartbeatMessage{
		AgentName: h.agentName,
		AgentType: h.agentType,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}

	if err := h.bus.Broadcast(heartbeatTopic, hb); err != nil {
		h.log.Error().Err(err).Msg("Failed to publish heartbeat")
		return
	}

	h.log.Debug().Str("status", status).Msg("Heartbeat published")
}

// Stop halts broadcasting. Safe to call more than once.
func (h *Heartbeat) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	close(h.stopChan)
}

// IsRunning reports whether the heartbeat loop is active.
func (h *Heartbeat) IsRunning() bool {
	return h.running.Load()
}

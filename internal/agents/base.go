// Package agents provides the shared runtime for pipeline workers:
// lifecycle, periodic stepping, bus subscriptions, durable state and
// per-worker metrics.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradewind/internal/bus"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/metrics"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

const (
	// shutdownTimeout bounds each graceful shutdown phase.
	shutdownTimeout = 5 * time.Second

	// controlTopic carries pause/resume events for every worker.
	controlTopic = "control.events"
)

// Config holds identity and cadence for a worker.
type Config struct {
	// Name is the worker's unique name in the deployment. It becomes
	// part of durable consumer names and metric names.
	Name string
	// Type is the worker class: strategy, risk, execution, collector,
	// technical.
	Type string
	// StepInterval is the time between decision cycles for periodic
	// workers. Message-driven workers may leave it zero and never call
	// Run.
	StepInterval time.Duration
	// MetricsPort is where /metrics and /health are served.
	MetricsPort int
	// HeartbeatInterval overrides the liveness announcement cadence.
	// Zero means the 30 second default.
	HeartbeatInterval time.Duration
}

// BaseAgent is embedded by every worker. It owns the runtime concerns
// of a worker process; the bus and store handles are shared with the
// embedding worker and stay open across Shutdown for the caller to
// close.
type BaseAgent struct {
	cfg Config

	bus   *bus.Bus
	store *db.Store

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context

	paused      bool
	pauseReason string
	pausedMutex sync.RWMutex

	controlSub *nats.Subscription
	heartbeat  *Heartbeat

	log zerolog.Logger

	metrics       *WorkerMetrics
	metricsServer *metrics.Server
}

// New creates a worker runtime around shared bus and store handles.
// Either handle may be nil: a nil store disables registration and
// durable state, a nil bus disables control events and heartbeats.
func New(cfg Config, b *bus.Bus, store *db.Store, log zerolog.Logger) *BaseAgent {
	workerLog := log.With().Str("agent", cfg.Name).Str("type", cfg.Type).Logger()

	return &BaseAgent{
		cfg:           cfg,
		bus:           b,
		store:         store,
		log:           workerLog,
		metrics:       newWorkerMetrics(cfg.Name),
		metricsServer: metrics.NewServer(cfg.MetricsPort, workerLog),
	}
}

// Initialize registers the worker, starts the metrics server and
// heartbeat, and subscribes to control events. Call before Run or
// Subscribe.
func (a *BaseAgent) Initialize(ctx context.Context) error {
	a.log.Info().Msg("Initializing worker")

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.group, a.groupCtx = errgroup.WithContext(a.ctx)

	if a.store != nil {
		reg := &db.AgentConfig{
			AgentName: a.cfg.Name,
			AgentType: a.cfg.Type,
			Config: map[string]interface{}{
				"step_interval_seconds": a.cfg.StepInterval.Seconds(),
				"metrics_port":          a.cfg.MetricsPort,
			},
			Enabled: true,
		}
		if err := a.store.UpsertAgentConfig(a.ctx, reg); err != nil {
			return fmt.Errorf("failed to register worker: %w", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			// Metrics exposure is not load-bearing; keep initializing.
			a.log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	if a.bus != nil {
		sub, err := a.bus.SubscribeBroadcast(controlTopic, a.handleControlEvent)
		if err != nil {
			return fmt.Errorf("failed to subscribe to control events: %w", err)
		}
		a.controlSub = sub

		a.heartbeat = newHeartbeat(a.bus, a.cfg.Name, a.cfg.Type, a.cfg.HeartbeatInterval, a.log)
		a.heartbeat.Start()
	}

	a.metrics.Status.Set(1)
	a.log.Info().Msg("Worker initialized")
	return nil
}

// Name returns the worker's name.
func (a *BaseAgent) Name() string { return a.cfg.Name }

// Type returns the worker's class.
func (a *BaseAgent) Type() string { return a.cfg.Type }

// Log returns the worker's contextual logger. The pointer keeps the
// returned logger addressable for zerolog's pointer-receiver methods.
func (a *BaseAgent) Log() *zerolog.Logger { return &a.log }

// Metrics returns the worker's Prometheus instruments.
func (a *BaseAgent) Metrics() *WorkerMetrics { return a.metrics }

// Bus returns the shared bus handle.
func (a *BaseAgent) Bus() *bus.Bus { return a.bus }

// Store returns the shared store handle.
func (a *BaseAgent) Store() *db.Store { return a.store }

// Context returns the worker's lifecycle context. It is cancelled on
// Shutdown.
func (a *BaseAgent) Context() context.Context { return a.ctx }

// Go runs fn as a tracked child task. Shutdown waits for all children.
// Errors are logged and counted, not propagated: one failed child must
// not tear down its siblings.
func (a *BaseAgent) Go(name string, fn func(ctx context.Context) error) {
	a.group.Go(func() error {
		if err := fn(a.groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error().Err(err).Str("task", name).Msg("Child task failed")
			a.metrics.ErrorsTotal.Inc()
		}
		return nil
	})
}

// Subscribe registers a durable consumer on the topic and counts every
// handled message against the worker's metrics.
func (a *BaseAgent) Subscribe(topic string, handler bus.Handler) error {
	return a.bus.Subscribe(a.ctx, topic, func(ctx context.Context, msg protocol.Message) error {
		a.metrics.MessagesTotal.Inc()
		if err := handler(ctx, msg); err != nil {
			a.metrics.ErrorsTotal.Inc()
			return err
		}
		return nil
	})
}

// SaveState persists v as the worker's durable state blob.
func (a *BaseAgent) SaveState(ctx context.Context, v interface{}) error {
	if a.store == nil {
		return fmt.Errorf("no store configured")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal worker state: %w", err)
	}

	return a.store.SaveAgentState(ctx, a.cfg.Name, data)
}

// LoadState restores the worker's durable state into v. The second
// return is false when the worker has never saved state, which is a
// normal first boot.
func (a *BaseAgent) LoadState(ctx context.Context, v interface{}) (bool, error) {
	if a.store == nil {
		return false, nil
	}

	data, err := a.store.LoadAgentState(ctx, a.cfg.Name)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal worker state: %w", err)
	}

	return true, nil
}

// Shutdown stops the worker: cancels the lifecycle context, stops the
// heartbeat, unsubscribes from control events, shuts the metrics server
// down and waits for child tasks up to the caller's deadline.
func (a *BaseAgent) Shutdown(ctx context.Context) error {
	a.log.Info().Msg("Shutting down worker")

	if a.cancel != nil {
		a.cancel()
	}

	if a.heartbeat != nil {
		a.heartbeat.PublishStatus("stopping")
		a.heartbeat.Stop()
	}

	if a.controlSub != nil {
		if err := a.controlSub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			a.log.Error().Err(err).Msg("Error unsubscribing from control events")
		}
	}

	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("Error shutting down metrics server")
		}
	}

	done := make(chan struct{})
	go func() {
		if a.group != nil {
			_ = a.group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		a.log.Info().Msg("Worker shutdown complete")
	case <-ctx.Done():
		a.log.Warn().Msg("Worker shutdown timed out waiting for child tasks")
		return ctx.Err()
	}

	a.metrics.Status.Set(0)
	return nil
}

// handleControlEvent processes pause/resume broadcasts.
func (a *BaseAgent) handleControlEvent(data []byte) {
	var event map[string]interface{}
	if err := json.Unmarshal(data, &event); err != nil {
		a.log.Error().Err(err).Msg("Failed to unmarshal control event")
		return
	}

	eventType, ok := event["event"].(string)
	if !ok {
		a.log.Warn().Msg("Control event missing 'event' field")
		return
	}

	switch eventType {
	case "trading_paused":
		reason := "unknown"
		if r, ok := event["reason"].(string); ok {
			reason = r
		}

		a.pausedMutex.Lock()
		a.paused = true
		a.pauseReason = reason
		a.pausedMutex.Unlock()

		a.log.Info().Str("reason", reason).Msg("Trading paused, halting decision cycles")

	case "trading_resumed":
		a.pausedMutex.Lock()
		a.paused = false
		a.pauseReason = ""
		a.pausedMutex.Unlock()

		a.log.Info().Msg("Trading resumed")

	default:
		a.log.Debug().Str("event", eventType).Msg("Unknown control event received")
	}
}

// IsPaused reports whether trading is currently paused.
func (a *BaseAgent) IsPaused() bool {
	a.pausedMutex.RLock()
	defer a.pausedMutex.RUnlock()
	return a.paused
}

// PauseReason returns the reason given with the active pause, if any.
func (a *BaseAgent) PauseReason() string {
	a.pausedMutex.RLock()
	defer a.pausedMutex.RUnlock()
	return a.pauseReason
}

// CheckPausedAndSkip reports whether the current cycle should be
// skipped because trading is paused, logging the skip.
func (a *BaseAgent) CheckPausedAndSkip() bool {
	if a.IsPaused() {
		a.log.Debug().Msg("Trading is paused, skipping worker step")
		return true
	}
	return false
}

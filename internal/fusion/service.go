package fusion

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ajitpratap0/tradewind/internal/agents"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/metrics"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// workerState is the durable blob the strategy worker round-trips
// through agent_configs. Keeping the accuracy history across restarts
// stops the bayesian weights from resetting to neutral on every deploy.
type workerState struct {
	BayesianHistory map[string][]float64 `json:"bayesian_history"`
}

// Service is the strategy worker: it buffers signals from the analysis
// topics and periodically fuses them into trade intents for the risk
// core.
type Service struct {
	*agents.BaseAgent

	cfg     Config
	engine  *Engine
	tracker *PerformanceTracker
}

// NewService builds the strategy worker on the shared runtime.
func NewService(base *agents.BaseAgent, cfg Config) (*Service, error) {
	tracker := NewPerformanceTracker(cfg.HistoryWindow)
	policy, err := NewPolicy(cfg, tracker)
	if err != nil {
		return nil, err
	}

	return &Service{
		BaseAgent: base,
		cfg:       cfg,
		engine:    NewEngine(cfg, policy, base.Log()),
		tracker:   tracker,
	}, nil
}

// Initialize prepares the runtime, restores the bayesian accuracy
// history and subscribes to the signal topics.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.BaseAgent.Initialize(ctx); err != nil {
		return err
	}

	var state workerState
	found, err := s.LoadState(ctx, &state)
	if err != nil {
		s.Log().Error().Err(err).Msg("Failed to load worker state, starting fresh")
	} else if found && len(state.BayesianHistory) > 0 {
		s.tracker.Restore(state.BayesianHistory)
		s.Log().Info().
			Int("agent_classes", len(state.BayesianHistory)).
			Msg("Restored accuracy history")
	}

	for _, topic := range []string{
		protocol.TopicSignalsTechnical,
		protocol.TopicSignalsFundamental,
		protocol.TopicSignalsSentiment,
	} {
		if err := s.Subscribe(topic, s.handleSignal); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	s.Log().Info().
		Str("policy", s.cfg.Policy).
		Int("min_signals", s.cfg.MinSignals).
		Float64("min_confidence", s.cfg.MinConfidence).
		Msg("Strategy worker ready")
	return nil
}

// Run executes decision passes on the configured interval until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.BaseAgent.Run(ctx, s.step)
}

// Shutdown saves the accuracy history and stops the runtime.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.Store() != nil {
		state := workerState{BayesianHistory: s.tracker.Snapshot()}
		if err := s.SaveState(ctx, state); err != nil {
			s.Log().Error().Err(err).Msg("Failed to save worker state")
		}
	}
	return s.BaseAgent.Shutdown(ctx)
}

// UpdatePerformance records a realized accuracy observation for an
// agent class, feeding the bayesian weights.
func (s *Service) UpdatePerformance(agentType string, accuracy float64) {
	s.tracker.Update(agentType, accuracy)
	s.Log().Info().
		Str("agent_type", agentType).
		Float64("accuracy", accuracy).
		Msg("Agent performance updated")
}

func (s *Service) handleSignal(ctx context.Context, msg protocol.Message) error {
	sig, ok := msg.(*protocol.Signal)
	if !ok {
		return fmt.Errorf("unexpected %s message on signal topic", msg.Kind())
	}
	if sig.Symbol == "" {
		return fmt.Errorf("signal without symbol from %s", sig.SourceAgent)
	}

	s.engine.AddSignal(sig)
	return nil
}

// step runs one fusion pass: evaluate every symbol with enough pending
// signals, persist every decision, publish the emitted ones, prune
// stale buffer entries.
func (s *Service) step(ctx context.Context) error {
	now := time.Now().UTC()

	for _, decision := range s.engine.Evaluate(now) {
		s.persistDecision(ctx, decision)

		if decision.Suppressed {
			metrics.RecordFusionOutcome(decision.SuppressReason)
			continue
		}

		if err := s.publishIntent(ctx, decision); err != nil {
			s.Log().Error().
				Err(err).
				Str("symbol", decision.Symbol).
				Msg("Failed to publish trade intent")
			continue
		}
		metrics.RecordTradeIntent(decision.Policy, string(decision.Direction))
	}

	s.engine.Prune(now)
	return nil
}

func (s *Service) publishIntent(ctx context.Context, d Decision) error {
	intentID := protocol.NewCorrelationID()

	header := protocol.NewHeader(protocol.TypeTradeIntent, s.Name()).
		WithCorrelation(intentID).
		WithMeta("fusion_policy", d.Policy).
		WithMeta("num_signals", d.NumSignals)
	if d.StopLoss > 0 {
		header = header.WithMeta("stop_loss", d.StopLoss)
	}
	if d.TakeProfit > 0 {
		header = header.WithMeta("take_profit", d.TakeProfit)
	}

	intent := &protocol.TradeIntent{
		Header:        header,
		IntentID:      intentID,
		Symbol:        d.Symbol,
		Side:          d.Direction,
		Quantity:      0, // sized by the risk core
		ExpectedPrice: d.ExpectedPrice,
		Strategy:      d.Policy,
		Confidence:    math.Min(d.Confidence, 1.0),
		SignalCount:   d.NumSignals,
		Sources:       d.Sources,
		Reasoning:     strings.Join(d.Reasoning, "; "),
	}

	return s.Bus().Publish(ctx, protocol.TopicTradeIntent, intent, protocol.PriorityIntent)
}

// persistDecision records the evaluation outcome, suppressed or not.
// Telemetry write, best effort.
func (s *Service) persistDecision(ctx context.Context, d Decision) {
	if s.Store() == nil {
		return
	}

	record := &db.StrategyDecision{
		Symbol:         d.Symbol,
		SignalType:     d.Direction,
		Confidence:     d.Confidence,
		FusionStrategy: d.Policy,
		NumSignals:     d.NumSignals,
		FusionDetails:  d.Details,
		Metadata:       map[string]interface{}{"sources": d.Sources},
	}
	if len(d.Reasoning) > 0 {
		joined := strings.Join(d.Reasoning, "; ")
		record.Reasoning = &joined
	}
	if d.PriceTarget > 0 {
		record.PriceTarget = &d.PriceTarget
	}
	if d.StopLoss > 0 {
		record.StopLoss = &d.StopLoss
	}
	if d.TakeProfit > 0 {
		record.TakeProfit = &d.TakeProfit
	}
	if d.Suppressed {
		record.Metadata["suppressed"] = true
		record.Metadata["suppress_reason"] = d.SuppressReason
	}

	if err := s.Store().InsertStrategyDecision(ctx, record); err != nil {
		s.Log().Error().
			Err(err).
			Str("symbol", d.Symbol).
			Msg("Failed to persist strategy decision")
	}
}

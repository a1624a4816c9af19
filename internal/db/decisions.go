package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// StrategyDecision is a row in strategy_decisions: the outcome of one
// fusion evaluation, including suppressed HOLD decisions.
type StrategyDecision struct {
	ID             uuid.UUID
	Symbol         string
	SignalType     protocol.Direction
	Confidence     float64
	FusionStrategy string
	NumSignals     int
	Reasoning      *string
	FusionDetails  map[string]interface{}
	PriceTarget    *float64
	StopLoss       *float64
	TakeProfit     *float64
	Metadata       map[string]interface{}
	CreatedAt      time.Time
}

// InsertStrategyDecision persists a fusion outcome.
func (s *Store) InsertStrategyDecision(ctx context.Context, decision *StrategyDecision) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if decision.ID == uuid.Nil {
		decision.ID = uuid.New()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO strategy_decisions (
			id, symbol, signal_type, confidence, fusion_strategy, num_signals,
			reasoning, fusion_details, price_target, stop_loss, take_profit,
			metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		decision.ID,
		decision.Symbol,
		decision.SignalType,
		decision.Confidence,
		decision.FusionStrategy,
		decision.NumSignals,
		decision.Reasoning,
		decision.FusionDetails,
		decision.PriceTarget,
		decision.StopLoss,
		decision.TakeProfit,
		decision.Metadata,
		decision.CreatedAt,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", decision.Symbol).
			Str("fusion_strategy", decision.FusionStrategy).
			Msg("Failed to insert strategy decision")
		return fmt.Errorf("failed to insert strategy decision: %w", err)
	}

	return nil
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// SignalRecord is a row in signals: one directional opinion emitted by a
// signal-producing worker.
type SignalRecord struct {
	ID          uuid.UUID
	AgentType   string
	AgentName   string
	Symbol      string
	SignalType  protocol.Direction
	Confidence  float64
	PriceTarget *float64
	StopLoss    *float64
	TakeProfit  *float64
	Reasoning   *string
	Indicators  map[string]float64
	Metadata    map[string]interface{}
	CreatedAt   time.Time
}

// InsertSignal persists an emitted signal.
func (s *Store) InsertSignal(ctx context.Context, signal *SignalRecord) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if signal.ID == uuid.Nil {
		signal.ID = uuid.New()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO signals (
			id, agent_type, agent_name, symbol, signal_type, confidence,
			price_target, stop_loss, take_profit, reasoning, indicators,
			metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		signal.ID,
		signal.AgentType,
		signal.AgentName,
		signal.Symbol,
		signal.SignalType,
		signal.Confidence,
		signal.PriceTarget,
		signal.StopLoss,
		signal.TakeProfit,
		signal.Reasoning,
		signal.Indicators,
		signal.Metadata,
		signal.CreatedAt,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("agent_name", signal.AgentName).
			Str("symbol", signal.Symbol).
			Msg("Failed to insert signal")
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	return nil
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Trade is a row in trades: one executed fill as confirmed by the
// exchange.
type Trade struct {
	ID            uuid.UUID
	Exchange      string
	Symbol        string
	Side          protocol.Direction
	OrderType     protocol.OrderType
	Quantity      float64
	Price         float64
	Fee           float64
	FeeCurrency   *string
	Status        protocol.OrderStatus
	OrderID       string
	ExecutionTime time.Time
	Metadata      map[string]interface{}
}

// RecordTrade persists an executed trade. The unique (exchange, order_id)
// constraint collapses redelivered fill notifications: the first insert
// wins and later attempts return false so callers skip re-publishing.
func (s *Store) RecordTrade(ctx context.Context, trade *Trade) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if trade.ExecutionTime.IsZero() {
		trade.ExecutionTime = time.Now().UTC()
	}

	query := `
		INSERT INTO trades (
			id, exchange, symbol, side, order_type, quantity, price,
			fee, fee_currency, status, order_id, execution_time, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (exchange, order_id) DO NOTHING
	`

	result, err := s.pool.Exec(ctx, query,
		trade.ID,
		trade.Exchange,
		trade.Symbol,
		trade.Side,
		trade.OrderType,
		trade.Quantity,
		trade.Price,
		trade.Fee,
		trade.FeeCurrency,
		trade.Status,
		trade.OrderID,
		trade.ExecutionTime,
		trade.Metadata,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", trade.OrderID).
			Str("symbol", trade.Symbol).
			Msg("Failed to record trade")
		return false, fmt.Errorf("failed to record trade: %w", err)
	}

	inserted := result.RowsAffected() == 1
	if !inserted {
		log.Debug().
			Str("order_id", trade.OrderID).
			Str("exchange", trade.Exchange).
			Msg("Trade already recorded, skipping")
		return false, nil
	}

	log.Debug().
		Str("trade_id", trade.ID.String()).
		Str("order_id", trade.OrderID).
		Float64("price", trade.Price).
		Float64("quantity", trade.Quantity).
		Msg("Trade recorded")

	return true, nil
}

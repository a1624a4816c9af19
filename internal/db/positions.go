package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// PositionRecord is a row in positions. The execution worker owns the
// live ledger in memory; every mutation is written through here so the
// ledger and portfolio risk survive restarts.
type PositionRecord struct {
	ID            uuid.UUID
	Exchange      string
	Symbol        string
	Side          protocol.PositionSide
	Quantity      float64
	EntryPrice    float64
	CurrentPrice  *float64
	UnrealizedPnL float64
	RealizedPnL   float64
	StopLoss      *float64
	TakeProfit    *float64
	Leverage      float64
	Margin        *float64
	Status        protocol.PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	Metadata      map[string]interface{}
}

// CreatePosition inserts a newly opened position.
func (s *Store) CreatePosition(ctx context.Context, position *PositionRecord) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if position.ID == uuid.Nil {
		position.ID = uuid.New()
	}
	if position.OpenedAt.IsZero() {
		position.OpenedAt = time.Now().UTC()
	}
	if position.Status == "" {
		position.Status = protocol.PositionOpen
	}
	if position.Leverage == 0 {
		position.Leverage = 1
	}

	query := `
		INSERT INTO positions (
			id, exchange, symbol, side, quantity, entry_price, current_price,
			unrealized_pnl, realized_pnl, stop_loss, take_profit, leverage,
			margin, status, opened_at, closed_at, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err := s.pool.Exec(ctx, query,
		position.ID,
		position.Exchange,
		position.Symbol,
		position.Side,
		position.Quantity,
		position.EntryPrice,
		position.CurrentPrice,
		position.UnrealizedPnL,
		position.RealizedPnL,
		position.StopLoss,
		position.TakeProfit,
		position.Leverage,
		position.Margin,
		position.Status,
		position.OpenedAt,
		position.ClosedAt,
		position.Metadata,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", position.Symbol).
			Str("side", string(position.Side)).
			Msg("Failed to create position")
		return fmt.Errorf("failed to create position: %w", err)
	}

	log.Debug().
		Str("position_id", position.ID.String()).
		Str("symbol", position.Symbol).
		Float64("quantity", position.Quantity).
		Float64("entry_price", position.EntryPrice).
		Msg("Position created")

	return nil
}

// UpdatePosition rewrites the mutable fields of a position.
func (s *Store) UpdatePosition(ctx context.Context, position *PositionRecord) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `
		UPDATE positions
		SET
			quantity = $2,
			entry_price = $3,
			current_price = $4,
			unrealized_pnl = $5,
			realized_pnl = $6,
			stop_loss = $7,
			take_profit = $8,
			status = $9,
			closed_at = $10,
			metadata = $11
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		position.ID,
		position.Quantity,
		position.EntryPrice,
		position.CurrentPrice,
		position.UnrealizedPnL,
		position.RealizedPnL,
		position.StopLoss,
		position.TakeProfit,
		position.Status,
		position.ClosedAt,
		position.Metadata,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("position_id", position.ID.String()).
			Msg("Failed to update position")
		return fmt.Errorf("failed to update position: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", position.ID, ErrNotFound)
	}

	return nil
}

// UpdatePositionPrice refreshes the mark price and unrealized PnL of an
// open position without touching the rest of the row.
func (s *Store) UpdatePositionPrice(ctx context.Context, id uuid.UUID, currentPrice, unrealizedPnL float64) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `
		UPDATE positions
		SET current_price = $2, unrealized_pnl = $3
		WHERE id = $1 AND status != 'CLOSED'
	`

	result, err := s.pool.Exec(ctx, query, id, currentPrice, unrealizedPnL)
	if err != nil {
		return fmt.Errorf("failed to update position price: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("open position %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetOpenPositions retrieves every position that has not been fully
// closed, oldest first. Partially closed positions still carry exposure
// and are included.
func (s *Store) GetOpenPositions(ctx context.Context) ([]*PositionRecord, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `
		SELECT
			id, exchange, symbol, side, quantity, entry_price, current_price,
			unrealized_pnl, realized_pnl, stop_loss, take_profit, leverage,
			margin, status, opened_at, closed_at, metadata
		FROM positions
		WHERE status != 'CLOSED'
		ORDER BY opened_at ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// PositionStats aggregates realized performance across the whole book.
type PositionStats struct {
	RealizedPnL     float64
	ClosedPositions int64
	WinningClosed   int64
}

// GetPositionStats returns realized P&L summed over every position and
// win counts over fully closed ones.
func (s *Store) GetPositionStats(ctx context.Context) (*PositionStats, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `
		SELECT
			COALESCE(SUM(realized_pnl), 0) AS realized_pnl,
			COUNT(*) FILTER (WHERE status = 'CLOSED') AS closed,
			COUNT(*) FILTER (WHERE status = 'CLOSED' AND realized_pnl > 0) AS winners
		FROM positions
	`

	var stats PositionStats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.RealizedPnL,
		&stats.ClosedPositions,
		&stats.WinningClosed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get position stats: %w", err)
	}

	return &stats, nil
}

func scanPositions(rows pgx.Rows) ([]*PositionRecord, error) {
	var positions []*PositionRecord
	for rows.Next() {
		var position PositionRecord
		err := rows.Scan(
			&position.ID,
			&position.Exchange,
			&position.Symbol,
			&position.Side,
			&position.Quantity,
			&position.EntryPrice,
			&position.CurrentPrice,
			&position.UnrealizedPnL,
			&position.RealizedPnL,
			&position.StopLoss,
			&position.TakeProfit,
			&position.Leverage,
			&position.Margin,
			&position.Status,
			&position.OpenedAt,
			&position.ClosedAt,
			&position.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, &position)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

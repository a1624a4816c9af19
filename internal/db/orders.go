package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// OrderRecord is a row in orders: a risk-approved order as dispatched to
// the exchange gateway.
type OrderRecord struct {
	OrderID         string
	Symbol          string
	Side            protocol.Direction
	OrderType       protocol.OrderType
	Quantity        float64
	Price           *float64
	Status          protocol.OrderStatus
	CreatedAt       time.Time
	ExchangeOrderID *string
	Metadata        map[string]interface{}
}

// InsertOrder records an approved order before dispatch. Redelivered
// order messages collapse on the primary key: the first insert wins
// and later attempts return false so callers skip re-placement.
func (s *Store) InsertOrder(ctx context.Context, order *OrderRecord) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = protocol.OrderStatusPending
	}

	query := `
		INSERT INTO orders (
			order_id, symbol, side, order_type, quantity, price,
			status, created_at, exchange_order_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) DO NOTHING
	`

	result, err := s.pool.Exec(ctx, query,
		order.OrderID,
		order.Symbol,
		order.Side,
		order.OrderType,
		order.Quantity,
		order.Price,
		order.Status,
		order.CreatedAt,
		order.ExchangeOrderID,
		order.Metadata,
	)

	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol).
			Msg("Failed to insert order")
		return false, fmt.Errorf("failed to insert order: %w", err)
	}

	inserted := result.RowsAffected() == 1
	if !inserted {
		log.Debug().
			Str("order_id", order.OrderID).
			Msg("Order already recorded, skipping")
		return false, nil
	}

	log.Debug().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("status", string(order.Status)).
		Msg("Order inserted")

	return true, nil
}

// UpdateOrderStatus transitions an order and records the exchange-side
// identifier once known.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status protocol.OrderStatus, exchangeOrderID *string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `
		UPDATE orders
		SET status = $2,
		    exchange_order_id = COALESCE($3, exchange_order_id)
		WHERE order_id = $1
	`

	result, err := s.pool.Exec(ctx, query, orderID, status, exchangeOrderID)
	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", orderID).
			Msg("Failed to update order status")
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	log.Debug().
		Str("order_id", orderID).
		Str("status", string(status)).
		Msg("Order status updated")

	return nil
}

// GetOpenOrders returns orders that have not reached a terminal status,
// oldest first. The executor reloads these into its pending registry on
// boot.
func (s *Store) GetOpenOrders(ctx context.Context) ([]*OrderRecord, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	query := `
		SELECT order_id, symbol, side, order_type, quantity, price,
		       status, created_at, exchange_order_id, metadata
		FROM orders
		WHERE status IN ('PENDING', 'OPEN', 'PARTIAL')
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var orders []*OrderRecord
	for rows.Next() {
		var order OrderRecord
		err := rows.Scan(
			&order.OrderID,
			&order.Symbol,
			&order.Side,
			&order.OrderType,
			&order.Quantity,
			&order.Price,
			&order.Status,
			&order.CreatedAt,
			&order.ExchangeOrderID,
			&order.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

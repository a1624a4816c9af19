// Package execution is the execution core: it turns risk-approved
// orders into venue activity, grades every fill, maintains the position
// ledger and publishes execution reports and position updates.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradewind/internal/agents"
	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/exchange"
	"github.com/ajitpratap0/tradewind/internal/metrics"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Service is the execution worker. It consumes trade.order, drives each
// order through the venue, and owns the in-memory position book. Open
// orders and positions are reloaded from the store on boot so the
// ledger survives restarts; the trades table's uniqueness gate keeps
// replayed fills from double-applying.
type Service struct {
	*agents.BaseAgent

	cfg     config.ExecutionConfig
	gateway exchange.Gateway
	pending *registry
	book    *Book
}

// NewService wires the execution worker around a venue gateway.
func NewService(base *agents.BaseAgent, cfg config.ExecutionConfig, gateway exchange.Gateway) *Service {
	if cfg.MaxSlippagePct <= 0 {
		cfg.MaxSlippagePct = 1.0
	}
	return &Service{
		BaseAgent: base,
		cfg:       cfg,
		gateway:   gateway,
		pending:   newRegistry(),
		book:      NewBook(),
	}
}

// Initialize registers the worker, restores pending orders and open
// positions from the store, starts the order-update stream and
// subscribes to approved orders.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.BaseAgent.Initialize(ctx); err != nil {
		return err
	}

	s.Go("order-stream", s.watchOrders)

	if err := s.reloadOrders(ctx); err != nil {
		s.Log().Error().Err(err).Msg("Failed to reload open orders, continuing empty")
	}
	if err := s.reloadPositions(ctx); err != nil {
		s.Log().Error().Err(err).Msg("Failed to reload open positions, continuing empty")
	}

	if err := s.Subscribe(protocol.TopicTradeOrder, s.handleOrder); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", protocol.TopicTradeOrder, err)
	}

	s.Log().Info().
		Str("exchange", s.venue()).
		Float64("max_slippage_pct", s.cfg.MaxSlippagePct).
		Int("pending_orders", s.pending.size()).
		Int("open_positions", len(s.book.Positions())).
		Msg("Execution worker ready")

	return nil
}

// Run refreshes open positions on the step cadence. Orders are handled
// event-driven off the subscription and the venue's update stream.
func (s *Service) Run(ctx context.Context) error {
	return s.BaseAgent.Run(ctx, s.refreshPositions)
}

func (s *Service) venue() string { return s.gateway.Name() }

// refreshPositions marks every open position to the venue's current
// price. A ticker failure on one symbol is logged and skipped; stale
// marks are better than synthetic ones.
func (s *Service) refreshPositions(ctx context.Context) error {
	for _, pos := range s.book.Positions() {
		s.refreshPosition(ctx, pos)
	}
	return nil
}

func (s *Service) refreshPosition(ctx context.Context, prev Position) {
	var ticker *exchange.Ticker
	err := exchange.WithRetry(ctx, exchange.DefaultRetryConfig(), func() error {
		var terr error
		ticker, terr = s.gateway.FetchTicker(ctx, prev.Symbol)
		return terr
	})
	if err != nil {
		s.Log().Warn().
			Err(err).
			Str("symbol", prev.Symbol).
			Msg("Price refresh skipped, ticker unavailable")
		return
	}
	price := ticker.Last
	if price <= 0 {
		return
	}

	pos, ok := s.book.Reprice(prev.Symbol, price)
	if !ok {
		return
	}

	if trailed, moved := s.book.TrailStop(prev.Symbol); moved {
		pos = trailed
		s.Log().Info().
			Str("symbol", pos.Symbol).
			Float64("stop_loss", pos.StopLoss).
			Float64("current_price", price).
			Msg("Trailing stop advanced")
		s.replaceStopOrder(ctx, pos)
		s.updatePositionRow(ctx, pos)
	} else {
		s.persistPrice(ctx, pos)
	}

	// Venue-side conditionals normally cover these levels; warn when a
	// breach has no resting order acting on it.
	if pos.StopHit(price) {
		if _, resting := s.pending.findConditional(pos.Symbol, protocol.OrderTypeStopLoss); !resting {
			s.Log().Warn().
				Str("symbol", pos.Symbol).
				Float64("price", price).
				Float64("stop_loss", pos.StopLoss).
				Msg("Stop level breached with no resting stop order")
		}
	}
	if pos.TargetHit(price) {
		if _, resting := s.pending.findConditional(pos.Symbol, protocol.OrderTypeTakeProfit); !resting {
			s.Log().Warn().
				Str("symbol", pos.Symbol).
				Float64("price", price).
				Float64("take_profit", pos.TakeProfit).
				Msg("Target level reached with no resting take-profit order")
		}
	}

	metrics.UpdatePositionValue(pos.Symbol, pos.Quantity*price)

	if err := s.publishPosition(ctx, "", pos); err != nil {
		s.Log().Error().Err(err).Str("symbol", pos.Symbol).Msg("Failed to publish position update")
	}
}

// reloadOrders re-tracks orders that were in flight when the worker
// went down. Orders with a venue id are reconciled against the venue's
// current state; orders that never reached it are placed now.
func (s *Service) reloadOrders(ctx context.Context) error {
	if s.Store() == nil {
		return nil
	}
	records, err := s.Store().GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open orders: %w", err)
	}

	for _, rec := range records {
		corr := metaString(rec.Metadata, "correlation_id")
		if corr == "" {
			corr = rec.OrderID
		}
		order := s.orderFromRecord(corr, rec)
		if !s.pending.add(corr, order) {
			continue
		}

		if rec.ExchangeOrderID != nil && *rec.ExchangeOrderID != "" {
			s.pending.setExchangeID(corr, *rec.ExchangeOrderID)
			s.reconcileOrder(ctx, corr, *rec.ExchangeOrderID, rec.Symbol)
			continue
		}

		if err := s.placeOrder(ctx, corr, order); err != nil {
			s.Log().Error().Err(err).Str("order_id", rec.OrderID).Msg("Failed to place reloaded order")
		}
	}

	if len(records) > 0 {
		s.Log().Info().Int("count", len(records)).Msg("Reloaded open orders")
	}
	return nil
}

func (s *Service) reloadPositions(ctx context.Context) error {
	if s.Store() == nil {
		return nil
	}
	records, err := s.Store().GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	for _, rec := range records {
		s.book.Restore(positionFromRecord(rec))
	}

	if len(records) > 0 {
		s.Log().Info().Int("count", len(records)).Msg("Reloaded open positions")
	}
	return nil
}

// persistOrder records an accepted order. The insert is the placement
// idempotence gate: false means the order was recorded by an earlier
// delivery and must not be placed again.
func (s *Service) persistOrder(ctx context.Context, corr string, order *protocol.Order) (bool, error) {
	if s.Store() == nil {
		return true, nil
	}

	rec := &db.OrderRecord{
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		OrderType: order.OrderType,
		Quantity:  order.Quantity,
		Status:    protocol.OrderStatusPending,
		Metadata:  map[string]interface{}{"correlation_id": corr},
	}
	if order.Price > 0 {
		price := order.Price
		rec.Price = &price
	}
	if ep := order.RiskParams["expected_price"]; ep > 0 {
		rec.Metadata["expected_price"] = ep
	}
	if order.StopLoss > 0 {
		rec.Metadata["stop_loss"] = order.StopLoss
	}
	if order.TakeProfit > 0 {
		rec.Metadata["take_profit"] = order.TakeProfit
	}
	if trail := order.RiskParams["trail_pct"]; trail > 0 {
		rec.Metadata["trail_pct"] = trail
		rec.Metadata["activation_pct"] = order.RiskParams["activation_pct"]
	}

	inserted, err := s.Store().InsertOrder(ctx, rec)
	if err != nil {
		inserted, err = s.Store().InsertOrder(ctx, rec)
	}
	return inserted, err
}

// updateOrderRow advances the order row's status. Failures are logged,
// not propagated: the row is an audit trail, the registry is the truth
// while the worker is up.
func (s *Service) updateOrderRow(ctx context.Context, orderID string, status protocol.OrderStatus, exchangeID string) {
	if s.Store() == nil {
		return
	}

	var exch *string
	if exchangeID != "" {
		exch = &exchangeID
	}

	err := s.Store().UpdateOrderStatus(ctx, orderID, status, exch)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		err = s.Store().UpdateOrderStatus(ctx, orderID, status, exch)
	}
	if err != nil {
		s.Log().Error().
			Err(err).
			Str("order_id", orderID).
			Str("status", string(status)).
			Msg("Failed to update order row")
	}
}

// persistTrade writes the executed trade. Returns false when the trade
// was already recorded, which tells the caller to skip the ledger and
// the downstream publishes: the fill is a replay.
func (s *Service) persistTrade(ctx context.Context, corr string, order *protocol.Order, report QualityReport, feeCurrency string, completed time.Time) bool {
	if s.Store() == nil {
		return true
	}

	trade := &db.Trade{
		Exchange:      s.venue(),
		Symbol:        report.Symbol,
		Side:          order.Side,
		OrderType:     order.OrderType,
		Quantity:      report.Quantity,
		Price:         report.AveragePrice,
		Fee:           report.Costs.Fees,
		Status:        protocol.OrderStatusFilled,
		OrderID:       order.OrderID,
		ExecutionTime: completed,
		Metadata: map[string]interface{}{
			"correlation_id":    corr,
			"expected_price":    report.ExpectedPrice,
			"slippage_pct":      report.Slippage.Pct,
			"slippage_bps":      report.Slippage.Bps,
			"quality_rating":    report.Slippage.Rating,
			"quality_score":     report.Score,
			"execution_time_ms": report.ExecutionMs,
			"total_cost":        report.Costs.Total,
			"fill_count":        report.FillCount,
		},
	}
	if feeCurrency != "" {
		trade.FeeCurrency = &feeCurrency
	}

	inserted, err := s.Store().RecordTrade(ctx, trade)
	if err != nil {
		inserted, err = s.Store().RecordTrade(ctx, trade)
	}
	if err != nil {
		s.Log().Error().
			Err(err).
			Str("order_id", order.OrderID).
			Msg("Failed to record trade, applying fill anyway")
		return true
	}
	return inserted
}

func (s *Service) persistPosition(ctx context.Context, pos Position, change Change) {
	if s.Store() == nil {
		return
	}

	if change == ChangeOpened {
		rec := s.positionRecord(pos)
		err := s.Store().CreatePosition(ctx, rec)
		if err != nil {
			err = s.Store().CreatePosition(ctx, rec)
		}
		if err != nil {
			s.Log().Error().Err(err).Str("symbol", pos.Symbol).Msg("Failed to persist opened position")
		}
		return
	}

	s.updatePositionRow(ctx, pos)
}

func (s *Service) updatePositionRow(ctx context.Context, pos Position) {
	if s.Store() == nil {
		return
	}

	rec := s.positionRecord(pos)
	err := s.Store().UpdatePosition(ctx, rec)
	if errors.Is(err, db.ErrNotFound) {
		if cerr := s.Store().CreatePosition(ctx, rec); cerr != nil {
			s.Log().Error().Err(cerr).Str("symbol", pos.Symbol).Msg("Failed to recreate missing position row")
		}
		return
	}
	if err != nil {
		err = s.Store().UpdatePosition(ctx, rec)
	}
	if err != nil {
		s.Log().Error().Err(err).Str("symbol", pos.Symbol).Msg("Failed to update position row")
	}
}

// persistPrice writes the refreshed mark without touching the rest of
// the row.
func (s *Service) persistPrice(ctx context.Context, pos Position) {
	if s.Store() == nil {
		return
	}

	id, err := uuid.Parse(pos.ID)
	if err != nil {
		s.Log().Error().Err(err).Str("position_id", pos.ID).Msg("Unparseable position id")
		return
	}

	if err := s.Store().UpdatePositionPrice(ctx, id, pos.CurrentPrice, pos.UnrealizedPnL); err != nil && !errors.Is(err, db.ErrNotFound) {
		s.Log().Warn().Err(err).Str("symbol", pos.Symbol).Msg("Failed to persist position price")
	}
}

func (s *Service) publishReport(ctx context.Context, corr string, order *protocol.Order, exchangeID string, report QualityReport, feeCurrency string, completed time.Time) error {
	header := protocol.NewHeader(protocol.TypeExecutionReport, s.Name()).
		WithCorrelation(corr).
		WithMeta("slippage_pct", report.Slippage.Pct).
		WithMeta("quality_score", report.Score).
		WithMeta("quality_rating", report.Slippage.Rating)

	msg := &protocol.ExecutionReport{
		Header:          header,
		OrderID:         order.OrderID,
		ExchangeOrderID: exchangeID,
		Exchange:        s.venue(),
		Symbol:          report.Symbol,
		Side:            order.Side,
		Status:          protocol.OrderStatusFilled,
		FilledQuantity:  report.Quantity,
		AveragePrice:    report.AveragePrice,
		TotalValue:      report.Costs.Gross,
		Fee:             report.Costs.Fees,
		FeeCurrency:     feeCurrency,
		ExecutionTime:   completed,
	}
	return s.Bus().Publish(ctx, protocol.TopicExecutionReport, msg, protocol.PriorityReport)
}

func (s *Service) publishPosition(ctx context.Context, corr string, pos Position) error {
	header := protocol.NewHeader(protocol.TypePosition, s.Name())
	if corr != "" {
		header = header.WithCorrelation(corr)
	}

	msg := &protocol.Position{
		Header:           header,
		PositionID:       pos.ID,
		Symbol:           pos.Symbol,
		Side:             pos.Side,
		EntryPrice:       pos.EntryPrice,
		CurrentPrice:     pos.CurrentPrice,
		Quantity:         pos.Quantity,
		InitialQuantity:  pos.InitialQuantity,
		UnrealizedPnL:    pos.UnrealizedPnL,
		UnrealizedPnLPct: pos.UnrealizedPnLPct,
		RealizedPnL:      pos.RealizedPnL,
		TotalPnL:         pos.TotalPnL(),
		StopLoss:         pos.StopLoss,
		TakeProfit:       pos.TakeProfit,
		EntryTime:        pos.EntryTime,
		Status:           pos.Status,
	}
	return s.Bus().Publish(ctx, protocol.TopicPositionUpdate, msg, protocol.PriorityPosition)
}

func (s *Service) positionRecord(pos Position) *db.PositionRecord {
	id, err := uuid.Parse(pos.ID)
	if err != nil {
		id = uuid.New()
	}

	rec := &db.PositionRecord{
		ID:            id,
		Exchange:      s.venue(),
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Quantity:      pos.Quantity,
		EntryPrice:    pos.EntryPrice,
		UnrealizedPnL: pos.UnrealizedPnL,
		RealizedPnL:   pos.RealizedPnL,
		Leverage:      1,
		Status:        pos.Status,
		OpenedAt:      pos.EntryTime,
		Metadata: map[string]interface{}{
			"initial_quantity":   pos.InitialQuantity,
			"unrealized_pnl_pct": pos.UnrealizedPnLPct,
		},
	}
	if pos.CurrentPrice > 0 {
		price := pos.CurrentPrice
		rec.CurrentPrice = &price
	}
	if pos.StopLoss > 0 {
		stop := pos.StopLoss
		rec.StopLoss = &stop
	}
	if pos.TakeProfit > 0 {
		target := pos.TakeProfit
		rec.TakeProfit = &target
	}
	if pos.TrailPct > 0 {
		rec.Metadata["trail_pct"] = pos.TrailPct
		rec.Metadata["activation_pct"] = pos.ActivationPct
	}
	if !pos.ClosedAt.IsZero() {
		closed := pos.ClosedAt
		rec.ClosedAt = &closed
	}
	return rec
}

func positionFromRecord(rec *db.PositionRecord) Position {
	pos := Position{
		ID:               rec.ID.String(),
		Symbol:           rec.Symbol,
		Side:             rec.Side,
		EntryPrice:       rec.EntryPrice,
		CurrentPrice:     rec.EntryPrice,
		Quantity:         rec.Quantity,
		InitialQuantity:  metaFloat(rec.Metadata, "initial_quantity"),
		UnrealizedPnL:    rec.UnrealizedPnL,
		UnrealizedPnLPct: metaFloat(rec.Metadata, "unrealized_pnl_pct"),
		RealizedPnL:      rec.RealizedPnL,
		TrailPct:         metaFloat(rec.Metadata, "trail_pct"),
		ActivationPct:    metaFloat(rec.Metadata, "activation_pct"),
		EntryTime:        rec.OpenedAt,
		Status:           rec.Status,
	}
	if rec.CurrentPrice != nil && *rec.CurrentPrice > 0 {
		pos.CurrentPrice = *rec.CurrentPrice
	}
	if rec.StopLoss != nil {
		pos.StopLoss = *rec.StopLoss
	}
	if rec.TakeProfit != nil {
		pos.TakeProfit = *rec.TakeProfit
	}
	if pos.InitialQuantity <= 0 {
		pos.InitialQuantity = rec.Quantity
	}
	return pos
}

// orderFromRecord rebuilds a tracked order from its row at boot.
func (s *Service) orderFromRecord(corr string, rec *db.OrderRecord) *protocol.Order {
	order := &protocol.Order{
		Header:       protocol.NewHeader(protocol.TypeOrder, s.Name()).WithCorrelation(corr),
		OrderID:      rec.OrderID,
		Exchange:     s.venue(),
		Symbol:       rec.Symbol,
		Side:         rec.Side,
		OrderType:    rec.OrderType,
		Quantity:     rec.Quantity,
		Leverage:     1,
		RiskApproved: true,
		RiskParams:   map[string]float64{},
	}
	if rec.Price != nil {
		order.Price = *rec.Price
	}
	if ep := metaFloat(rec.Metadata, "expected_price"); ep > 0 {
		order.RiskParams["expected_price"] = ep
	}
	order.StopLoss = metaFloat(rec.Metadata, "stop_loss")
	order.TakeProfit = metaFloat(rec.Metadata, "take_profit")
	if trail := metaFloat(rec.Metadata, "trail_pct"); trail > 0 {
		order.RiskParams["trail_pct"] = trail
		order.RiskParams["activation_pct"] = metaFloat(rec.Metadata, "activation_pct")
	}
	return order
}

func metaFloat(md map[string]interface{}, key string) float64 {
	if md == nil {
		return 0
	}
	switch v := md[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func metaString(md map[string]interface{}, key string) string {
	if md == nil {
		return ""
	}
	if v, ok := md[key].(string); ok {
		return v
	}
	return ""
}

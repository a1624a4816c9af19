package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradewind/internal/exchange"
	"github.com/ajitpratap0/tradewind/internal/metrics"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Conditional orders are tracked under the entry's correlation id plus
// one of these suffixes, so a filled stop can find and cancel its
// take-profit sibling and vice versa.
const (
	stopSuffix   = ":sl"
	targetSuffix = ":tp"
)

// pendingOrder is one in-flight order from acceptance to terminal
// status. exchangeID is empty until the venue acknowledges placement;
// stream updates are ignored until it is recorded, so the synchronous
// placement result owns the order's early transitions. processed flips
// exactly once, on the first terminal transition.
type pendingOrder struct {
	order      *protocol.Order
	exchangeID string
	submitted  time.Time
	processed  bool
}

// registry is the pending-order map keyed by correlation id.
type registry struct {
	mu     sync.Mutex
	orders map[string]*pendingOrder
}

func newRegistry() *registry {
	return &registry{orders: make(map[string]*pendingOrder)}
}

// add tracks a new order. Returns false when the correlation id is
// already pending.
func (r *registry) add(corr string, order *protocol.Order) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[corr]; ok {
		return false
	}
	r.orders[corr] = &pendingOrder{order: order, submitted: time.Now().UTC()}
	return true
}

func (r *registry) lookup(corr string) (*protocol.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.orders[corr]
	if !ok {
		return nil, false
	}
	return p.order, true
}

// claim marks the entry processed and returns a snapshot. The second
// and later calls return false: whoever wins the claim owns all
// terminal side effects for the order.
func (r *registry) claim(corr string) (pendingOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.orders[corr]
	if !ok || p.processed {
		return pendingOrder{}, false
	}
	p.processed = true
	return *p, true
}

func (r *registry) setExchangeID(corr, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.orders[corr]; ok {
		p.exchangeID = id
	}
}

// owns reports whether a stream update belongs to a tracked order whose
// venue id has been recorded by the placement path.
func (r *registry) owns(corr, exchangeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.orders[corr]
	return ok && exchangeID != "" && p.exchangeID == exchangeID
}

func (r *registry) remove(corr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, corr)
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// findConditional returns the correlation id of the unprocessed resting
// conditional of the given type for symbol.
func (r *registry) findConditional(symbol string, typ protocol.OrderType) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for corr, p := range r.orders {
		if p.processed || p.order == nil {
			continue
		}
		if p.order.Symbol == symbol && p.order.OrderType == typ {
			return corr, true
		}
	}
	return "", false
}

// handleOrder accepts a risk-approved order from the bus, records it,
// and dispatches it to the venue. Redelivered messages collapse on the
// orders primary key and are not re-placed.
func (s *Service) handleOrder(ctx context.Context, msg protocol.Message) error {
	order, ok := msg.(*protocol.Order)
	if !ok {
		s.Log().Warn().Str("kind", msg.Kind()).Msg("Unexpected message on order topic")
		return nil
	}

	if !order.RiskApproved {
		s.Log().Warn().
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol).
			Msg("Dropping order without risk approval")
		return nil
	}
	if order.Symbol == "" || order.Quantity <= 0 {
		s.Log().Warn().
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol).
			Float64("quantity", order.Quantity).
			Msg("Dropping malformed order")
		return nil
	}

	corr := order.CorrelationID
	if corr == "" {
		corr = order.OrderID
	}

	if !s.pending.add(corr, order) {
		s.Log().Warn().
			Str("correlation_id", corr).
			Str("order_id", order.OrderID).
			Msg("Order already pending, ignoring duplicate")
		return nil
	}

	inserted, err := s.persistOrder(ctx, corr, order)
	if err != nil {
		s.pending.remove(corr)
		return fmt.Errorf("failed to record order %s: %w", order.OrderID, err)
	}
	if !inserted {
		s.pending.remove(corr)
		s.Log().Info().
			Str("order_id", order.OrderID).
			Msg("Order already recorded, skipping placement")
		return nil
	}

	return s.placeOrder(ctx, corr, order)
}

// placeOrder submits a tracked order to the venue and applies the
// synchronous result. Transport failures after the placement retries
// are treated as rejections so upstream accounting releases the
// reserved exposure.
func (s *Service) placeOrder(ctx context.Context, corr string, order *protocol.Order) error {
	req := exchange.OrderRequest{
		ClientOrderID: corr,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.OrderType,
		Quantity:      order.Quantity,
	}
	switch order.OrderType {
	case protocol.OrderTypeLimit:
		req.Price = order.Price
	case protocol.OrderTypeStopLoss, protocol.OrderTypeTakeProfit:
		req.StopPrice = order.Price
	}

	var result *exchange.Order
	err := exchange.WithPlacementRetry(ctx, exchange.PlacementRetryConfig(), func() error {
		var perr error
		result, perr = s.gateway.CreateOrder(ctx, req)
		return perr
	})
	if err != nil {
		s.Log().Error().
			Err(err).
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol).
			Msg("Order placement failed")
		s.rejectOrder(ctx, corr, err.Error())
		return nil
	}

	metrics.RecordOrderPlaced(s.venue(), string(order.OrderType))

	if result.ID != "" {
		s.pending.setExchangeID(corr, result.ID)
	}

	s.Log().Info().
		Str("order_id", order.OrderID).
		Str("exchange_order_id", result.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("order_type", string(order.OrderType)).
		Float64("quantity", order.Quantity).
		Str("status", string(result.Status)).
		Msg("Order placed")

	return s.applyUpdate(ctx, corr, result)
}

// applyUpdate routes an order state change. Terminal transitions are
// funneled through one-shot claims so a state delivered both by the
// synchronous placement result and the update stream is acted on once.
func (s *Service) applyUpdate(ctx context.Context, corr string, update *exchange.Order) error {
	switch update.Status {
	case protocol.OrderStatusFilled:
		return s.processFill(ctx, corr, update)
	case protocol.OrderStatusRejected:
		s.rejectOrder(ctx, corr, update.RejectReason)
		return nil
	case protocol.OrderStatusCancelled, protocol.OrderStatusExpired:
		s.retireOrder(ctx, corr, update.Status)
		return nil
	default:
		order, ok := s.pending.lookup(corr)
		if !ok {
			return nil
		}
		s.updateOrderRow(ctx, order.OrderID, update.Status, update.ID)
		return nil
	}
}

func (s *Service) processFill(ctx context.Context, corr string, update *exchange.Order) error {
	p, ok := s.pending.claim(corr)
	if !ok {
		return nil
	}
	return s.finishFill(ctx, corr, p, update)
}

// finishFill runs the fill pipeline for a claimed order: grade the
// execution, apply it to the ledger, persist, publish, and place or
// retire conditionals. The trade row's uniqueness gate keeps the ledger
// from double-applying a fill reprocessed after a restart.
func (s *Service) finishFill(ctx context.Context, corr string, p pendingOrder, update *exchange.Order) error {
	order := p.order

	exchangeID := update.ID
	if exchangeID == "" {
		exchangeID = p.exchangeID
	}

	fills, err := s.fetchFills(ctx, exchangeID, update.Symbol)
	if err != nil {
		s.Log().Warn().
			Err(err).
			Str("order_id", order.OrderID).
			Msg("Fill lookup failed, grading from order state")
	}

	quantity := update.FilledQty
	if quantity <= 0 {
		quantity = order.Quantity
	}
	avgPrice := update.AvgFillPrice

	var fees float64
	var feeCurrency string
	for _, f := range fills {
		fees += f.Fee
		if feeCurrency == "" {
			feeCurrency = f.FeeCurrency
		}
	}
	fillCount := len(fills)
	if fillCount == 0 {
		fillCount = 1
	}

	expected := order.RiskParams["expected_price"]
	if expected <= 0 {
		expected = order.Price
	}
	if expected <= 0 {
		expected = avgPrice
	}

	completed := update.UpdatedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}

	report := Grade(FillGroup{
		OrderID:       order.OrderID,
		Symbol:        update.Symbol,
		Side:          order.Side,
		Quantity:      quantity,
		ExpectedPrice: expected,
		AveragePrice:  avgPrice,
		Fees:          fees,
		FillCount:     fillCount,
		SubmittedAt:   p.submitted,
		CompletedAt:   completed,
	})

	if math.Abs(report.Slippage.Pct) > s.cfg.MaxSlippagePct {
		s.Log().Warn().
			Str("symbol", update.Symbol).
			Float64("slippage_pct", report.Slippage.Pct).
			Float64("max_allowed", s.cfg.MaxSlippagePct).
			Msg("High slippage detected")
	}

	inserted := s.persistTrade(ctx, corr, order, report, feeCurrency, completed)
	if !inserted {
		s.updateOrderRow(ctx, order.OrderID, protocol.OrderStatusFilled, exchangeID)
		s.pending.remove(corr)
		s.Log().Info().
			Str("order_id", order.OrderID).
			Msg("Fill already recorded, skipping replay")
		return nil
	}

	pos, change := s.book.ApplyFill(FillEvent{
		Symbol:        update.Symbol,
		Side:          order.Side,
		Quantity:      quantity,
		Price:         avgPrice,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		TrailPct:      order.RiskParams["trail_pct"],
		ActivationPct: order.RiskParams["activation_pct"],
		Time:          completed,
	})

	s.persistPosition(ctx, pos, change)
	s.updateOrderRow(ctx, order.OrderID, protocol.OrderStatusFilled, exchangeID)
	metrics.RecordOrderFilled(report.ExecutionMs, report.Slippage.Bps)
	metrics.UpdatePositionValue(pos.Symbol, pos.Quantity*pos.CurrentPrice)

	if err := s.publishReport(ctx, corr, order, exchangeID, report, feeCurrency, completed); err != nil {
		s.Log().Error().Err(err).Str("order_id", order.OrderID).Msg("Failed to publish execution report")
	}
	if err := s.publishPosition(ctx, corr, pos); err != nil {
		s.Log().Error().Err(err).Str("symbol", pos.Symbol).Msg("Failed to publish position update")
	}

	switch order.OrderType {
	case protocol.OrderTypeMarket, protocol.OrderTypeLimit:
		s.placeConditionals(ctx, corr, order, quantity)
	default:
		s.cancelSibling(ctx, corr, change)
	}

	s.pending.remove(corr)

	s.Log().Info().
		Str("order_id", order.OrderID).
		Str("symbol", update.Symbol).
		Float64("quantity", quantity).
		Float64("avg_price", avgPrice).
		Float64("slippage_pct", report.Slippage.Pct).
		Float64("quality_score", report.Score).
		Str("position_change", string(change)).
		Msg("Order filled")

	if change == ChangeClosed {
		stats := s.book.Stats()
		s.Log().Info().
			Str("symbol", pos.Symbol).
			Float64("realized_pnl", pos.RealizedPnL).
			Int("closed_trades", stats.Closed).
			Float64("win_rate", stats.WinRate).
			Float64("profit_factor", stats.ProfitFactor).
			Msg("Position closed")
	}
	return nil
}

func (s *Service) fetchFills(ctx context.Context, exchangeID, symbol string) ([]exchange.Fill, error) {
	if exchangeID == "" {
		return nil, nil
	}
	var fills []exchange.Fill
	err := exchange.WithRetry(ctx, exchange.DefaultRetryConfig(), func() error {
		var ferr error
		fills, ferr = s.gateway.FetchOrderTrades(ctx, exchangeID, symbol)
		return ferr
	})
	return fills, err
}

// rejectOrder emits a zero-fill report so upstream risk accounting can
// release the reserved exposure, then drops the order from pending.
func (s *Service) rejectOrder(ctx context.Context, corr, reason string) {
	p, ok := s.pending.claim(corr)
	if !ok {
		return
	}
	order := p.order

	s.updateOrderRow(ctx, order.OrderID, protocol.OrderStatusRejected, p.exchangeID)
	metrics.RecordOrderRejected()

	header := protocol.NewHeader(protocol.TypeExecutionReport, s.Name()).WithCorrelation(corr)
	if reason != "" {
		header = header.WithMeta("error", reason)
	}
	report := &protocol.ExecutionReport{
		Header:          header,
		OrderID:         order.OrderID,
		ExchangeOrderID: p.exchangeID,
		Exchange:        s.venue(),
		Symbol:          order.Symbol,
		Side:            order.Side,
		Status:          protocol.OrderStatusRejected,
		ExecutionTime:   time.Now().UTC(),
	}
	if err := s.Bus().Publish(ctx, protocol.TopicExecutionReport, report, protocol.PriorityReport); err != nil {
		s.Log().Error().Err(err).Str("order_id", order.OrderID).Msg("Failed to publish rejection report")
	}

	s.pending.remove(corr)

	s.Log().Warn().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("reason", reason).
		Msg("Order rejected")
}

// retireOrder finalizes a cancelled or expired order.
func (s *Service) retireOrder(ctx context.Context, corr string, status protocol.OrderStatus) {
	p, ok := s.pending.claim(corr)
	if !ok {
		return
	}

	s.updateOrderRow(ctx, p.order.OrderID, status, p.exchangeID)
	metrics.RecordOrderCancelled()
	s.pending.remove(corr)

	s.Log().Info().
		Str("order_id", p.order.OrderID).
		Str("symbol", p.order.Symbol).
		Str("status", string(status)).
		Msg("Order retired")
}

// placeConditionals submits the stop-loss and take-profit legs carried
// by a filled entry order: opposite side, filled quantity, triggering
// at the levels the risk core planned.
func (s *Service) placeConditionals(ctx context.Context, corr string, entry *protocol.Order, filledQty float64) {
	if entry.StopLoss <= 0 && entry.TakeProfit <= 0 {
		return
	}

	exit := protocol.DirectionSell
	if entry.Side == protocol.DirectionSell {
		exit = protocol.DirectionBuy
	}

	if entry.StopLoss > 0 {
		s.placeConditional(ctx, corr+stopSuffix, entry, exit, protocol.OrderTypeStopLoss, entry.StopLoss, filledQty)
	}
	if entry.TakeProfit > 0 {
		s.placeConditional(ctx, corr+targetSuffix, entry, exit, protocol.OrderTypeTakeProfit, entry.TakeProfit, filledQty)
	}
}

func (s *Service) placeConditional(ctx context.Context, corr string, entry *protocol.Order, side protocol.Direction, typ protocol.OrderType, trigger, qty float64) {
	suffix := "sl"
	if typ == protocol.OrderTypeTakeProfit {
		suffix = "tp"
	}

	child := &protocol.Order{
		Header:       protocol.NewHeader(protocol.TypeOrder, s.Name()).WithCorrelation(corr),
		OrderID:      entry.OrderID + "-" + suffix,
		Exchange:     s.venue(),
		Symbol:       entry.Symbol,
		Side:         side,
		OrderType:    typ,
		Quantity:     qty,
		Price:        trigger,
		Leverage:     entry.Leverage,
		RiskApproved: true,
		RiskParams:   map[string]float64{"expected_price": trigger},
	}

	if !s.pending.add(corr, child) {
		s.Log().Warn().
			Str("correlation_id", corr).
			Str("symbol", entry.Symbol).
			Msg("Conditional already pending, skipping")
		return
	}

	if inserted, err := s.persistOrder(ctx, corr, child); err != nil || !inserted {
		if err != nil {
			s.Log().Error().Err(err).Str("order_id", child.OrderID).Msg("Failed to record conditional order")
		}
		s.pending.remove(corr)
		return
	}

	if err := s.placeOrder(ctx, corr, child); err != nil {
		s.Log().Error().
			Err(err).
			Str("order_id", child.OrderID).
			Str("symbol", entry.Symbol).
			Float64("trigger", trigger).
			Msg("Failed to place conditional order")
		return
	}

	s.Log().Info().
		Str("order_id", child.OrderID).
		Str("symbol", entry.Symbol).
		Str("order_type", string(typ)).
		Float64("trigger", trigger).
		Float64("quantity", qty).
		Msg("Conditional order placed")
}

// cancelSibling retires the other conditional leg after one leg closed
// the position, so no orphaned stop or target keeps resting.
func (s *Service) cancelSibling(ctx context.Context, corr string, change Change) {
	if change != ChangeClosed {
		return
	}

	var sibling string
	switch {
	case strings.HasSuffix(corr, stopSuffix):
		sibling = strings.TrimSuffix(corr, stopSuffix) + targetSuffix
	case strings.HasSuffix(corr, targetSuffix):
		sibling = strings.TrimSuffix(corr, targetSuffix) + stopSuffix
	default:
		return
	}

	p, ok := s.pending.claim(sibling)
	if !ok {
		return
	}

	if p.exchangeID != "" {
		if _, err := s.gateway.CancelOrder(ctx, p.exchangeID, p.order.Symbol); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			s.Log().Warn().
				Err(err).
				Str("order_id", p.order.OrderID).
				Msg("Failed to cancel sibling conditional")
		}
	}

	s.updateOrderRow(ctx, p.order.OrderID, protocol.OrderStatusCancelled, p.exchangeID)
	metrics.RecordOrderCancelled()
	s.pending.remove(sibling)

	s.Log().Info().
		Str("order_id", p.order.OrderID).
		Str("symbol", p.order.Symbol).
		Msg("Sibling conditional cancelled")
}

// replaceStopOrder moves the resting stop to the ratcheted trigger:
// cancel the old leg, then place a fresh one at the new level. When the
// old stop went terminal at the venue first, its fill is processed here
// instead since this claim beat the stream to it.
func (s *Service) replaceStopOrder(ctx context.Context, pos Position) {
	corr, ok := s.pending.findConditional(pos.Symbol, protocol.OrderTypeStopLoss)
	if !ok {
		return
	}
	p, ok := s.pending.claim(corr)
	if !ok {
		return
	}

	if p.exchangeID != "" {
		if _, err := s.gateway.CancelOrder(ctx, p.exchangeID, pos.Symbol); err != nil {
			state, ferr := s.gateway.FetchOrder(ctx, p.exchangeID, pos.Symbol)
			if ferr == nil && state.Status == protocol.OrderStatusFilled {
				s.Log().Info().
					Str("order_id", p.order.OrderID).
					Str("symbol", pos.Symbol).
					Msg("Stop filled during replace, processing fill")
				if err := s.finishFill(ctx, corr, p, state); err != nil {
					s.Log().Error().Err(err).Str("order_id", p.order.OrderID).Msg("Failed to process stop fill")
				}
				return
			}
			s.Log().Warn().
				Err(err).
				Str("order_id", p.order.OrderID).
				Str("symbol", pos.Symbol).
				Msg("Failed to cancel stop for replacement")
		}
	}

	s.updateOrderRow(ctx, p.order.OrderID, protocol.OrderStatusCancelled, p.exchangeID)
	metrics.RecordOrderCancelled()
	s.pending.remove(corr)

	child := &protocol.Order{
		Header:       protocol.NewHeader(protocol.TypeOrder, s.Name()).WithCorrelation(corr),
		OrderID:      uuid.NewString(),
		Exchange:     s.venue(),
		Symbol:       pos.Symbol,
		Side:         p.order.Side,
		OrderType:    protocol.OrderTypeStopLoss,
		Quantity:     p.order.Quantity,
		Price:        pos.StopLoss,
		Leverage:     p.order.Leverage,
		RiskApproved: true,
		RiskParams:   map[string]float64{"expected_price": pos.StopLoss},
	}

	if !s.pending.add(corr, child) {
		return
	}
	if inserted, err := s.persistOrder(ctx, corr, child); err != nil || !inserted {
		if err != nil {
			s.Log().Error().Err(err).Str("order_id", child.OrderID).Msg("Failed to record replacement stop")
		}
		s.pending.remove(corr)
		return
	}
	if err := s.placeOrder(ctx, corr, child); err != nil {
		s.Log().Error().Err(err).Str("order_id", child.OrderID).Msg("Failed to place replacement stop")
		return
	}

	s.Log().Info().
		Str("order_id", child.OrderID).
		Str("symbol", pos.Symbol).
		Float64("stop_loss", pos.StopLoss).
		Msg("Stop order replaced at trailed level")
}

// watchOrders drives monitored orders through their lifecycle from the
// venue's update stream. Updates for orders the placement path has not
// acknowledged yet are skipped; the synchronous result covers those.
func (s *Service) watchOrders(ctx context.Context) error {
	updates, err := s.gateway.WatchOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to watch order updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			corr := update.ClientOrderID
			if corr == "" || !s.pending.owns(corr, update.ID) {
				continue
			}
			if err := s.applyUpdate(ctx, corr, &update); err != nil {
				s.Log().Error().
					Err(err).
					Str("correlation_id", corr).
					Msg("Failed to apply order update")
			}
		}
	}
}

// reconcileOrder refreshes a reloaded order against the venue and
// replays whatever transition the outage swallowed.
func (s *Service) reconcileOrder(ctx context.Context, corr, exchangeID, symbol string) {
	var state *exchange.Order
	err := exchange.WithRetry(ctx, exchange.DefaultRetryConfig(), func() error {
		var ferr error
		state, ferr = s.gateway.FetchOrder(ctx, exchangeID, symbol)
		return ferr
	})
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			s.Log().Warn().
				Str("correlation_id", corr).
				Str("exchange_order_id", exchangeID).
				Msg("Venue has no record of reloaded order, retiring")
			s.retireOrder(ctx, corr, protocol.OrderStatusCancelled)
			return
		}
		s.Log().Error().
			Err(err).
			Str("correlation_id", corr).
			Str("exchange_order_id", exchangeID).
			Msg("Failed to reconcile order with venue")
		return
	}

	if err := s.applyUpdate(ctx, corr, state); err != nil {
		s.Log().Error().Err(err).Str("correlation_id", corr).Msg("Failed to apply reconciled state")
	}
}

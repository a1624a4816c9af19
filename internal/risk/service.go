// Package risk is the risk core: it prices trade intents, plans stops,
// sizes positions, validates against the desk's limits and turns
// approvals into orders for the execution core.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradewind/internal/agents"
	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/exchange"
	"github.com/ajitpratap0/tradewind/internal/marketstore"
	"github.com/ajitpratap0/tradewind/internal/metrics"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// priceWindow bounds how old a time-series close may be before it no
// longer counts as a fresh price.
const priceWindow = time.Hour

// stddevLookback is how many one-minute bars feed the volatility
// estimate, roughly one day.
const stddevLookback = 1440

// Service is the risk worker. It consumes trade.intent, runs the
// price/stop/size/validate pipeline and publishes trade.order on
// approval or trade.rejection otherwise. Portfolio risk is rebuilt from
// the store on boot, on every position.update and on the periodic step.
type Service struct {
	*agents.BaseAgent

	cfg       config.RiskConfig
	stops     *StopPlanner
	sizer     *Sizer
	validator *Validator
	portfolio *Portfolio

	market  *marketstore.Store      // best-effort ATR, stddev and last close
	cache   *marketstore.PriceCache // optional latest-tick cache, consulted before the TSDB
	gateway exchange.Gateway        // balance checks; nil skips the gate
}

// NewService wires the risk worker. market, cache and gateway may be
// nil; the corresponding steps degrade as documented on each.
func NewService(base *agents.BaseAgent, cfg config.RiskConfig, market *marketstore.Store, cache *marketstore.PriceCache, gateway exchange.Gateway) *Service {
	return &Service{
		BaseAgent: base,
		cfg:       cfg,
		stops:     NewStopPlanner(cfg.StopLossMethod),
		sizer:     NewSizer(cfg.AccountBalance, cfg.MaxPortfolioRisk, cfg.PositionSizingMethod),
		validator: NewValidator(cfg.MaxPortfolioRisk, cfg.MaxPositionRisk, cfg.MinRRRatio),
		portfolio: NewPortfolio(base.Store(), cfg.AccountBalance),
		market:    market,
		cache:     cache,
		gateway:   gateway,
	}
}

// Initialize registers the worker, loads the portfolio state and
// subscribes to trade intents and position updates.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.BaseAgent.Initialize(ctx); err != nil {
		return err
	}

	if err := s.portfolio.Refresh(ctx); err != nil {
		s.Log().Error().Err(err).Msg("Failed to load portfolio state, starting at zero risk")
	}

	if err := s.Subscribe(protocol.TopicTradeIntent, s.handleIntent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", protocol.TopicTradeIntent, err)
	}
	if err := s.Subscribe(protocol.TopicPositionUpdate, s.handlePositionUpdate); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", protocol.TopicPositionUpdate, err)
	}

	s.Log().Info().
		Float64("balance", s.sizer.Balance()).
		Float64("max_portfolio_risk", s.cfg.MaxPortfolioRisk).
		Str("sizing_method", s.cfg.PositionSizingMethod).
		Str("stop_method", s.stops.Method()).
		Float64("portfolio_risk", s.portfolio.Risk()).
		Msg("Risk worker ready")

	return nil
}

// Run reconciles portfolio risk from the store on the step cadence.
// Intents are handled event-driven off the subscription.
func (s *Service) Run(ctx context.Context) error {
	return s.BaseAgent.Run(ctx, func(ctx context.Context) error {
		return s.portfolio.Refresh(ctx)
	})
}

func (s *Service) handlePositionUpdate(ctx context.Context, msg protocol.Message) error {
	if _, ok := msg.(*protocol.Position); !ok {
		return fmt.Errorf("unexpected %s message on position topic", msg.Kind())
	}
	if err := s.portfolio.Refresh(ctx); err != nil {
		return err
	}
	s.Log().Debug().
		Float64("portfolio_risk", s.portfolio.Risk()).
		Msg("Portfolio state refreshed")
	return nil
}

func (s *Service) handleIntent(ctx context.Context, msg protocol.Message) error {
	intent, ok := msg.(*protocol.TradeIntent)
	if !ok {
		return fmt.Errorf("unexpected %s message on intent topic", msg.Kind())
	}
	if intent.Symbol == "" || intent.Side == protocol.DirectionHold {
		return fmt.Errorf("intent %s is not tradeable: symbol %q side %q", intent.IntentID, intent.Symbol, intent.Side)
	}

	s.Log().Info().
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Float64("confidence", intent.Confidence).
		Str("intent_id", intent.IntentID).
		Msg("Trade intent received")

	price, priceSource := s.resolvePrice(ctx, intent)
	if price <= 0 {
		verdict := Verdict{
			Approved:        false,
			RiskScore:       1.0,
			RejectionReason: "no fresh price available",
		}
		s.Log().Warn().
			Str("symbol", intent.Symbol).
			Str("intent_id", intent.IntentID).
			Msg("Rejecting intent: no fresh price available")
		return s.reject(ctx, intent, verdict, SizeResult{}, StopLevels{}, priceSource)
	}

	atr, stddev := s.marketStats(ctx, intent.Symbol)

	customStop, _ := intent.MetaFloat("stop_loss")
	customTP, _ := intent.MetaFloat("take_profit")

	levels := s.stops.Plan(price, intent.Side, StopInputs{
		ATR:              atr,
		PriceStdDev:      stddev,
		CustomStop:       customStop,
		CustomTakeProfit: customTP,
	})

	size := s.sizer.Size(SizeInputs{
		Price:         price,
		Confidence:    intent.Confidence,
		StopLoss:      levels.StopLoss,
		TakeProfit:    levels.TakeProfit,
		ATR:           atr,
		PortfolioRisk: s.portfolio.Risk(),
	})

	verdict := s.validator.Validate(ValidationInput{
		Symbol:        intent.Symbol,
		Confidence:    intent.Confidence,
		PositionSize:  size.SizeUSD,
		RiskAmount:    size.RiskAmount,
		RewardRisk:    levels.RewardRiskRatio,
		PortfolioRisk: s.portfolio.Risk(),
		Balance:       s.sizer.Balance(),
		Exposures:     s.portfolio.Exposures(),
	})

	if verdict.Approved {
		if ok, reason := s.checkBalance(ctx, intent.Symbol, intent.Side, size); !ok {
			verdict.Approved = false
			verdict.RejectionReason = reason
		}
	}

	if !verdict.Approved {
		s.Log().Warn().
			Str("symbol", intent.Symbol).
			Str("side", string(intent.Side)).
			Str("reason", verdict.RejectionReason).
			Float64("risk_score", verdict.RiskScore).
			Msg("Trade rejected")
		return s.reject(ctx, intent, verdict, size, levels, priceSource)
	}

	if fresh := s.persistAssessment(ctx, intent, size, levels, verdict, priceSource); !fresh {
		s.Log().Warn().
			Str("symbol", intent.Symbol).
			Str("intent_id", intent.IntentID).
			Msg("Intent already assessed, dropping redelivery")
		return nil
	}

	order := s.buildOrder(intent, size, levels, verdict, price)

	if err := s.Bus().Publish(ctx, protocol.TopicTradeOrder, order, protocol.PriorityOrder); err != nil {
		return fmt.Errorf("failed to publish order for %s: %w", intent.Symbol, err)
	}

	metrics.RecordRiskApproval(verdict.RiskScore)
	s.portfolio.SetRisk(verdict.PortfolioRiskAfter)

	s.Log().Info().
		Str("symbol", intent.Symbol).
		Str("side", string(intent.Side)).
		Str("order_id", order.OrderID).
		Float64("quantity", size.Quantity).
		Float64("size_usd", size.SizeUSD).
		Float64("stop_loss", levels.StopLoss).
		Float64("take_profit", levels.TakeProfit).
		Float64("risk_score", verdict.RiskScore).
		Float64("portfolio_risk_after", verdict.PortfolioRiskAfter).
		Msg("Trade approved, order published")

	return nil
}

// resolvePrice finds a working price for the intent: the intent's own
// expected price, then the latest cached tick, then the freshest
// time-series close, then a configured per-symbol fallback (with a
// warning). Returns 0 when nothing is fresh.
func (s *Service) resolvePrice(ctx context.Context, intent *protocol.TradeIntent) (float64, string) {
	if intent.ExpectedPrice > 0 {
		return intent.ExpectedPrice, "intent"
	}

	if s.cache != nil && s.gateway != nil {
		if price, ok := s.cache.Get(ctx, s.gateway.Name(), intent.Symbol); ok && price > 0 {
			return price, "cache"
		}
	}

	if s.market != nil {
		since := time.Now().UTC().Add(-priceWindow)
		if close, err := s.market.LastClose(ctx, intent.Symbol, "1m", since); err == nil && close > 0 {
			return close, "timeseries"
		}
	}

	if price, ok := s.cfg.FallbackPrices[intent.Symbol]; ok && price > 0 {
		s.Log().Warn().
			Str("symbol", intent.Symbol).
			Float64("price", price).
			Msg("Using configured fallback price")
		return price, "fallback"
	}

	return 0, ""
}

// marketStats pulls best-effort ATR and price stddev from the
// time-series store. Missing data is fine; the planner and sizer
// degrade to their percentage defaults.
func (s *Service) marketStats(ctx context.Context, symbol string) (atr, stddev float64) {
	if s.market == nil {
		return 0, 0
	}
	since := time.Now().UTC().Add(-priceWindow)
	if v, err := s.market.LastIndicator(ctx, symbol, "atr_14", since); err == nil {
		atr = v
	}
	if v, err := s.market.RecentStdDev(ctx, symbol, "1m", stddevLookback); err == nil {
		stddev = v
	}
	return atr, stddev
}

// checkBalance gates approved intents on live balances: BUY needs free
// quote for the position, SELL needs free base for the quantity. A
// gateway error allows the order through and lets the venue reject it.
func (s *Service) checkBalance(ctx context.Context, symbol string, side protocol.Direction, size SizeResult) (bool, string) {
	if s.gateway == nil {
		return true, ""
	}

	balances, err := s.gateway.FetchBalance(ctx)
	if err != nil {
		s.Log().Warn().Err(err).
			Str("symbol", symbol).
			Msg("Balance check failed, letting the venue decide")
		return true, ""
	}

	base, quote := exchange.SplitSymbol(symbol)
	if side == protocol.DirectionBuy {
		free := balances[quote].Free
		if free < size.SizeUSD {
			return false, fmt.Sprintf("insufficient %s balance: have %.2f, need %.2f", quote, free, size.SizeUSD)
		}
		return true, ""
	}

	free := balances[base].Free
	if free < size.Quantity {
		return false, fmt.Sprintf("insufficient %s balance: have %.8f, need %.8f", base, free, size.Quantity)
	}
	return true, ""
}

// reject persists the verdict, records the rejection metric and
// publishes the rejection notice. A redelivered intent that was already
// assessed is dropped without a second notice.
func (s *Service) reject(ctx context.Context, intent *protocol.TradeIntent, verdict Verdict, size SizeResult, levels StopLevels, priceSource string) error {
	if fresh := s.persistAssessment(ctx, intent, size, levels, verdict, priceSource); !fresh {
		s.Log().Warn().
			Str("symbol", intent.Symbol).
			Str("intent_id", intent.IntentID).
			Msg("Intent already assessed, dropping redelivery")
		return nil
	}

	metrics.RecordRiskRejection(metrics.NormalizeRejectionReason(verdict.RejectionReason), verdict.RiskScore)

	rejection := &protocol.RiskAssessment{
		Header:          protocol.NewHeader(protocol.TypeRiskAssessment, s.Name()).WithCorrelation(s.correlationID(intent)),
		IntentID:        intent.IntentID,
		Symbol:          intent.Symbol,
		Approved:        false,
		RiskScore:       verdict.RiskScore,
		PositionSize:    size.SizeUSD,
		VaREstimate:     verdict.VaRContribution,
		MaxLoss:         size.RiskAmount,
		RejectionReason: verdict.RejectionReason,
		RiskMetrics: map[string]float64{
			"confidence":           intent.Confidence,
			"reward_risk_ratio":    levels.RewardRiskRatio,
			"trade_risk_pct":       verdict.TradeRiskPct,
			"portfolio_risk_after": verdict.PortfolioRiskAfter,
		},
	}

	if err := s.Bus().Publish(ctx, protocol.TopicTradeRejection, rejection, protocol.PriorityRejection); err != nil {
		return fmt.Errorf("failed to publish rejection for %s: %w", intent.Symbol, err)
	}
	return nil
}

func (s *Service) buildOrder(intent *protocol.TradeIntent, size SizeResult, levels StopLevels, verdict Verdict, price float64) *protocol.Order {
	riskParams := map[string]float64{
		"position_size_usd":    size.SizeUSD,
		"risk_amount":          size.RiskAmount,
		"kelly_fraction":       size.KellyFraction,
		"win_probability":      size.WinProbability,
		"stop_loss_pct":        levels.StopLossPct,
		"reward_risk_ratio":    levels.RewardRiskRatio,
		"risk_score":           verdict.RiskScore,
		"portfolio_risk_after": verdict.PortfolioRiskAfter,
		"expected_price":       price,
	}
	if levels.Method == StopTrailing {
		trail, activation := s.stops.TrailParams()
		riskParams["trailing"] = 1
		riskParams["trail_pct"] = trail
		riskParams["activation_pct"] = activation
	}

	header := protocol.NewHeader(protocol.TypeOrder, s.Name()).
		WithCorrelation(s.correlationID(intent)).
		WithMeta("sizing_method", size.Method).
		WithMeta("stop_method", levels.Method).
		WithMeta("strategy", intent.Strategy)

	// The order id is derived from the intent so a redelivered intent
	// mints the same order and collapses on the orders primary key even
	// when no store is wired.
	return &protocol.Order{
		Header:       header,
		OrderID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte("order:"+intent.IntentID)).String(),
		Exchange:     s.venue(),
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		OrderType:    protocol.OrderTypeMarket,
		Quantity:     size.Quantity,
		StopLoss:     levels.StopLoss,
		TakeProfit:   levels.TakeProfit,
		Leverage:     1,
		RiskApproved: true,
		RiskParams:   riskParams,
	}
}

// persistAssessment writes the verdict to risk_assessments and reports
// whether this intent was seen for the first time. The signal_id unique
// index collapses redeliveries at the store: a duplicate affects no
// rows and returns false so the caller skips publishing. Store errors
// and store-less operation report true; the deterministic order id and
// the orders primary key still collapse duplicates downstream.
func (s *Service) persistAssessment(ctx context.Context, intent *protocol.TradeIntent, size SizeResult, levels StopLevels, verdict Verdict, priceSource string) bool {
	if s.Store() == nil {
		return true
	}

	intentID := intent.IntentID
	record := &db.RiskAssessmentRecord{
		SignalID:     &intentID,
		Symbol:       intent.Symbol,
		RiskScore:    verdict.RiskScore,
		PositionSize: size.SizeUSD,
		VaREstimate:  verdict.VaRContribution,
		MaxLoss:      size.RiskAmount,
		Approved:     verdict.Approved,
		Metadata: map[string]interface{}{
			"confidence":        intent.Confidence,
			"kelly_fraction":    size.KellyFraction,
			"sizing_method":     size.Method,
			"stop_method":       levels.Method,
			"stop_loss":         levels.StopLoss,
			"take_profit":       levels.TakeProfit,
			"reward_risk_ratio": levels.RewardRiskRatio,
			"price_source":      priceSource,
		},
	}
	if verdict.RejectionReason != "" {
		reason := verdict.RejectionReason
		record.RejectionReason = &reason
	}

	fresh, err := s.Store().InsertRiskAssessment(ctx, record)
	if err != nil {
		s.Log().Error().Err(err).
			Str("symbol", intent.Symbol).
			Msg("Failed to persist risk assessment")
		return true
	}
	return fresh
}

func (s *Service) correlationID(intent *protocol.TradeIntent) string {
	if intent.CorrelationID != "" {
		return intent.CorrelationID
	}
	return intent.IntentID
}

func (s *Service) venue() string {
	if s.gateway != nil {
		return s.gateway.Name()
	}
	return "paper"
}

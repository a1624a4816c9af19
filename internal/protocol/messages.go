package protocol

import "time"

// Direction is the trade direction carried by signals and intents.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// OrderType identifies how an order executes on the exchange.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderStatus is the normalized order state machine:
// PENDING -> (OPEN -> PARTIAL)* -> {FILLED|CANCELLED|REJECTED|EXPIRED}.
// Terminal states are absorbing.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status absorbs further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionStatus tracks a position through its lifecycle. A CLOSED position
// is never resurrected.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "OPEN"
	PositionPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	PositionClosed          PositionStatus = "CLOSED"
)

// MarketData carries raw ticker or OHLCV payloads from collectors on
// ticks.raw. Data["type"] discriminates ticker vs ohlcv rows.
type MarketData struct {
	Header
	Exchange string                 `json:"exchange"`
	Symbol   string                 `json:"symbol"`
	Data     map[string]interface{} `json:"data"`
}

func (m *MarketData) Kind() string      { return TypeMarketData }
func (m *MarketData) Envelope() *Header { return &m.Header }

// Signal is a directional opinion from an analysis worker, published on the
// signals.* topics.
type Signal struct {
	Header
	AgentType   string             `json:"agent_type"` // technical, fundamental, sentiment
	Symbol      string             `json:"symbol"`
	Direction   Direction          `json:"direction"`
	Confidence  float64            `json:"confidence"` // [0,1]
	PriceTarget float64            `json:"price_target,omitempty"`
	StopLoss    float64            `json:"stop_loss,omitempty"`
	TakeProfit  float64            `json:"take_profit,omitempty"`
	Reasoning   string             `json:"reasoning,omitempty"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
}

func (m *Signal) Kind() string      { return TypeSignal }
func (m *Signal) Envelope() *Header { return &m.Header }

// TradeIntent is a fused decision awaiting risk approval, published on
// trade.intent. Quantity is zero at intent time; the risk core sizes it.
// The envelope correlation id equals IntentID and threads the whole chain.
type TradeIntent struct {
	Header
	IntentID      string    `json:"intent_id"`
	Symbol        string    `json:"symbol"`
	Side          Direction `json:"side"` // BUY or SELL, never HOLD
	Quantity      float64   `json:"quantity"`
	ExpectedPrice float64   `json:"expected_price"` // may be 0 when no contributing signal priced it
	Strategy      string    `json:"strategy"`       // fusion policy label
	Confidence    float64   `json:"confidence"`
	SignalCount   int       `json:"signal_count"`
	Sources       []string  `json:"sources,omitempty"` // contributing agent classes
	Reasoning     string    `json:"reasoning,omitempty"`
}

func (m *TradeIntent) Kind() string      { return TypeTradeIntent }
func (m *TradeIntent) Envelope() *Header { return &m.Header }

// Order is a risk-approved instruction for the execution core, published on
// trade.order.
type Order struct {
	Header
	OrderID      string             `json:"order_id"`
	Exchange     string             `json:"exchange"`
	Symbol       string             `json:"symbol"`
	Side         Direction          `json:"side"`
	OrderType    OrderType          `json:"order_type"`
	Quantity     float64            `json:"quantity"`
	Price        float64            `json:"price,omitempty"` // limit price
	StopLoss     float64            `json:"stop_loss,omitempty"`
	TakeProfit   float64            `json:"take_profit,omitempty"`
	Leverage     float64            `json:"leverage"`
	RiskApproved bool               `json:"risk_approved"`
	RiskParams   map[string]float64 `json:"risk_params,omitempty"`
}

func (m *Order) Kind() string      { return TypeOrder }
func (m *Order) Envelope() *Header { return &m.Header }

// ExecutionReport summarizes the outcome of an order, published on
// execution.report.
type ExecutionReport struct {
	Header
	OrderID         string      `json:"order_id"`
	ExchangeOrderID string      `json:"exchange_order_id,omitempty"`
	Exchange        string      `json:"exchange"`
	Symbol          string      `json:"symbol"`
	Side            Direction   `json:"side"`
	Status          OrderStatus `json:"status"`
	FilledQuantity  float64     `json:"filled_quantity"`
	AveragePrice    float64     `json:"average_price"`
	TotalValue      float64     `json:"total_value"`
	Fee             float64     `json:"fee"`
	FeeCurrency     string      `json:"fee_currency,omitempty"`
	ExecutionTime   time.Time   `json:"execution_time"`
}

func (m *ExecutionReport) Kind() string      { return TypeExecutionReport }
func (m *ExecutionReport) Envelope() *Header { return &m.Header }

// Fill is a single trade against an order as reported by the exchange.
type Fill struct {
	Header
	FillID      string    `json:"fill_id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        Direction `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Cost        float64   `json:"cost"` // quantity x price in quote currency
	Fee         float64   `json:"fee"`
	FeeCurrency string    `json:"fee_currency,omitempty"`
	IsMaker     bool      `json:"is_maker"`
}

func (m *Fill) Kind() string      { return TypeFill }
func (m *Fill) Envelope() *Header { return &m.Header }

// Position is a live position snapshot, published on position.update after
// every ledger change and price refresh.
type Position struct {
	Header
	PositionID       string         `json:"position_id"`
	Symbol           string         `json:"symbol"`
	Side             PositionSide   `json:"side"`
	EntryPrice       float64        `json:"entry_price"`
	CurrentPrice     float64        `json:"current_price"`
	Quantity         float64        `json:"quantity"`         // remaining, >= 0
	InitialQuantity  float64        `json:"initial_quantity"` // at open
	UnrealizedPnL    float64        `json:"unrealized_pnl"`
	UnrealizedPnLPct float64        `json:"unrealized_pnl_pct"`
	RealizedPnL      float64        `json:"realized_pnl"`
	TotalPnL         float64        `json:"total_pnl"`
	StopLoss         float64        `json:"stop_loss,omitempty"`
	TakeProfit       float64        `json:"take_profit,omitempty"`
	EntryTime        time.Time      `json:"entry_time"`
	Status           PositionStatus `json:"status"`
}

func (m *Position) Kind() string      { return TypePosition }
func (m *Position) Envelope() *Header { return &m.Header }

// RiskAssessment records the risk core's verdict on an intent. Rejections
// are published on trade.rejection with Approved=false.
type RiskAssessment struct {
	Header
	IntentID        string             `json:"intent_id"`
	Symbol          string             `json:"symbol"`
	Approved        bool               `json:"approved"`
	RiskScore       float64            `json:"risk_score"` // [0,1]
	PositionSize    float64            `json:"position_size"`
	VaREstimate     float64            `json:"var_estimate"`
	MaxLoss         float64            `json:"max_loss"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	RiskMetrics     map[string]float64 `json:"risk_metrics,omitempty"`
}

func (m *RiskAssessment) Kind() string      { return TypeRiskAssessment }
func (m *RiskAssessment) Envelope() *Header { return &m.Header }

package execution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradewind/internal/agents"
	"github.com/ajitpratap0/tradewind/internal/bus"
	"github.com/ajitpratap0/tradewind/internal/config"
	"github.com/ajitpratap0/tradewind/internal/db"
	"github.com/ajitpratap0/tradewind/internal/exchange"
	"github.com/ajitpratap0/tradewind/internal/protocol"
)

func runExecServer(t *testing.T) string {
	t.Helper()
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // random port
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func connectExecBus(t *testing.T, url, worker string) *bus.Bus {
	t.Helper()
	b, err := bus.Connect(bus.Config{URL: url, StreamName: "EXEC_TEST", ClientName: worker})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// frictionlessFees zeroes every taker-side cost so market fills land
// exactly on the tape price. The maker rate stays non-zero because a
// fully zero FeeConfig falls back to the default fee table.
func frictionlessFees() config.FeeConfig {
	return config.FeeConfig{Maker: 0.001}
}

func newExecWorker(t *testing.T, b *bus.Bus, name string, port int, step time.Duration, cfg config.ExecutionConfig, gateway exchange.Gateway) *Service {
	t.Helper()
	base := agents.New(agents.Config{
		Name:              name,
		Type:              "execution",
		StepInterval:      step,
		MetricsPort:       port,
		HeartbeatInterval: time.Hour,
	}, b, nil, zerolog.Nop())

	svc := NewService(base, cfg, gateway)
	require.NoError(t, svc.Initialize(context.Background()))
	return svc
}

func collectReports(t *testing.T, consumer *bus.Bus) <-chan *protocol.ExecutionReport {
	t.Helper()
	reports := make(chan *protocol.ExecutionReport, 256)
	err := consumer.Subscribe(context.Background(), protocol.TopicExecutionReport, func(ctx context.Context, msg protocol.Message) error {
		if report, ok := msg.(*protocol.ExecutionReport); ok {
			reports <- report
		}
		return nil
	})
	require.NoError(t, err)
	return reports
}

func collectPositions(t *testing.T, consumer *bus.Bus) <-chan *protocol.Position {
	t.Helper()
	positions := make(chan *protocol.Position, 256)
	err := consumer.Subscribe(context.Background(), protocol.TopicPositionUpdate, func(ctx context.Context, msg protocol.Message) error {
		if pos, ok := msg.(*protocol.Position); ok {
			positions <- pos
		}
		return nil
	})
	require.NoError(t, err)
	return positions
}

func approvedOrder(corr string, side protocol.Direction, qty, expected float64) *protocol.Order {
	return &protocol.Order{
		Header:       protocol.NewHeader(protocol.TypeOrder, "risk_probe").WithCorrelation(corr),
		OrderID:      "ord-" + corr,
		Exchange:     "paper",
		Symbol:       "BTC/USDT",
		Side:         side,
		OrderType:    protocol.OrderTypeMarket,
		Quantity:     qty,
		Leverage:     1,
		RiskApproved: true,
		RiskParams:   map[string]float64{"expected_price": expected},
	}
}

func publishOrder(t *testing.T, producer *bus.Bus, order *protocol.Order) {
	t.Helper()
	require.NoError(t, producer.Publish(context.Background(), protocol.TopicTradeOrder, order, protocol.PriorityOrder))
	require.NoError(t, producer.Flush())
}

func waitReport(t *testing.T, reports <-chan *protocol.ExecutionReport, corr string) *protocol.ExecutionReport {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case report := <-reports:
			if report.CorrelationID == corr {
				return report
			}
		case <-deadline:
			t.Fatalf("timed out waiting for execution report %s", corr)
			return nil
		}
	}
}

func waitPosition(t *testing.T, positions <-chan *protocol.Position, match func(*protocol.Position) bool) *protocol.Position {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case pos := <-positions:
			if match(pos) {
				return pos
			}
		case <-deadline:
			t.Fatal("timed out waiting for position update")
			return nil
		}
	}
}

// waitResting polls the venue until the order placed under clientID is
// resting at the expected trigger.
func waitResting(t *testing.T, gw *exchange.PaperGateway, clientID string, trigger float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		order, err := gw.FetchOrder(context.Background(), clientID, "BTC/USDT")
		if err != nil || order.Status != protocol.OrderStatusOpen {
			return false
		}
		return trigger <= 0 || order.StopPrice == trigger
	}, 5*time.Second, 10*time.Millisecond)
}

func waitDrained(t *testing.T, svc *Service) {
	t.Helper()
	require.Eventually(t, func() bool {
		return svc.pending.size() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func shutdownExecWorker(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
}

func TestMarketOrderFillPublishesReportAndPosition(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_fill")
	producer := connectExecBus(t, url, "producer")
	consumer := connectExecBus(t, url, "risk_probe")

	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000})
	gw.SetMarketPrice("BTC/USDT", 50000)

	svc := newExecWorker(t, svcBus, "exec_fill", 19771, time.Hour, config.ExecutionConfig{}, gw)
	reports := collectReports(t, consumer)
	positions := collectPositions(t, consumer)

	publishOrder(t, producer, approvedOrder("intent-1", protocol.DirectionBuy, 0.1, 50000))

	report := waitReport(t, reports, "intent-1")
	assert.Equal(t, "ord-intent-1", report.OrderID)
	assert.NotEmpty(t, report.ExchangeOrderID)
	assert.Equal(t, "paper", report.Exchange)
	assert.Equal(t, "BTC/USDT", report.Symbol)
	assert.Equal(t, protocol.DirectionBuy, report.Side)
	assert.Equal(t, protocol.OrderStatusFilled, report.Status)
	assert.Equal(t, 0.1, report.FilledQuantity)
	assert.Equal(t, 50000.0, report.AveragePrice)
	assert.Equal(t, 5000.0, report.TotalValue)
	assert.Equal(t, 0.0, report.Fee)
	assert.Equal(t, "USDT", report.FeeCurrency)
	assert.False(t, report.ExecutionTime.IsZero())

	slip, ok := report.MetaFloat("slippage_pct")
	require.True(t, ok)
	assert.Equal(t, 0.0, slip)
	score, ok := report.MetaFloat("quality_score")
	require.True(t, ok)
	assert.Equal(t, 100.0, score)
	rating, ok := report.MetaString("quality_rating")
	require.True(t, ok)
	assert.Equal(t, RatingExcellent, rating)

	pos := waitPosition(t, positions, func(p *protocol.Position) bool {
		return p.CorrelationID == "intent-1"
	})
	assert.NotEmpty(t, pos.PositionID)
	assert.Equal(t, protocol.PositionLong, pos.Side)
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.Equal(t, 50000.0, pos.CurrentPrice)
	assert.Equal(t, 0.1, pos.Quantity)
	assert.Equal(t, 0.1, pos.InitialQuantity)
	assert.Equal(t, 0.0, pos.UnrealizedPnL)
	assert.Equal(t, 0.0, pos.TotalPnL)
	assert.Equal(t, protocol.PositionOpen, pos.Status)
	assert.False(t, pos.EntryTime.IsZero())

	waitDrained(t, svc)
	held, ok2 := svc.book.Get("BTC/USDT")
	require.True(t, ok2)
	assert.Equal(t, 0.1, held.Quantity)

	shutdownExecWorker(t, svc)
}

func TestRejectedOrderEmitsZeroFillReport(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_reject")
	producer := connectExecBus(t, url, "producer")
	consumer := connectExecBus(t, url, "risk_probe")

	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000})
	gw.SetMarketPrice("BTC/USDT", 50000)
	gw.FailNextOrder("insufficient balance")

	svc := newExecWorker(t, svcBus, "exec_reject", 19772, time.Hour, config.ExecutionConfig{}, gw)
	reports := collectReports(t, consumer)
	positions := collectPositions(t, consumer)

	publishOrder(t, producer, approvedOrder("intent-r1", protocol.DirectionBuy, 0.1, 50000))

	report := waitReport(t, reports, "intent-r1")
	assert.Equal(t, protocol.OrderStatusRejected, report.Status)
	assert.Equal(t, "ord-intent-r1", report.OrderID)
	assert.NotEmpty(t, report.ExchangeOrderID)
	assert.Equal(t, 0.0, report.FilledQuantity)
	assert.Equal(t, 0.0, report.AveragePrice)
	reason, ok := report.MetaString("error")
	require.True(t, ok)
	assert.Equal(t, "insufficient balance", reason)

	select {
	case pos := <-positions:
		t.Fatalf("rejected order produced a position update: %+v", pos)
	case <-time.After(300 * time.Millisecond):
	}

	assert.Empty(t, svc.book.Positions())
	waitDrained(t, svc)

	shutdownExecWorker(t, svc)
}

func TestSlippageIsGradedAgainstExpectedPrice(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_slip")
	producer := connectExecBus(t, url, "producer")
	consumer := connectExecBus(t, url, "risk_probe")

	// 1.2% of modeled slippage on every taker fill, well inside the cap.
	gw := exchange.NewPaperGateway(config.FeeConfig{BaseSlippage: 0.012, MaxSlippage: 0.05}, map[string]float64{"USDT": 1_000_000})
	gw.SetMarketPrice("BTC/USDT", 50000)

	svc := newExecWorker(t, svcBus, "exec_slip", 19773, time.Hour, config.ExecutionConfig{}, gw)
	reports := collectReports(t, consumer)
	positions := collectPositions(t, consumer)

	publishOrder(t, producer, approvedOrder("intent-sl1", protocol.DirectionBuy, 0.1, 50000))

	report := waitReport(t, reports, "intent-sl1")
	assert.Equal(t, protocol.OrderStatusFilled, report.Status)
	assert.Equal(t, 50600.0, report.AveragePrice)
	assert.Equal(t, 5060.0, report.TotalValue)

	slip, ok := report.MetaFloat("slippage_pct")
	require.True(t, ok)
	assert.Equal(t, 1.2, slip)
	rating, ok := report.MetaString("quality_rating")
	require.True(t, ok)
	assert.Equal(t, RatingVeryPoor, rating)
	score, ok := report.MetaFloat("quality_score")
	require.True(t, ok)
	assert.InDelta(t, 36.9, score, 1e-9)

	pos := waitPosition(t, positions, func(p *protocol.Position) bool {
		return p.CorrelationID == "intent-sl1"
	})
	assert.Equal(t, 50600.0, pos.EntryPrice)

	waitDrained(t, svc)
	shutdownExecWorker(t, svc)
}

func TestStopLossClosesPositionAndCancelsSibling(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_stop")
	producer := connectExecBus(t, url, "producer")
	consumer := connectExecBus(t, url, "risk_probe")

	// Base float so both protective sell legs can reserve inventory.
	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000, "BTC": 1})
	gw.SetMarketPrice("BTC/USDT", 50000)

	svc := newExecWorker(t, svcBus, "exec_stop", 19774, time.Hour, config.ExecutionConfig{}, gw)
	reports := collectReports(t, consumer)
	positions := collectPositions(t, consumer)

	entry := approvedOrder("intent-s1", protocol.DirectionBuy, 0.1, 50000)
	entry.StopLoss = 48000
	entry.TakeProfit = 55000
	publishOrder(t, producer, entry)

	entryReport := waitReport(t, reports, "intent-s1")
	assert.Equal(t, protocol.OrderStatusFilled, entryReport.Status)

	opened := waitPosition(t, positions, func(p *protocol.Position) bool {
		return p.CorrelationID == "intent-s1"
	})
	assert.Equal(t, 48000.0, opened.StopLoss)
	assert.Equal(t, 55000.0, opened.TakeProfit)

	// Both protective legs must rest at the venue before the price can
	// move, or the trigger sweep has nothing to fill.
	waitResting(t, gw, "intent-s1:sl", 48000)
	waitResting(t, gw, "intent-s1:tp", 55000)

	gw.SetMarketPrice("BTC/USDT", 47000)

	stopReport := waitReport(t, reports, "intent-s1:sl")
	assert.Equal(t, "ord-intent-s1-sl", stopReport.OrderID)
	assert.Equal(t, protocol.OrderStatusFilled, stopReport.Status)
	assert.Equal(t, protocol.DirectionSell, stopReport.Side)
	assert.Equal(t, 0.1, stopReport.FilledQuantity)
	assert.Equal(t, 47000.0, stopReport.AveragePrice)

	closed := waitPosition(t, positions, func(p *protocol.Position) bool {
		return p.Status == protocol.PositionClosed
	})
	assert.Equal(t, "intent-s1:sl", closed.CorrelationID)
	assert.Equal(t, -300.0, closed.RealizedPnL)
	assert.Equal(t, 0.0, closed.Quantity)
	assert.Equal(t, -300.0, closed.TotalPnL)

	// The surviving take-profit leg is cancelled at the venue.
	require.Eventually(t, func() bool {
		order, err := gw.FetchOrder(context.Background(), "intent-s1:tp", "BTC/USDT")
		return err == nil && order.Status == protocol.OrderStatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	waitDrained(t, svc)
	_, stillOpen := svc.book.Get("BTC/USDT")
	assert.False(t, stillOpen)
	assert.Len(t, svc.book.Closed(), 1)

	shutdownExecWorker(t, svc)
}

func TestPartialCloseRealizesPnl(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_partial")
	producer := connectExecBus(t, url, "producer")
	consumer := connectExecBus(t, url, "risk_probe")

	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000})
	gw.SetMarketPrice("BTC/USDT", 50000)

	svc := newExecWorker(t, svcBus, "exec_partial", 19775, time.Hour, config.ExecutionConfig{}, gw)
	reports := collectReports(t, consumer)
	positions := collectPositions(t, consumer)

	publishOrder(t, producer, approvedOrder("intent-p1", protocol.DirectionBuy, 0.1, 50000))
	waitReport(t, reports, "intent-p1")
	waitDrained(t, svc)

	gw.SetMarketPrice("BTC/USDT", 52000)
	publishOrder(t, producer, approvedOrder("intent-p2", protocol.DirectionSell, 0.05, 52000))

	report := waitReport(t, reports, "intent-p2")
	assert.Equal(t, protocol.OrderStatusFilled, report.Status)
	assert.Equal(t, 0.05, report.FilledQuantity)
	assert.Equal(t, 52000.0, report.AveragePrice)
	assert.Equal(t, 2600.0, report.TotalValue)

	pos := waitPosition(t, positions, func(p *protocol.Position) bool {
		return p.CorrelationID == "intent-p2"
	})
	assert.Equal(t, protocol.PositionPartiallyClosed, pos.Status)
	assert.Equal(t, 0.05, pos.Quantity)
	assert.Equal(t, 0.1, pos.InitialQuantity)
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.Equal(t, 100.0, pos.RealizedPnL)
	assert.Equal(t, 100.0, pos.UnrealizedPnL)
	assert.Equal(t, 4.0, pos.UnrealizedPnLPct)
	assert.Equal(t, 200.0, pos.TotalPnL)

	waitDrained(t, svc)
	shutdownExecWorker(t, svc)
}

func TestRunRefreshesPositionMarks(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_refresh")
	producer := connectExecBus(t, url, "producer")
	consumer := connectExecBus(t, url, "risk_probe")

	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000})
	gw.SetMarketPrice("BTC/USDT", 50000)

	svc := newExecWorker(t, svcBus, "exec_refresh", 19776, 50*time.Millisecond, config.ExecutionConfig{}, gw)
	reports := collectReports(t, consumer)
	positions := collectPositions(t, consumer)

	runCtx, stopRun := context.WithCancel(context.Background())
	t.Cleanup(stopRun)
	go func() { _ = svc.Run(runCtx) }()

	publishOrder(t, producer, approvedOrder("intent-f1", protocol.DirectionBuy, 0.1, 50000))
	waitReport(t, reports, "intent-f1")

	gw.SetMarketPrice("BTC/USDT", 51000)

	refreshed := waitPosition(t, positions, func(p *protocol.Position) bool {
		return p.CorrelationID == "" && p.CurrentPrice == 51000
	})
	assert.Equal(t, 100.0, refreshed.UnrealizedPnL)
	assert.Equal(t, 2.0, refreshed.UnrealizedPnLPct)
	assert.Equal(t, protocol.PositionOpen, refreshed.Status)

	stopRun()
	shutdownExecWorker(t, svc)
}

func TestTrailingStopAdvancesAndExecutes(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_trail")
	producer := connectExecBus(t, url, "producer")
	consumer := connectExecBus(t, url, "risk_probe")

	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000})
	gw.SetMarketPrice("BTC/USDT", 50000)

	svc := newExecWorker(t, svcBus, "exec_trail", 19777, 50*time.Millisecond, config.ExecutionConfig{}, gw)
	reports := collectReports(t, consumer)
	positions := collectPositions(t, consumer)

	runCtx, stopRun := context.WithCancel(context.Background())
	t.Cleanup(stopRun)
	go func() { _ = svc.Run(runCtx) }()

	entry := approvedOrder("intent-t1", protocol.DirectionBuy, 0.1, 50000)
	entry.StopLoss = 48500
	entry.RiskParams["trail_pct"] = 0.03
	entry.RiskParams["activation_pct"] = 0.05
	publishOrder(t, producer, entry)

	waitReport(t, reports, "intent-t1")
	waitResting(t, gw, "intent-t1:sl", 48500)

	// Past the 5% activation level the stop ratchets to 3% below price
	// and the resting leg is replaced at the venue.
	gw.SetMarketPrice("BTC/USDT", 53000)
	require.Eventually(t, func() bool {
		pos, ok := svc.book.Get("BTC/USDT")
		return ok && pos.StopLoss == 51410
	}, 5*time.Second, 10*time.Millisecond)
	waitResting(t, gw, "intent-t1:sl", 51410)

	// A pullback through the trailed level executes the replacement.
	gw.SetMarketPrice("BTC/USDT", 51000)

	closed := waitPosition(t, positions, func(p *protocol.Position) bool {
		return p.Status == protocol.PositionClosed
	})
	assert.Equal(t, 100.0, closed.RealizedPnL)
	assert.Equal(t, 51000.0, closed.CurrentPrice)

	waitDrained(t, svc)
	assert.Len(t, svc.book.Closed(), 1)
	stats := svc.book.Stats()
	assert.Equal(t, 1, stats.Winning)
	assert.Equal(t, 100.0, stats.RealizedPnL)

	stopRun()
	shutdownExecWorker(t, svc)
}

var openOrderColumns = []string{
	"order_id", "symbol", "side", "order_type", "quantity", "price",
	"status", "created_at", "exchange_order_id", "metadata",
}

var openPositionColumns = []string{
	"id", "exchange", "symbol", "side", "quantity", "entry_price", "current_price",
	"unrealized_pnl", "realized_pnl", "stop_loss", "take_profit", "leverage",
	"margin", "status", "opened_at", "closed_at", "metadata",
}

func newExecStore(t *testing.T) (*db.Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return db.NewWithPool(mock), mock
}

func expectExecBoot(mock pgxmock.PgxPoolIface, name string) {
	mock.ExpectQuery("INSERT INTO agent_configs").
		WithArgs(name, "execution", pgxmock.AnyArg(), true).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
}

func TestBootRestoresPositions(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_boot")

	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000})
	store, mock := newExecStore(t)

	posID := uuid.New()
	current := 50500.0
	stop := 48500.0
	opened := time.Now().UTC().Add(-time.Hour)

	expectExecBoot(mock, "exec_boot")
	mock.ExpectQuery("SELECT(.+)FROM orders").
		WillReturnRows(pgxmock.NewRows(openOrderColumns))
	mock.ExpectQuery("SELECT(.+)FROM positions").
		WillReturnRows(pgxmock.NewRows(openPositionColumns).AddRow(
			posID, "paper", "BTC/USDT", protocol.PositionLong, 0.1, 50000.0, &current,
			50.0, 0.0, &stop, nil, 1.0, nil, protocol.PositionOpen, opened, nil,
			map[string]interface{}{
				"initial_quantity":   0.1,
				"unrealized_pnl_pct": 0.1,
				"trail_pct":          0.03,
				"activation_pct":     0.05,
			},
		))

	base := agents.New(agents.Config{
		Name:              "exec_boot",
		Type:              "execution",
		StepInterval:      time.Hour,
		MetricsPort:       19778,
		HeartbeatInterval: time.Hour,
	}, svcBus, store, zerolog.Nop())
	svc := NewService(base, config.ExecutionConfig{}, gw)
	require.NoError(t, svc.Initialize(context.Background()))

	pos, ok := svc.book.Get("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, posID.String(), pos.ID)
	assert.Equal(t, protocol.PositionLong, pos.Side)
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.Equal(t, 50500.0, pos.CurrentPrice)
	assert.Equal(t, 0.1, pos.Quantity)
	assert.Equal(t, 0.1, pos.InitialQuantity)
	assert.Equal(t, 50.0, pos.UnrealizedPnL)
	assert.Equal(t, 48500.0, pos.StopLoss)
	assert.Equal(t, 0.03, pos.TrailPct)
	assert.Equal(t, 0.05, pos.ActivationPct)
	assert.Equal(t, opened, pos.EntryTime)
	assert.Equal(t, protocol.PositionOpen, pos.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBootReconcilesStrandedOrder(t *testing.T) {
	url := runExecServer(t)
	svcBus := connectExecBus(t, url, "exec_reconcile")

	// Fresh paper venue: it has no record of the reloaded order, so the
	// worker retires the stale row instead of re-tracking it.
	gw := exchange.NewPaperGateway(frictionlessFees(), map[string]float64{"USDT": 1_000_000})
	store, mock := newExecStore(t)

	exchangeID := "PAPER-99"
	expectExecBoot(mock, "exec_reconcile")
	mock.ExpectQuery("SELECT(.+)FROM orders").
		WillReturnRows(pgxmock.NewRows(openOrderColumns).AddRow(
			"ord-x", "BTC/USDT", protocol.DirectionBuy, protocol.OrderTypeMarket, 0.1, nil,
			protocol.OrderStatusPending, time.Now().UTC(), &exchangeID,
			map[string]interface{}{"correlation_id": "intent-x"},
		))
	mock.ExpectExec("UPDATE orders").
		WithArgs("ord-x", protocol.OrderStatusCancelled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT(.+)FROM positions").
		WillReturnRows(pgxmock.NewRows(openPositionColumns))

	base := agents.New(agents.Config{
		Name:              "exec_reconcile",
		Type:              "execution",
		StepInterval:      time.Hour,
		MetricsPort:       19779,
		HeartbeatInterval: time.Hour,
	}, svcBus, store, zerolog.Nop())
	svc := NewService(base, config.ExecutionConfig{}, gw)
	require.NoError(t, svc.Initialize(context.Background()))

	assert.Zero(t, svc.pending.size())
	assert.Empty(t, svc.book.Positions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

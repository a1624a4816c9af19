package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

// TestUpsertAgentConfig tests worker registration round trip
func TestUpsertAgentConfig(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO agent_configs").
		WithArgs("fusion-1", "strategy", pgxmock.AnyArg(), true).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

	agent := &AgentConfig{
		AgentName: "fusion-1",
		AgentType: "strategy",
		Config:    map[string]interface{}{"fusion_strategy": "hybrid"},
		Enabled:   true,
	}

	err := store.UpsertAgentConfig(context.Background(), agent)
	require.NoError(t, err)
	assert.Equal(t, now, agent.UpdatedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSaveAgentStateUnknownWorker tests that saving state for an
// unregistered worker fails
func TestSaveAgentStateUnknownWorker(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE agent_configs").
		WithArgs("ghost", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SaveAgentState(context.Background(), "ghost", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestAgentStateRoundTrip tests saving and reloading a state blob
func TestAgentStateRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)

	state, err := json.Marshal(map[string]float64{"BTC/USDT": 0.72})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE agent_configs").
		WithArgs("fusion-1", state).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SaveAgentState(context.Background(), "fusion-1", state))

	mock.ExpectQuery("SELECT state FROM agent_configs").
		WithArgs("fusion-1").
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow(state))

	loaded, err := store.LoadAgentState(context.Background(), "fusion-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(state), string(loaded))

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestLoadAgentStateNotFound tests the fresh-boot path
func TestLoadAgentStateNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT state FROM agent_configs").
		WithArgs("fusion-1").
		WillReturnRows(pgxmock.NewRows([]string{"state"}))

	_, err := store.LoadAgentState(context.Background(), "fusion-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestInsertSignalFillsDefaults tests ID and timestamp stamping
func TestInsertSignalFillsDefaults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO signals").
		WithArgs(
			pgxmock.AnyArg(), "technical", "technical-1", "BTC/USDT",
			protocol.DirectionBuy, 0.8, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	signal := &SignalRecord{
		AgentType:  "technical",
		AgentName:  "technical-1",
		Symbol:     "BTC/USDT",
		SignalType: protocol.DirectionBuy,
		Confidence: 0.8,
	}

	require.NoError(t, store.InsertSignal(context.Background(), signal))
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", signal.ID.String())
	assert.False(t, signal.CreatedAt.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRecordTradeIdempotent tests that a redelivered fill is not
// recorded twice
func TestRecordTradeIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	trade := &Trade{
		Exchange:      "paper",
		Symbol:        "BTC/USDT",
		Side:          protocol.DirectionBuy,
		OrderType:     protocol.OrderTypeMarket,
		Quantity:      0.1,
		Price:         50000,
		Fee:           5,
		Status:        protocol.OrderStatusFilled,
		OrderID:       "ord-1",
		ExecutionTime: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO trades").
		WithArgs(
			pgxmock.AnyArg(), "paper", "BTC/USDT", protocol.DirectionBuy,
			protocol.OrderTypeMarket, 0.1, 50000.0, 5.0, pgxmock.AnyArg(),
			protocol.OrderStatusFilled, "ord-1", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.RecordTrade(context.Background(), trade)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Second delivery of the same fill hits the unique constraint.
	mock.ExpectExec("INSERT INTO trades").
		WithArgs(
			pgxmock.AnyArg(), "paper", "BTC/USDT", protocol.DirectionBuy,
			protocol.OrderTypeMarket, 0.1, 50000.0, 5.0, pgxmock.AnyArg(),
			protocol.OrderStatusFilled, "ord-1", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err = store.RecordTrade(context.Background(), trade)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdateOrderStatusNotFound tests the missing-order error path
func TestUpdateOrderStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE orders").
		WithArgs("ord-404", protocol.OrderStatusFilled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateOrderStatus(context.Background(), "ord-404", protocol.OrderStatusFilled, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestInsertOrderFillsDefaults tests status and timestamp stamping
func TestInsertOrderFillsDefaults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO orders").
		WithArgs(
			"ord-1", "BTC/USDT", protocol.DirectionBuy, protocol.OrderTypeMarket,
			0.1, pgxmock.AnyArg(), protocol.OrderStatusPending,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	order := &OrderRecord{
		OrderID:   "ord-1",
		Symbol:    "BTC/USDT",
		Side:      protocol.DirectionBuy,
		OrderType: protocol.OrderTypeMarket,
		Quantity:  0.1,
	}

	inserted, err := store.InsertOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, protocol.OrderStatusPending, order.Status)
	assert.False(t, order.CreatedAt.IsZero())

	// A redelivered order collapses on the primary key.
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(
			"ord-1", "BTC/USDT", protocol.DirectionBuy, protocol.OrderTypeMarket,
			0.1, pgxmock.AnyArg(), protocol.OrderStatusPending,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err = store.InsertOrder(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestInsertRiskAssessment tests persisting a rejection verdict
func TestInsertRiskAssessment(t *testing.T) {
	store, mock := newMockStore(t)

	reason := "no fresh price available"
	mock.ExpectExec("INSERT INTO risk_assessments").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), "BTC/USDT", 0.9, 0.0, 0.0,
			0.0, false, &reason, pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	signalID := "intent-9"
	assessment := &RiskAssessmentRecord{
		SignalID:        &signalID,
		Symbol:          "BTC/USDT",
		RiskScore:       0.9,
		Approved:        false,
		RejectionReason: &reason,
	}

	fresh, err := store.InsertRiskAssessment(context.Background(), assessment)
	require.NoError(t, err)
	assert.True(t, fresh)

	// A redelivered intent collapses on the signal_id unique index.
	mock.ExpectExec("INSERT INTO risk_assessments").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), "BTC/USDT", 0.9, 0.0, 0.0,
			0.0, false, &reason, pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	fresh, err = store.InsertRiskAssessment(context.Background(), assessment)
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestInsertStrategyDecision tests persisting a fusion outcome
func TestInsertStrategyDecision(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO strategy_decisions").
		WithArgs(
			pgxmock.AnyArg(), "ETH/USDT", protocol.DirectionHold, 0.55, "hybrid",
			2, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	decision := &StrategyDecision{
		Symbol:         "ETH/USDT",
		SignalType:     protocol.DirectionHold,
		Confidence:     0.55,
		FusionStrategy: "hybrid",
		NumSignals:     2,
	}

	require.NoError(t, store.InsertStrategyDecision(context.Background(), decision))
	require.NoError(t, mock.ExpectationsWereMet())
}

package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

func TestRegistryAddRejectsDuplicates(t *testing.T) {
	r := newRegistry()
	order := &protocol.Order{OrderID: "ord-1", Symbol: "BTC/USDT"}

	require.True(t, r.add("corr-1", order))
	assert.False(t, r.add("corr-1", order))
	assert.Equal(t, 1, r.size())

	got, ok := r.lookup("corr-1")
	require.True(t, ok)
	assert.Equal(t, "ord-1", got.OrderID)
}

func TestRegistryClaimIsOneShot(t *testing.T) {
	r := newRegistry()
	r.add("corr-1", &protocol.Order{OrderID: "ord-1"})
	r.setExchangeID("corr-1", "PAPER-1")

	p, ok := r.claim("corr-1")
	require.True(t, ok)
	assert.Equal(t, "ord-1", p.order.OrderID)
	assert.Equal(t, "PAPER-1", p.exchangeID)

	_, ok = r.claim("corr-1")
	assert.False(t, ok)

	_, ok = r.claim("missing")
	assert.False(t, ok)

	r.remove("corr-1")
	assert.Zero(t, r.size())
}

func TestRegistryOwnsRequiresRecordedVenueID(t *testing.T) {
	r := newRegistry()
	r.add("corr-1", &protocol.Order{OrderID: "ord-1"})

	// Until the placement path records the venue id, stream updates for
	// this correlation are not ours to act on.
	assert.False(t, r.owns("corr-1", "PAPER-1"))

	r.setExchangeID("corr-1", "PAPER-1")
	assert.True(t, r.owns("corr-1", "PAPER-1"))
	assert.False(t, r.owns("corr-1", "PAPER-2"))
	assert.False(t, r.owns("corr-1", ""))
	assert.False(t, r.owns("missing", "PAPER-1"))
}

func TestRegistryFindConditional(t *testing.T) {
	r := newRegistry()
	r.add("c:sl", &protocol.Order{OrderID: "o-sl", Symbol: "BTC/USDT", OrderType: protocol.OrderTypeStopLoss})
	r.add("c:tp", &protocol.Order{OrderID: "o-tp", Symbol: "BTC/USDT", OrderType: protocol.OrderTypeTakeProfit})

	corr, ok := r.findConditional("BTC/USDT", protocol.OrderTypeStopLoss)
	require.True(t, ok)
	assert.Equal(t, "c:sl", corr)

	corr, ok = r.findConditional("BTC/USDT", protocol.OrderTypeTakeProfit)
	require.True(t, ok)
	assert.Equal(t, "c:tp", corr)

	_, ok = r.findConditional("ETH/USDT", protocol.OrderTypeStopLoss)
	assert.False(t, ok)

	// A claimed leg is already being processed and no longer resting.
	r.claim("c:sl")
	_, ok = r.findConditional("BTC/USDT", protocol.OrderTypeStopLoss)
	assert.False(t, ok)
}

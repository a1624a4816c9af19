package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeRejectionReason(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"low confidence", "Confidence 0.45 below minimum 0.60", RejectLowConfidence},
		{"risk reward", "Risk/reward ratio 1.20 below minimum 1.50", RejectPoorRiskReward},
		{"portfolio limit", "Portfolio risk would exceed maximum", RejectPortfolioLimit},
		{"correlation", "Correlated exposure exceeds limit", RejectCorrelatedExposure},
		{"stale price", "no fresh price available", RejectStalePrice},
		{"balance", "Insufficient account balance for position", RejectInsufficientBalance},
		{"trade risk", "Trade risk exceeds per-position maximum", RejectExcessiveRisk},
		{"unknown", "mercury in retrograde", RejectOther},
		{"empty", "", RejectOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRejectionReason(tt.reason))
		})
	}
}

func TestRecordRiskVerdicts(t *testing.T) {
	approvalsBefore := testutil.ToFloat64(RiskApprovals)
	RecordRiskApproval(0.42)
	assert.Equal(t, approvalsBefore+1, testutil.ToFloat64(RiskApprovals))

	rejected := RiskRejections.WithLabelValues(RejectLowConfidence)
	rejectedBefore := testutil.ToFloat64(rejected)
	RecordRiskRejection("Confidence 0.31 below minimum 0.60", 0.8)
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(rejected))
}

func TestRecordOrderLifecycle(t *testing.T) {
	placed := OrdersPlaced.WithLabelValues("paper", "MARKET")
	placedBefore := testutil.ToFloat64(placed)
	filledBefore := testutil.ToFloat64(OrdersFilled)
	rejectedBefore := testutil.ToFloat64(OrdersRejected)
	cancelledBefore := testutil.ToFloat64(OrdersCancelled)

	RecordOrderPlaced("paper", "MARKET")
	RecordOrderFilled(120, -8.5)
	RecordOrderRejected()
	RecordOrderCancelled()

	assert.Equal(t, placedBefore+1, testutil.ToFloat64(placed))
	assert.Equal(t, filledBefore+1, testutil.ToFloat64(OrdersFilled))
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(OrdersRejected))
	assert.Equal(t, cancelledBefore+1, testutil.ToFloat64(OrdersCancelled))
}

func TestRecordCacheCounters(t *testing.T) {
	hitsBefore := testutil.ToFloat64(CacheHits)
	missesBefore := testutil.ToFloat64(CacheMisses)

	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheMiss()

	assert.Equal(t, hitsBefore+1, testutil.ToFloat64(CacheHits))
	assert.Equal(t, missesBefore+2, testutil.ToFloat64(CacheMisses))
}

func TestRecordSignalTracksConfidence(t *testing.T) {
	RecordSignal("technical", "BUY", 0.85)

	gauge := SignalConfidence.WithLabelValues("technical")
	assert.InDelta(t, 0.85, testutil.ToFloat64(gauge), 1e-9)

	RecordSignal("technical", "SELL", 0.40)
	assert.InDelta(t, 0.40, testutil.ToFloat64(gauge), 1e-9)
}

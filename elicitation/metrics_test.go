package elicitation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshotComputesRates(t *testing.T) {
	m := newMetrics()
	m.recordDelivered()
	m.recordDelivered()
	m.recordDelivered()
	m.recordTimedOut()

	snap := m.snapshot(2, 1)
	assert.InDelta(t, 0.75, snap.DeliveryRate, 0.001)
	assert.InDelta(t, 0.25, snap.TimeoutRate, 0.001)
	assert.Equal(t, 2, snap.Active)
	assert.Equal(t, 1, snap.Pending)
}

func TestMetricsSnapshotWithNoSamplesIsZeroed(t *testing.T) {
	m := newMetrics()
	snap := m.snapshot(0, 0)
	assert.Equal(t, 0.0, snap.DeliveryRate)
	assert.Equal(t, 0.0, snap.P50Ms)
}

func TestMetricsLatencyPercentiles(t *testing.T) {
	m := newMetrics()
	for i := 1; i <= 100; i++ {
		m.recordLatency(time.Duration(i) * time.Millisecond)
	}

	snap := m.snapshot(0, 0)
	assert.InDelta(t, 50, snap.P50Ms, 2)
	assert.InDelta(t, 95, snap.P95Ms, 2)
	assert.InDelta(t, 99, snap.P99Ms, 2)
}

func TestMetricsSecurityCounters(t *testing.T) {
	m := newMetrics()
	m.recordSecurity(&m.unauthorizedResponses)
	m.recordSecurity(&m.replayAttempts)

	snap := m.snapshot(0, 0)
	assert.Equal(t, 1, snap.UnauthorizedResponses)
	assert.Equal(t, 1, snap.ReplayAttempts)
}

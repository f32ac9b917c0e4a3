package elicitation

import (
	"sort"
	"sync"
	"time"
)

const maxLatencySamples = 2000

// metrics accumulates the counters and latency samples get_metrics
// reports (spec §4.2). Latency is tracked as a bounded reservoir rather
// than an unbounded slice so long-running processes don't leak memory.
type metrics struct {
	mu sync.Mutex

	latenciesMs []float64
	delivered   int
	timedOut    int

	unauthorizedResponses int
	unauthorizedCancels   int
	replayAttempts        int
	rateLimited           int
	schemaViolations      int
	notFound              int
}

func newMetrics() *metrics {
	return &metrics{}
}

func (m *metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latenciesMs) >= maxLatencySamples {
		m.latenciesMs = m.latenciesMs[1:]
	}
	m.latenciesMs = append(m.latenciesMs, float64(d.Milliseconds()))
}

func (m *metrics) recordDelivered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered++
}

func (m *metrics) recordTimedOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timedOut++
}

func (m *metrics) recordSecurity(counter *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter++
}

// Snapshot is the get_metrics() result shape.
type Snapshot struct {
	P50Ms                 float64 `json:"p50_ms"`
	P95Ms                 float64 `json:"p95_ms"`
	P99Ms                 float64 `json:"p99_ms"`
	Active                int     `json:"active"`
	Pending               int     `json:"pending"`
	DeliveryRate          float64 `json:"delivery_rate"`
	TimeoutRate           float64 `json:"timeout_rate"`
	UnauthorizedResponses int     `json:"unauthorized_responses"`
	UnauthorizedCancels   int     `json:"unauthorized_cancels"`
	ReplayAttempts        int     `json:"replay_attempts"`
	RateLimited           int     `json:"rate_limited"`
	SchemaViolations      int     `json:"schema_violations"`
	NotFound              int     `json:"not_found"`
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (m *metrics) snapshot(active, pending int) Snapshot {
	m.mu.Lock()
	samples := make([]float64, len(m.latenciesMs))
	copy(samples, m.latenciesMs)
	delivered := m.delivered
	timedOut := m.timedOut
	s := Snapshot{
		Active:                active,
		Pending:               pending,
		UnauthorizedResponses: m.unauthorizedResponses,
		UnauthorizedCancels:   m.unauthorizedCancels,
		ReplayAttempts:        m.replayAttempts,
		RateLimited:           m.rateLimited,
		SchemaViolations:      m.schemaViolations,
		NotFound:              m.notFound,
	}
	m.mu.Unlock()

	sort.Float64s(samples)
	s.P50Ms = percentile(samples, 0.50)
	s.P95Ms = percentile(samples, 0.95)
	s.P99Ms = percentile(samples, 0.99)

	total := delivered + timedOut
	if total > 0 {
		s.DeliveryRate = float64(delivered) / float64(total)
		s.TimeoutRate = float64(timedOut) / float64(total)
	}
	return s
}

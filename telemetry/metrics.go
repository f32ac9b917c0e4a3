package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// MetricInstruments caches OTel metric instruments by name so repeated
// RecordCounter/RecordHistogram calls for the same metric reuse one
// instrument instead of re-registering it with the meter each time.
type MetricInstruments struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	mu         sync.RWMutex
}

// NewMetricInstruments creates an instrument cache backed by meter.
func NewMetricInstruments(meter metric.Meter) *MetricInstruments {
	return &MetricInstruments{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// RecordCounter increments a counter metric.
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if counter, exists = m.counters[name]; !exists {
			var err error
			counter, err = m.meter.Int64Counter(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("create counter %s: %w", name, err)
			}
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	counter.Add(ctx, value, opts...)
	return nil
}

// RecordHistogram records a value distribution (latencies, queue depth).
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[name]; !exists {
			var err error
			histogram, err = m.meter.Float64Histogram(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("create histogram %s: %w", name, err)
			}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.Record(ctx, value, opts...)
	return nil
}

// Metric name constants for the bridge's own instrumentation points.
const (
	MetricEventStoreAppendDuration = "eventstore.append.duration_ms"
	MetricEventStoreQueryDuration  = "eventstore.query.duration_ms"
	MetricEventStoreSegmentRolls   = "eventstore.segment.rolls.total"

	MetricElicitationCreated = "elicitation.created.total"
	MetricElicitationLatency = "elicitation.response.duration_ms"
	MetricElicitationErrors  = "elicitation.errors.total"

	MetricExpertDelegations = "expert.delegations.total"
	MetricExpertScoreMiss   = "expert.score.no_candidates.total"
)

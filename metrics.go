package eventqueue

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/overtonx/eventqueue"

// NopMetricsCollector drops every measurement. Queue, Dispatcher and BatchFeeder
// fall back to it when no collector is configured.
type NopMetricsCollector struct{}

func NewNopMetricsCollector() *NopMetricsCollector {
	return &NopMetricsCollector{}
}

func (*NopMetricsCollector) IncrementCounter(string, map[string]string) {}

func (*NopMetricsCollector) RecordDuration(string, time.Duration, map[string]string) {}

func (*NopMetricsCollector) RecordGauge(string, float64, map[string]string) {}

// instruments caches one OpenTelemetry instrument per metric name.
type instruments[T any] struct {
	mu     sync.Mutex
	items  map[string]T
	create func(name string) (T, error)
}

func newInstruments[T any](create func(name string) (T, error)) *instruments[T] {
	return &instruments[T]{items: make(map[string]T), create: create}
}

// get returns false when the meter refused the instrument; the error goes to the otel error handler.
func (c *instruments[T]) get(name string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inst, ok := c.items[name]; ok {
		return inst, true
	}
	inst, err := c.create(name)
	if err != nil {
		otel.Handle(err)
		var zero T
		return zero, false
	}
	c.items[name] = inst
	return inst, true
}

func (c *instruments[T]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// OpenTelemetryMetricsCollector reports queue, dispatch and resubmit metrics
// (eventqueue.*) through an OpenTelemetry meter. Durations are recorded in seconds.
type OpenTelemetryMetricsCollector struct {
	counters   *instruments[metric.Int64Counter]
	histograms *instruments[metric.Float64Histogram]
	gauges     *instruments[metric.Float64Gauge]
}

// NewOpenTelemetryMetricsCollector reads the meter from the global provider, so the host
// application decides where eventqueue metrics are exported.
func NewOpenTelemetryMetricsCollector() *OpenTelemetryMetricsCollector {
	return NewOpenTelemetryMetricsCollectorWithMeter(otel.Meter(meterName))
}

func NewOpenTelemetryMetricsCollectorWithMeter(meter metric.Meter) *OpenTelemetryMetricsCollector {
	return &OpenTelemetryMetricsCollector{
		counters: newInstruments(func(name string) (metric.Int64Counter, error) {
			return meter.Int64Counter(name)
		}),
		histograms: newInstruments(func(name string) (metric.Float64Histogram, error) {
			return meter.Float64Histogram(name, metric.WithUnit("s"))
		}),
		gauges: newInstruments(func(name string) (metric.Float64Gauge, error) {
			return meter.Float64Gauge(name)
		}),
	}
}

func (m *OpenTelemetryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	if counter, ok := m.counters.get(name); ok {
		counter.Add(context.Background(), 1, withTags(tags))
	}
}

func (m *OpenTelemetryMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	if histogram, ok := m.histograms.get(name); ok {
		histogram.Record(context.Background(), duration.Seconds(), withTags(tags))
	}
}

// RecordGauge stores the latest value, e.g. the size of the last resubmitted batch.
func (m *OpenTelemetryMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	if gauge, ok := m.gauges.get(name); ok {
		gauge.Record(context.Background(), value, withTags(tags))
	}
}

func withTags(tags map[string]string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for key, value := range tags {
		attrs = append(attrs, attribute.String(key, value))
	}
	return metric.WithAttributes(attrs...)
}

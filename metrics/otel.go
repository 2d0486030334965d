package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/goliatone/go-mailflow"

// OTelRecorder forwards recorder calls to OpenTelemetry instruments, created
// lazily per metric name. Tags become string attributes.
type OTelRecorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTelRecorder uses the global MeterProvider when meter is nil.
func NewOTelRecorder(meter metric.Meter) *OTelRecorder {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	return &OTelRecorder{
		meter:      meter,
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
}

func (r *OTelRecorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	name = strings.TrimSpace(name)
	if r == nil || name == "" {
		return
	}
	counter := r.counter(name)
	if counter == nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *OTelRecorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	name = strings.TrimSpace(name)
	if r == nil || name == "" {
		return
	}
	histogram := r.histogram(name)
	if histogram == nil {
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *OTelRecorder) counter(name string) metric.Int64Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter
	}
	counter, err := r.meter.Int64Counter(name)
	if err != nil {
		return nil
	}
	r.counters[name] = counter
	return counter
}

func (r *OTelRecorder) histogram(name string) metric.Float64Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram
	}
	opts := []metric.Float64HistogramOption{}
	if strings.HasSuffix(name, "_ms") {
		opts = append(opts, metric.WithUnit("ms"))
	}
	histogram, err := r.meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil
	}
	r.histograms[name] = histogram
	return histogram
}

func attributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

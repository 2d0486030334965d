package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// NewMeterProvider returns an SDK provider whose instruments are pulled by
// reader, plus the recorder bound to it.
func NewMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader, *OTelRecorder) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return provider, reader, NewOTelRecorder(provider.Meter(meterName))
}

// OTelHandler collects reader on every request and writes one line per data
// point: sums as `name{attrs} value`, histograms as `_count` and `_sum`.
type OTelHandler struct {
	reader sdkmetric.Reader
}

func NewOTelHandler(reader sdkmetric.Reader) *OTelHandler {
	return &OTelHandler{reader: reader}
}

func (h *OTelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reader == nil {
		http.Error(w, "otel reader not configured", http.StatusServiceUnavailable)
		return
	}
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(r.Context(), &rm); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	WriteResourceMetrics(w, rm)
}

// WriteResourceMetrics renders rm sorted by line.
func WriteResourceMetrics(w io.Writer, rm metricdata.ResourceMetrics) {
	var lines []string
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, point := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s%s %d", m.Name, formatAttributes(point.Attributes), point.Value))
				}
			case metricdata.Sum[float64]:
				for _, point := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s%s %g", m.Name, formatAttributes(point.Attributes), point.Value))
				}
			case metricdata.Histogram[float64]:
				for _, point := range data.DataPoints {
					attrs := formatAttributes(point.Attributes)
					lines = append(lines,
						fmt.Sprintf("%s_count%s %d", m.Name, attrs, point.Count),
						fmt.Sprintf("%s_sum%s %g", m.Name, attrs, point.Sum),
					)
				}
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func formatAttributes(set attribute.Set) string {
	if set.Len() == 0 {
		return ""
	}
	parts := make([]string, 0, set.Len())
	for _, kv := range set.ToSlice() {
		parts = append(parts, fmt.Sprintf("%s=%q", kv.Key, kv.Value.Emit()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

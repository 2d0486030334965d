package metrics

import (
	"context"

	"github.com/goliatone/go-mailflow/core"
)

// Fanout sends every observation to each non-nil recorder.
type Fanout []core.MetricsRecorder

func NewFanout(recorders ...core.MetricsRecorder) Fanout {
	out := make(Fanout, 0, len(recorders))
	for _, recorder := range recorders {
		if recorder != nil {
			out = append(out, recorder)
		}
	}
	return out
}

func (f Fanout) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	for _, recorder := range f {
		recorder.IncCounter(ctx, name, value, tags)
	}
}

func (f Fanout) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	for _, recorder := range f {
		recorder.ObserveHistogram(ctx, name, value, tags)
	}
}

var (
	_ core.MetricsRecorder = (*Registry)(nil)
	_ core.MetricsRecorder = (*OTelRecorder)(nil)
	_ core.MetricsRecorder = Fanout(nil)
)

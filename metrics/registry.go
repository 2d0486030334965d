package metrics

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-mailflow/core"
)

// StatsSource reports the live state of one scheduler.
type StatsSource interface {
	Stats() core.SchedulerStats
}

type HistogramSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

type Snapshot struct {
	Counters   map[string]int64
	Histograms map[string]HistogramSnapshot
	Schedulers []core.SchedulerStats
}

// Registry aggregates counters and histograms in memory. Series are keyed
// by name plus sorted tags, e.g. mailflow.jobs.retried{stage="CreateTicket"}.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]*HistogramSnapshot
	sources    []StatsSource
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   map[string]int64{},
		histograms: map[string]*HistogramSnapshot{},
	}
}

func (r *Registry) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || strings.TrimSpace(name) == "" {
		return
	}
	key := seriesKey(name, tags)
	r.mu.Lock()
	r.counters[key] += value
	r.mu.Unlock()
}

func (r *Registry) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil || strings.TrimSpace(name) == "" || math.IsNaN(value) {
		return
	}
	key := seriesKey(name, tags)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[key]
	if !ok {
		r.histograms[key] = &HistogramSnapshot{Count: 1, Sum: value, Min: value, Max: value}
		return
	}
	h.Count++
	h.Sum += value
	h.Min = math.Min(h.Min, value)
	h.Max = math.Max(h.Max, value)
}

// Watch adds a scheduler whose stats are reported with every snapshot.
func (r *Registry) Watch(source StatsSource) {
	if r == nil || source == nil {
		return
	}
	r.mu.Lock()
	r.sources = append(r.sources, source)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	out := Snapshot{
		Counters:   map[string]int64{},
		Histograms: map[string]HistogramSnapshot{},
	}
	if r == nil {
		return out
	}
	r.mu.Lock()
	for key, value := range r.counters {
		out.Counters[key] = value
	}
	for key, value := range r.histograms {
		out.Histograms[key] = *value
	}
	sources := append([]StatsSource(nil), r.sources...)
	r.mu.Unlock()

	for _, source := range sources {
		out.Schedulers = append(out.Schedulers, source.Stats())
	}
	return out
}

// Counter returns the current value of one counter series.
func (r *Registry) Counter(name string, tags map[string]string) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[seriesKey(name, tags)]
}

// ServeHTTP writes the snapshot as sorted "series value" lines.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if req.Method == http.MethodHead {
		return
	}
	_ = r.WriteText(w)
}

func (r *Registry) WriteText(w io.Writer) error {
	snapshot := r.Snapshot()
	lines := make([]string, 0, len(snapshot.Counters)+len(snapshot.Histograms)*3+len(snapshot.Schedulers)*4)
	for key, value := range snapshot.Counters {
		lines = append(lines, fmt.Sprintf("%s %d", key, value))
	}
	for key, value := range snapshot.Histograms {
		name, labels := splitSeries(key)
		lines = append(lines,
			fmt.Sprintf("%s_count%s %d", name, labels, value.Count),
			fmt.Sprintf("%s_sum%s %g", name, labels, value.Sum),
			fmt.Sprintf("%s_max%s %g", name, labels, value.Max),
		)
	}
	for _, stats := range snapshot.Schedulers {
		labels := seriesKey("", map[string]string{"queue": stats.Name})
		lines = append(lines,
			fmt.Sprintf("mailflow.queue.pending%s %d", labels, stats.Pending),
			fmt.Sprintf("mailflow.queue.executing%s %d", labels, stats.Executing),
			fmt.Sprintf("mailflow.queue.workers%s %d", labels, stats.ActiveWorkers),
			fmt.Sprintf("mailflow.queue.max_workers%s %d", labels, stats.MaxWorkers),
		)
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func seriesKey(name string, tags map[string]string) string {
	name = strings.TrimSpace(name)
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", key, tags[key])
	}
	b.WriteByte('}')
	return b.String()
}

func splitSeries(key string) (string, string) {
	if idx := strings.IndexByte(key, '{'); idx >= 0 {
		return key[:idx], key[idx:]
	}
	return key, ""
}

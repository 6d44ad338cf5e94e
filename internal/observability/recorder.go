package observability

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/herculesinc/credo.rate-limiter/pkg/limiter"
)

const meterName = "github.com/herculesinc/credo.rate-limiter"

type instrumentInfo struct {
	description string
	unit        string
}

var known = map[string]instrumentInfo{
	"ratelimit.call":     {"Number of rate limit evaluations", "{call}"},
	"ratelimit.rejected": {"Number of rejected admissions", "{call}"},
	"ratelimit.latency":  {"Duration of rate limit evaluations", "ms"},
}

// Recorder implements limiter.MetricsRecorder on an OpenTelemetry meter.
// Instruments are created on first use and tags become attributes.
type Recorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

var _ limiter.MetricsRecorder = (*Recorder)(nil)

func NewRecorder(mp metric.MeterProvider) *Recorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return &Recorder{
		meter:      mp.Meter(meterName),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (r *Recorder) Add(name string, value float64, tags map[string]string) {
	r.counter(name).Add(context.Background(), value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) Observe(name string, value float64, tags map[string]string) {
	r.histogram(name).Record(context.Background(), value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) counter(name string) metric.Float64Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	info := known[name]
	c, err := r.meter.Float64Counter(name,
		metric.WithDescription(info.description),
		metric.WithUnit(info.unit),
	)
	if err != nil {
		otel.Handle(err)
	}
	r.counters[name] = c
	return c
}

func (r *Recorder) histogram(name string) metric.Float64Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[name]; ok {
		return h
	}
	info := known[name]
	h, err := r.meter.Float64Histogram(name,
		metric.WithDescription(info.description),
		metric.WithUnit(info.unit),
	)
	if err != nil {
		otel.Handle(err)
	}
	r.histograms[name] = h
	return h
}

func attributes(tags map[string]string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		kvs = append(kvs, attribute.String(k, v))
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs
}

// ObserveSession exports the connection state of s as the
// ratelimit.session.state gauge (0 connected, 1 reconnecting, 2 failed).
func ObserveSession(mp metric.MeterProvider, s *limiter.Session) error {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	_, err := meter.Int64ObservableGauge("ratelimit.session.state",
		metric.WithDescription("Connection state of the store session"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.State()), metric.WithAttributes(attribute.String("limiter", s.Name())))
			return nil
		}),
	)
	return err
}

package limiter

import (
	"strconv"
	"time"
)

// MetricsRecorder receives telemetry from the limiter. Implementations must
// be safe for concurrent use.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

const (
	metricCall     = "ratelimit.call"
	metricLatency  = "ratelimit.latency"
	metricRejected = "ratelimit.rejected"
)

// NoOpMetricsRecorder is a placeholder that does nothing.
// It ensures we never have to check 'if r.recorder != nil' in our hot path.
type NoOpMetricsRecorder struct{}

func (n *NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (n *NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}

func recordCall(r MetricsRecorder, name, operation string, start time.Time, success, rejected bool) {
	tags := map[string]string{
		"limiter":   name,
		"operation": operation,
		"success":   strconv.FormatBool(success),
	}
	r.Add(metricCall, 1, tags)
	r.Observe(metricLatency, float64(time.Since(start).Microseconds())/1000, tags)
	if rejected {
		r.Add(metricRejected, 1, tags)
	}
}

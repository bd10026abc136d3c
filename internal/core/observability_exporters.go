package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultExpvarName is the expvar key used when none is configured.
const DefaultExpvarName = "isaac_operations"

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// ExpvarMetricsRecorder keeps per-operation counters in an expvar map so
// they show up under /debug/vars. Each operation maps to its success and
// error counts plus the seconds spent.
type ExpvarMetricsRecorder struct {
	name string
	ops  *expvar.Map
	mu   sync.Mutex
}

// NewExpvarMetricsRecorder publishes the recorder's map under name, or
// DefaultExpvarName when name is empty. Recorders sharing a name share
// counters; a name already taken by another kind of variable is an error.
func NewExpvarMetricsRecorder(name string) (*ExpvarMetricsRecorder, error) {
	if name == "" {
		name = DefaultExpvarName
	}
	var ops *expvar.Map
	switch v := expvar.Get(name).(type) {
	case nil:
		ops = expvar.NewMap(name)
	case *expvar.Map:
		ops = v
	default:
		return nil, fmt.Errorf("expvar %q already published as %T", name, v)
	}
	return &ExpvarMetricsRecorder{name: name, ops: ops}, nil
}

// Name is the expvar key the counters live under.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Count returns how many times operation finished with the given outcome.
func (r *ExpvarMetricsRecorder) Count(operation string, success bool) int64 {
	m, ok := r.ops.Get(operation).(*expvar.Map)
	if !ok {
		return 0
	}
	n, ok := m.Get(outcome(success)).(*expvar.Int)
	if !ok {
		return 0
	}
	return n.Value()
}

// Seconds returns the total time spent in operation.
func (r *ExpvarMetricsRecorder) Seconds(operation string) float64 {
	m, ok := r.ops.Get(operation).(*expvar.Map)
	if !ok {
		return 0
	}
	f, ok := m.Get("seconds").(*expvar.Float)
	if !ok {
		return 0
	}
	return f.Value()
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	m := r.operation(operation)
	m.Add(outcome(success), 1)
	m.AddFloat("seconds", duration.Seconds())
}

func (r *ExpvarMetricsRecorder) operation(name string) *expvar.Map {
	if m, ok := r.ops.Get(name).(*expvar.Map); ok {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.ops.Get(name).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	r.ops.Set(name, m)
	return m
}

// PrometheusMetricsRecorder counts operations and their latency by
// operation and outcome.
type PrometheusMetricsRecorder struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the recorder's collectors with reg.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isaac_operations_total",
			Help: "Datastore operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "isaac_operation_duration_seconds",
			Help:    "Datastore operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"operation", "outcome"}),
	}
	for _, c := range []prometheus.Collector{r.total, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register operation metrics: %w", err)
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	labels := prometheus.Labels{"operation": operation, "outcome": outcome(success)}
	r.total.With(labels).Inc()
	r.duration.With(labels).Observe(duration.Seconds())
}

// SpanRecord is one finished span as written by JSONTracer.
type SpanRecord struct {
	Span      uint64    `json:"span"`
	Operation string    `json:"operation"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Start     time.Time `json:"start"`
	Seconds   float64   `json:"seconds"`
}

// JSONTracer writes each finished span to w as one JSON line.
type JSONTracer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	next  uint64
	spans int
	err   error
}

// NewJSONTracer returns a tracer writing to w.
func NewJSONTracer(w io.Writer) *JSONTracer {
	return &JSONTracer{enc: json.NewEncoder(w)}
}

// Spans reports how many spans were written.
func (t *JSONTracer) Spans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans
}

// Err returns the first write error, after which spans are dropped.
func (t *JSONTracer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	t.mu.Lock()
	t.next++
	id := t.next
	t.mu.Unlock()
	return ctx, &jsonSpan{tracer: t, rec: SpanRecord{Span: id, Operation: operation, Start: time.Now().UTC()}}
}

type jsonSpan struct {
	tracer *JSONTracer
	rec    SpanRecord
}

func (s *jsonSpan) End(err error) {
	s.rec.Seconds = time.Since(s.rec.Start).Seconds()
	s.rec.Outcome = outcome(err == nil)
	if err != nil {
		s.rec.Error = err.Error()
	}
	t := s.tracer
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	if t.err = t.enc.Encode(s.rec); t.err == nil {
		t.spans++
	}
}

package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"petri/pkg/domain"
)

// MetricsRecorder observes synchronizer operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around synchronizer operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// PrometheusMetricsRecorder exports operation counters and latency histograms.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	trees      prometheus.Gauge
}

// NewPrometheusMetricsRecorder registers the synchronizer metrics with reg.
// A nil reg uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "petri",
				Subsystem: "sync",
				Name:      "operations_total",
				Help:      "Total number of synchronizer operations by status",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "petri",
				Subsystem: "sync",
				Name:      "operation_duration_seconds",
				Help:      "Duration of synchronizer operations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		trees: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "petri",
				Subsystem: "sync",
				Name:      "trees",
				Help:      "Number of trees in the canonical list",
			},
		),
	}
	for _, c := range []prometheus.Collector{r.operations, r.duration, r.trees} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records a synchronizer operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetTreeCount updates the canonical list size gauge.
func (r *PrometheusMetricsRecorder) SetTreeCount(n int) {
	r.trees.Set(float64(n))
}

// treeCounter is implemented by recorders that track the list size.
type treeCounter interface {
	SetTreeCount(n int)
}

// OTelTracer adapts an OpenTelemetry tracer to Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps t; a nil t yields a no-op tracer.
func NewOTelTracer(t trace.Tracer) *OTelTracer {
	if t == nil {
		t = noop.NewTracerProvider().Tracer("petri")
	}
	return &OTelTracer{tracer: t}
}

// Start implements the Tracer interface.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	ctx, span := t.tracer.Start(ctx, "petri.sync."+operation, trace.WithAttributes(attribute.String("petri.operation", operation)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.span.SetAttributes(attribute.String("petri.error_kind", string(domain.KindOf(err))))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

package wreq

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/haivivi/wreq/go/pkg/gvl"
)

const tracerName = "github.com/haivivi/wreq/go/pkg/wreq"

// Metrics are Prometheus metrics of a client. One Metrics may be shared by
// several clients.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics creates client metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wreq",
				Name:      "requests_total",
				Help:      "Requests by method and outcome: a status code, an error kind or \"interrupted\".",
			},
			[]string{"method", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "wreq",
				Name:      "request_duration_seconds",
				Help:      "Time until response headers arrived.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wreq",
			Name:      "requests_in_flight",
			Help:      "Requests waiting for response headers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.inFlight)
	}
	return m
}

// WithMetrics records requests in m.
func WithMetrics(m *Metrics) Option {
	return func(c *clientConfig) {
		c.metrics = m
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The default is
// the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *clientConfig) {
		c.tracerProvider = tp
	}
}

// observation follows one request from Do to its response headers.
type observation struct {
	method  string
	start   time.Time
	span    trace.Span
	metrics *Metrics
}

func (c *Client) observe(method, target, requestID string, r *request) (context.Context, *observation) {
	tp := c.config.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ctx, span := tp.Tracer(tracerName).Start(context.Background(), "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
			attribute.String("wreq.request_id", requestID),
		),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.header))

	if c.config.metrics != nil {
		c.config.metrics.inFlight.Inc()
	}
	return ctx, &observation{method: method, start: time.Now(), span: span, metrics: c.config.metrics}
}

func (o *observation) end(resp *Response, err error) {
	defer o.span.End()
	outcome := ""
	switch {
	case err == nil:
		outcome = strconv.Itoa(resp.StatusCode)
		o.span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= 500 {
			o.span.SetStatus(codes.Error, resp.Status)
		}
	case errors.Is(err, gvl.ErrInterrupted):
		outcome = "interrupted"
		o.span.SetStatus(codes.Error, "interrupted")
	default:
		outcome = "error"
		if e, ok := AsError(err); ok {
			outcome = e.Kind.String()
		}
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, outcome)
	}

	if o.metrics == nil {
		return
	}
	o.metrics.inFlight.Dec()
	o.metrics.requests.WithLabelValues(o.method, outcome).Inc()
	o.metrics.duration.WithLabelValues(o.method).Observe(time.Since(o.start).Seconds())
}

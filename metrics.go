package secretary

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records provider traffic and extraction outcomes.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	promptBytes  *prometheus.HistogramVec
	fieldResults *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg means
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider calls",
		}, []string{"mode", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"mode"}),
		promptBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_size_bytes",
			Help:      "System prompt plus input size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
		}, []string{"mode"}),
		fieldResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_results_total",
			Help:      "Reconciled fields by outcome",
		}, []string{"schema", "result"}),
	}
}

// ObserveResult counts the fields of a finished extraction. err may be nil,
// a *FieldDeserializationError or any other failure.
func (m *Metrics) ObserveResult(s *Schema, err error) {
	var fe *FieldDeserializationError
	switch {
	case err == nil:
		m.fieldResults.WithLabelValues(s.Name(), "ok").Add(float64(len(s.units)))
	case errors.As(err, &fe):
		m.fieldResults.WithLabelValues(s.Name(), "ok").Add(float64(len(fe.Successful)))
		m.fieldResults.WithLabelValues(s.Name(), "failed").Add(float64(len(fe.Failed)))
	default:
		m.fieldResults.WithLabelValues(s.Name(), "failed").Add(float64(len(s.units)))
	}
}

// Instrument wraps p so every call is counted and timed under the mode found
// in its context.
func (m *Metrics) Instrument(p Provider) Provider {
	if cp, ok := p.(ChatProvider); ok {
		return &instrumentedChat{instrumented{next: p, m: m}, cp}
	}
	return &instrumented{next: p, m: m}
}

type instrumented struct {
	next Provider
	m    *Metrics
}

func (i *instrumented) Send(ctx context.Context, systemPrompt, input string) (string, error) {
	return i.m.observe(ctx, len(systemPrompt)+len(input), func() (string, error) {
		return i.next.Send(ctx, systemPrompt, input)
	})
}

// Model is the wrapped provider's model name, or "".
func (i *instrumented) Model() string { return modelOf(i.next) }

type instrumentedChat struct {
	instrumented
	chat ChatProvider
}

func (i *instrumentedChat) SendMessages(ctx context.Context, messages []Message) (string, error) {
	size := 0
	for _, msg := range messages {
		size += len(msg.Content)
	}
	return i.m.observe(ctx, size, func() (string, error) {
		return i.chat.SendMessages(ctx, messages)
	})
}

func (m *Metrics) observe(ctx context.Context, size int, call func() (string, error)) (string, error) {
	mode := ModeFromContext(ctx).String()
	m.promptBytes.WithLabelValues(mode).Observe(float64(size))
	start := time.Now()
	out, err := call()
	m.duration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	m.requests.WithLabelValues(mode, status).Inc()
	return out, err
}

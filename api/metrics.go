package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "todo-api/api"
	todosMetricsEvent  = "todos.request.metrics"
	todosSpanNamespace = "todos."
)

// storeDurationSeconds tracks time spent in the document store per route.
var storeDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "todo_api",
	Name:      "store_duration_seconds",
	Help:      "Time spent in storage calls while serving a request.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route"})

type requestMetrics struct {
	logger        *log.Logger
	route         string
	method        string
	start         time.Time
	storeDuration time.Duration
	storeCalls    int
	todosReturned int
	errorStage    string
	span          trace.Span
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, todosSpanNamespace+method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", method),
		),
	)
	return &requestMetrics{
		logger: logger,
		route:  route,
		method: method,
		start:  time.Now(),
		span:   span,
	}, ctx
}

// ObserveStore accumulates time spent in storage calls.
func (m *requestMetrics) ObserveStore(duration time.Duration) {
	m.storeCalls++
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) SetTodosReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.todosReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)
	if m.storeCalls > 0 {
		storeDurationSeconds.WithLabelValues(m.method, m.route).Observe(m.storeDuration.Seconds())
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Float64("todos.total_ms", durationToMillis(total)),
			attribute.Float64("todos.store_ms", durationToMillis(m.storeDuration)),
			attribute.Int("todos.store_calls", m.storeCalls),
			attribute.Int("todos.returned", m.todosReturned),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("todos.error_stage", m.errorStage))
		}
		if err != nil && status >= http.StatusInternalServerError {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":          m.route,
		"method":         m.method,
		"status":         status,
		"total_ms":       durationToMillis(total),
		"store_calls":    m.storeCalls,
		"todos_returned": m.todosReturned,
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Info(todosMetricsEvent)
}

// instrumented runs h with request metrics bound to the request context.
// The metrics entry is written once the handler returns.
func instrumented(logger *log.Logger, route string, h func(c echo.Context, m *requestMetrics) error) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			status := c.Response().Status
			if err != nil {
				status, _ = classifyError(err)
			}
			metrics.Log(status, err)
		}()
		return h(c, metrics)
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

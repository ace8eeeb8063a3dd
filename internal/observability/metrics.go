package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
)

// Metrics exposes prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	messagesSent      *prometheus.CounterVec
	admissionsRefused *prometheus.CounterVec
	dispatchFailures  *prometheus.CounterVec
	windowsOpened     *prometheus.CounterVec
	snapshotsStored   *prometheus.CounterVec
	inboundFailures   *prometheus.CounterVec
	tenantRefreshFail *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
}

// NewMetrics registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"path", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by route and error code",
		}, []string{"path", "method", "code"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_messages_sent_total",
			Help: "Message bodies accepted by the send API",
		}, []string{"kind", "category"}),
		admissionsRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_admissions_refused_total",
			Help: "Dispatches refused by quota or tenant eligibility",
		}, []string{"reason", "category"}),
		dispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_dispatch_failures_total",
			Help: "Dispatch attempts that failed, by pipeline stage",
		}, []string{"stage"}),
		windowsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_conversation_windows_opened_total",
			Help: "Conversation windows created through admission control",
		}, []string{"category"}),
		snapshotsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialogue_snapshots_persisted_total",
			Help: "Dialogue snapshots written, by resulting state",
		}, []string{"state"}),
		inboundFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dialogue_inbound_failures_total",
			Help: "Inbound events that failed, by orchestrator stage",
		}, []string{"stage"}),
		tenantRefreshFail: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_metadata_refresh_failures_total",
			Help: "Tenant metadata refreshes that fell back to stale rows",
		}, []string{"resource"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whatsapp_dispatch_duration_seconds",
			Help:    "Duration of outbound dispatch attempts",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"outcome"}),
	}
}

// Registry returns the backing registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordDispatch observes the duration of one dispatch attempt.
func (m *Metrics) RecordDispatch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Subscribe attaches the delivery counters to the event dispatcher.
func (m *Metrics) Subscribe(dispatcher events.Dispatcher) {
	if m == nil || dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventMessageSent, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.MessageSentPayload); ok {
			m.messagesSent.WithLabelValues(string(p.Kind), string(p.Category)).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventAdmissionRefused, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.AdmissionRefusedPayload); ok {
			m.admissionsRefused.WithLabelValues(p.Reason, string(p.Category)).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventDispatchFailed, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.DispatchFailedPayload); ok {
			m.dispatchFailures.WithLabelValues(p.Stage).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventWindowOpened, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.WindowOpenedPayload); ok {
			m.windowsOpened.WithLabelValues(string(p.Category)).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventSnapshotPersisted, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.SnapshotPersistedPayload); ok {
			m.snapshotsStored.WithLabelValues(p.State).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventInboundFailed, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.InboundFailedPayload); ok {
			m.inboundFailures.WithLabelValues(p.Stage).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventTenantRefreshFailed, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.TenantRefreshFailedPayload); ok {
			m.tenantRefreshFail.WithLabelValues(p.Resource).Inc()
		}
		return nil
	})
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_nodes_total",
			Help: "Total number of provisioned nodes by status",
		},
		[]string{"status"},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_registrations_total",
			Help: "Node registration attempts by result",
		},
		[]string{"result"},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_heartbeats_total",
			Help: "Node heartbeats received by result",
		},
		[]string{"result"},
	)

	NodesMarkedOffline = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_nodes_marked_offline_total",
			Help: "Nodes transitioned to offline by the staleness sweeper",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Agent metrics
	AgentRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_agent_registered",
			Help: "Whether the agent holds credentials from the coordinator (1 = registered)",
		},
	)

	AgentHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_agent_heartbeats_total",
			Help: "Heartbeats sent by the agent by result",
		},
		[]string{"result"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_agent_commands_total",
			Help: "Commands handled by the agent by verb and result",
		},
		[]string{"verb", "result"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_agent_command_duration_seconds",
			Help:    "Subprocess execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	SignatureFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_agent_signature_failures_total",
			Help: "Inbound commands rejected for authentication",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(NodesMarkedOffline)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(AgentRegistered)
	prometheus.MustRegister(AgentHeartbeatsTotal)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(SignatureFailures)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// InstrumentHandler wraps h with request count and duration metrics under route
func InstrumentHandler(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := NewTimer()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		timer.ObserveDurationVec(APIRequestDuration, route)
		APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

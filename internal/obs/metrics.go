package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every endpoint.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Identity-domain counters.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idport_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	registrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idport_registrations_total",
		Help: "Successful account registrations.",
	})

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idport_tokens_issued_total",
			Help: "JWTs issued by type.",
		},
		[]string{"type"},
	)

	rateLimitDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idport_rate_limit_denials_total",
			Help: "Requests denied by the sliding-window limiter, by scope.",
		},
		[]string{"scope"},
	)

	passwordResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idport_password_resets_total",
			Help: "Password reset flow events by stage.",
		},
		[]string{"stage"},
	)

	signingKeysRotated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idport_signing_keys_removed_total",
		Help: "Expired signing keys removed by the cleanup sweep.",
	})
)

var ready = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "idport_ready",
	Help: "Whether the service considers itself ready (1) or not (0).",
})

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, registrationsTotal, tokensIssuedTotal,
		rateLimitDenialsTotal, passwordResetsTotal, signingKeysRotated,
		ready,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// CountLogin records a login attempt outcome ("ok", "denied", "rate_limited").
func CountLogin(result string) { loginsTotal.WithLabelValues(result).Inc() }

// CountRegistration records a successful registration.
func CountRegistration() { registrationsTotal.Inc() }

// CountTokenIssued records issuance of a token of the given type.
func CountTokenIssued(tokenType string) { tokensIssuedTotal.WithLabelValues(tokenType).Inc() }

// CountRateLimitDenial records a sliding-window denial for a scope ("login", "register", "reset").
func CountRateLimitDenial(scope string) { rateLimitDenialsTotal.WithLabelValues(scope).Inc() }

// CountPasswordReset records a reset-flow stage ("requested", "completed", "rejected").
func CountPasswordReset(stage string) { passwordResetsTotal.WithLabelValues(stage).Inc() }

// CountKeysRemoved records signing keys removed during rotation cleanup.
func CountKeysRemoved(n int) { signingKeysRotated.Add(float64(n)) }

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "tradegate_http_duration_seconds",
			Help: "Duration of HTTP requests.",
		},
		[]string{"path", "method", "status"},
	)
	refreshCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_token_refresh_total",
		Help: "Token refresh attempts by outcome.",
	}, []string{"outcome"})
	retryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_request_retry_total",
		Help: "Requests replayed after a token refresh, by final status.",
	}, []string{"status"})
	proxyCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_proxy_upstream_total",
		Help: "Requests forwarded to the backend, by upstream status (0 when unreachable).",
	}, []string{"method", "status"})
	proxyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradegate_proxy_upstream_seconds",
		Help:    "Latency of forwarded backend requests.",
		Buckets: prometheus.DefBuckets,
	})
	guardCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_guard_decisions_total",
		Help: "Route guard decisions.",
	}, []string{"decision"})
	sessionCheckCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradegate_session_checks_total",
		Help: "Server-side session checks by outcome.",
	}, []string{"outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionObserver exports client refresh/retry events.
type SessionObserver struct{}

func NewSessionObserver() *SessionObserver {
	return &SessionObserver{}
}

func (SessionObserver) ObserveRefresh(ok bool) {
	refreshCounter.WithLabelValues(outcome(ok)).Inc()
}

func (SessionObserver) ObserveRetry(status int) {
	retryCounter.WithLabelValues(strconv.Itoa(status)).Inc()
}

func ObserveProxy(method string, status int, seconds float64) {
	proxyCounter.WithLabelValues(method, strconv.Itoa(status)).Inc()
	proxyLatency.Observe(seconds)
}

func ObserveGuard(decision string) {
	guardCounter.WithLabelValues(decision).Inc()
}

func ObserveSessionCheck(ok bool) {
	sessionCheckCounter.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

package infrastructure

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	relayOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converta_relay_outcomes_total",
			Help: "Relay cycles by channel, final state and whether the reply was a fallback.",
		},
		[]string{"channel", "state", "fallback"},
	)
	completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "converta_completion_duration_seconds",
			Help:    "Latency of chat completion calls including the retry.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"outcome"},
	)
	deliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converta_delivery_failures_total",
			Help: "Outbound replies that could not be delivered.",
		},
		[]string{"provider"},
	)
	inboundDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converta_inbound_dropped_total",
			Help: "Inbound webhook messages dropped before the relay.",
		},
		[]string{"provider", "reason"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converta_http_requests_total",
			Help: "Total count of HTTP requests received.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "converta_http_request_duration_seconds",
			Help:    "Histogram of request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	statusStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "converta_status_streams",
			Help: "Open connection status websocket streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(relayOutcomes, completionDuration, deliveryFailures,
		inboundDropped, httpRequests, httpDuration, statusStreams)
}

// MetricsHandler exposes the default registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func ObserveRelay(channel, state string, fallback bool) {
	f := "false"
	if fallback {
		f = "true"
	}
	relayOutcomes.WithLabelValues(channel, state, f).Inc()
}

func ObserveDeliveryFailure(provider string) {
	deliveryFailures.WithLabelValues(provider).Inc()
}

func ObserveInboundDropped(provider, reason string) {
	inboundDropped.WithLabelValues(provider, reason).Inc()
}

func ObserveHTTP(method, route, status string, seconds float64) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}

func StatusStreamOpened() { statusStreams.Inc() }
func StatusStreamClosed() { statusStreams.Dec() }

func observeCompletion(outcome string, seconds float64) {
	completionDuration.WithLabelValues(outcome).Observe(seconds)
}

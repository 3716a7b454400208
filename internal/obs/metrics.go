package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DurationMillis converts a duration to fractional milliseconds.
func DurationMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

var (
	domainOnce sync.Once

	// PaymentSubmitTotal counts order submissions to the aggregator by outcome.
	PaymentSubmitTotal *prometheus.CounterVec
	// CallbackTotal counts inbound payment callbacks by external status and outcome.
	CallbackTotal *prometheus.CounterVec
	// RefundTotal counts refund submissions by outcome.
	RefundTotal *prometheus.CounterVec
	// TokenRequestTotal counts client-credential exchanges by outcome.
	TokenRequestTotal *prometheus.CounterVec
	// UpstreamRequestDuration records outbound request latency in milliseconds.
	UpstreamRequestDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers gateway Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_submit_total",
			Help:      "Count of payment order submissions by provider and result.",
		}, []string{"provider", "result"})
		CallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_total",
			Help:      "Count of processed payment callbacks by external status and result.",
		}, []string{"status", "result"})
		RefundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_total",
			Help:      "Count of refund submissions by result.",
		}, []string{"result"})
		TokenRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_request_total",
			Help:      "Count of access token exchanges by result.",
		}, []string{"result"})
		UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_ms",
			Help:      "Latency of outbound aggregator requests in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation", "result"})

		reg.MustRegister(
			PaymentSubmitTotal,
			CallbackTotal,
			RefundTotal,
			TokenRequestTotal,
			UpstreamRequestDuration,
		)
	})
}

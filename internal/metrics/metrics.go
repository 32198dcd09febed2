// Package metrics exposes the gateway's Prometheus registry: chat request
// counters and latency plus the payment funnel (quoted, verified, settled,
// rejected).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	PaymentsQuoted    prometheus.Counter
	PaymentsVerified  prometheus.Counter
	PaymentsSettled   prometheus.Counter
	PaymentsRejected  *prometheus.CounterVec
	RevenueBaseUnits  *prometheus.CounterVec
	RateLimitRejected prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_requests_total",
			Help: "Chat requests by model, provider, and outcome",
		}, []string{"model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatgate_request_latency_ms",
			Help:    "End-to-end chat request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"model", "provider"}),
		PaymentsQuoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_payments_quoted_total",
			Help: "Payment quotes built, across granted and rejected requests",
		}),
		PaymentsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_payments_verified_total",
			Help: "Payment proofs the facilitator verified as valid",
		}),
		PaymentsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_payments_settled_total",
			Help: "Payments settled on-chain",
		}),
		PaymentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_payments_rejected_total",
			Help: "Payment rejections by stage (proof, verify, settle)",
		}, []string{"stage"}),
		RevenueBaseUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_revenue_base_units_total",
			Help: "Settled revenue in smallest currency units",
		}, []string{"model", "network"}),
		RateLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_ratelimit_rejected_total",
			Help: "Requests rejected by the per-IP rate limiter",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency,
		m.PaymentsQuoted, m.PaymentsVerified, m.PaymentsSettled, m.PaymentsRejected,
		m.RevenueBaseUnits, m.RateLimitRejected,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

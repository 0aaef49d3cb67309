package oidcstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records store outcomes.
type Metrics interface {
	AccessCheck(outcome, reason string)
	SilentRenew(result string)
	Redirect()
	Error(source string)
}

const (
	OutcomeGranted = "granted"
	OutcomeDenied  = "denied"
)

const (
	ReasonCallback      = "callback"
	ReasonAuthenticated = "authenticated"
	ReasonPublic        = "public"
	ReasonSilentRenewed = "silent_renewed"
	ReasonSilentFailed  = "silent_failed"
	ReasonRedirect      = "redirect"
)

type noopMetrics struct{}

func (noopMetrics) AccessCheck(string, string) {}
func (noopMetrics) SilentRenew(string)         {}
func (noopMetrics) Redirect()                  {}
func (noopMetrics) Error(string)               {}

func normalizeMetrics(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// PrometheusMetrics exposes store outcomes as prometheus counters.
type PrometheusMetrics struct {
	accessChecks *prometheus.CounterVec
	silentRenews *prometheus.CounterVec
	redirects    prometheus.Counter
	errors       *prometheus.CounterVec
}

var _ Metrics = &PrometheusMetrics{}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg skips registration.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		accessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc",
			Subsystem: "store",
			Name:      "access_checks_total",
			Help:      "Access checks by outcome and reason.",
		}, []string{"outcome", "reason"}),
		silentRenews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc",
			Subsystem: "store",
			Name:      "silent_renew_total",
			Help:      "Silent renewal attempts by result.",
		}, []string{"result"}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oidc",
			Subsystem: "store",
			Name:      "signin_redirects_total",
			Help:      "Interactive sign in redirects started.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Errors recorded by the store, by source operation.",
		}, []string{"source"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.accessChecks, m.silentRenews, m.redirects, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) AccessCheck(outcome, reason string) {
	m.accessChecks.WithLabelValues(outcome, reason).Inc()
}

func (m *PrometheusMetrics) SilentRenew(result string) {
	m.silentRenews.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) Redirect() {
	m.redirects.Inc()
}

func (m *PrometheusMetrics) Error(source string) {
	m.errors.WithLabelValues(source).Inc()
}

// Package metrics counts login lifecycle events for prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fastid"

// Label values
const (
	TargetProvider = "provider"
	TargetHome     = "home"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics owns a registry with the login lifecycle counters
type Metrics struct {
	registry *prometheus.Registry

	LoginRedirects *prometheus.CounterVec
	Callbacks      *prometheus.CounterVec
	Logouts        prometheus.Counter
	ProfileViews   *prometheus.CounterVec
}

// New creates the counters on a fresh registry, together with the
// standard go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LoginRedirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_redirects_total",
			Help:      "Redirects issued by /login, by target.",
		}, []string{"target"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Provider callbacks handled, by result.",
		}, []string{"result"}),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Sessions cleared by /logout.",
		}),
		ProfileViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_views_total",
			Help:      "Requests to /profile, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LoginRedirects,
		m.Callbacks,
		m.Logouts,
		m.ProfileViews,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The recorders below are safe to call on a nil *Metrics

func (m *Metrics) LoginRedirect(target string) {
	if m != nil {
		m.LoginRedirects.WithLabelValues(target).Inc()
	}
}

func (m *Metrics) Callback(result string) {
	if m != nil {
		m.Callbacks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Logout() {
	if m != nil {
		m.Logouts.Inc()
	}
}

func (m *Metrics) ProfileView(result string) {
	if m != nil {
		m.ProfileViews.WithLabelValues(result).Inc()
	}
}

// Package metrics holds the Prometheus collectors shared by the hub and the
// sync CLI. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	launches    *prometheus.CounterVec
	jwksFetches *prometheus.CounterVec
	gradePosts  *prometheus.CounterVec
	courses     *prometheus.CounterVec
	provisions  *prometheus.CounterVec
	syncSeconds prometheus.Histogram
}

// New creates the collectors and registers them on reg (the default
// registerer when reg is nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lti_launches_total",
			Help: "LTI launches by protocol version and result",
		}, []string{"version", "result"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lti_jwks_fetches_total",
			Help: "Platform JWKS fetches by result",
		}, []string{"result"}),
		gradePosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lti_grade_posts_total",
			Help: "AGS score submissions by result",
		}, []string{"result"}),
		courses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubsync_courses_total",
			Help: "Courses seen by the reconciliation engine by outcome",
		}, []string{"result"}),
		provisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hubsync_provision_total",
			Help: "OS provisioning calls by kind and result",
		}, []string{"kind", "result"}),
		syncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hubsync_run_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
	reg.MustRegister(m.launches, m.jwksFetches, m.gradePosts, m.courses, m.provisions, m.syncSeconds)
	return m
}

func (m *Metrics) Launch(version, result string) {
	if m != nil {
		m.launches.WithLabelValues(version, result).Inc()
	}
}

func (m *Metrics) JWKSFetch(result string) {
	if m != nil {
		m.jwksFetches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) GradePost(result string) {
	if m != nil {
		m.gradePosts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Course(result string) {
	if m != nil {
		m.courses.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Provision(kind, result string) {
	if m != nil {
		m.provisions.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) SyncDuration(seconds float64) {
	if m != nil {
		m.syncSeconds.Observe(seconds)
	}
}

// Handler exposes the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the "ok"/"error" label used across collectors.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

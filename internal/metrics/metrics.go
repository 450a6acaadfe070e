// Package metrics holds the Prometheus instruments for referral pricing, enrollment and worker jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Enrollment outcomes.
const (
	EnrollmentRecorded = "recorded"
	EnrollmentReplayed = "replayed"
	EnrollmentMismatch = "amount_mismatch"
	EnrollmentFailed   = "failed"
)

// Metrics exposes application-level instruments. A nil *Metrics is a no-op.
type Metrics struct {
	referralValidations *prometheus.CounterVec
	enrollments         *prometheus.CounterVec
	jobs                *prometheus.CounterVec
}

// New registers the instruments on registerer (prometheus.DefaultRegisterer when nil).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		referralValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursehub_referral_validations_total",
			Help: "Referral code validations by discount source and outcome.",
		}, []string{"source", "outcome"}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursehub_enrollments_total",
			Help: "Enrollment recording attempts by outcome.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursehub_worker_jobs_total",
			Help: "Background jobs processed by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	registerer.MustRegister(m.referralValidations, m.enrollments, m.jobs)
	return m
}

// ObserveReferral counts one referral validation.
func (m *Metrics) ObserveReferral(source, outcome string) {
	if m == nil {
		return
	}
	m.referralValidations.WithLabelValues(source, outcome).Inc()
}

// ObserveEnrollment counts one enrollment recording attempt.
func (m *Metrics) ObserveEnrollment(outcome string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(outcome).Inc()
}

// ObserveJob counts one processed worker job.
func (m *Metrics) ObserveJob(jobType, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, outcome).Inc()
}

// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition outcomes.
const (
	OutcomeApproved         = "approved"
	OutcomeRejected         = "rejected"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeFailed           = "failed"
)

// Side-effect kinds.
const (
	SideEffectScheduleDeactivation = "schedule_deactivation"
	SideEffectNotification         = "notification"
)

type metrics struct {
	incidentTransitions *prometheus.CounterVec
	sideEffectFailures  *prometheus.CounterVec
	caseStatusChanges   *prometheus.CounterVec
	incidentsSubmitted  *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		incidentTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "incident_transitions_total",
			Help:      "Approval and rejection attempts by outcome.",
		}, []string{"outcome"}),
		sideEffectFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effects that failed after a committed transition.",
		}, []string{"kind"}),
		caseStatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "case_status_changes_total",
			Help:      "Case lifecycle status changes by target status.",
		}, []string{"to"}),
		incidentsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseline",
			Name:      "incidents_submitted_total",
			Help:      "Submitted incidents by type and severity.",
		}, []string{"type", "severity"}),
	}
})

func get() *metrics {
	return metricsSingleton()
}

func IncidentTransition(outcome string) {
	get().incidentTransitions.WithLabelValues(outcome).Inc()
}

func SideEffectFailure(kind string) {
	get().sideEffectFailures.WithLabelValues(kind).Inc()
}

func CaseStatusChange(to string) {
	get().caseStatusChanges.WithLabelValues(to).Inc()
}

func IncidentSubmitted(incidentType, severity string) {
	get().incidentsSubmitted.WithLabelValues(incidentType, severity).Inc()
}

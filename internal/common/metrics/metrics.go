// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WizardAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_advances_total",
			Help: "Total number of wizard advance attempts by step and outcome",
		},
		[]string{"route", "status"},
	)

	WizardRetreats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_retreats_total",
			Help: "Total number of wizard back navigations by step",
		},
		[]string{"route"},
	)

	AddressVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "address_verifications_total",
			Help: "Total number of address deliverability checks by result",
		},
		[]string{"result"},
	)

	LetterSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letter_submissions_total",
			Help: "Total number of letter submission attempts by status",
		},
		[]string{"status"},
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "letter_submission_duration_seconds",
			Help: "Duration of letter submission calls in seconds",
		},
		[]string{"status"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wizard_active_sessions",
			Help: "Number of wizard sessions currently persisted",
		},
	)
)

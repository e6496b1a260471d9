// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FaceComparisons counts individual probe-vs-reference calls to the
	// face service, including failed ones.
	FaceComparisons = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gymkiosk_face_comparisons_total",
		Help: "Face verification comparisons performed during identity scans.",
	})

	// Resolutions counts identity scans by outcome (match, no_match).
	Resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gymkiosk_identity_resolutions_total",
		Help: "Identity resolution scans by outcome.",
	}, []string{"outcome"})

	// NotificationFailures counts emails that could not be sent.
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gymkiosk_notification_failures_total",
		Help: "Member notification emails that failed to send.",
	})
)

func init() {
	prometheus.MustRegister(FaceComparisons, Resolutions, NotificationFailures)
}

// Package metrics contains all application-logic metrics
package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	notificationsReceived = metrics.NewCounter("pending_notifications_total")
	notificationsDropped  = metrics.NewCounter("pending_notifications_rate_limited_total")
	victimReappeared      = metrics.NewCounter("victim_reappeared_total")
	subscriptionRestarts  = metrics.NewCounter("pending_subscription_restarts_total")
	sessionsStarted       = metrics.NewCounter("sessions_started_total")
	sessionsCompleted     = metrics.NewCounter("sessions_completed_total")
	sessionsFailed        = metrics.NewCounter("sessions_failed_total")
	sessionPanics         = metrics.NewCounter("session_panics_total")
	cancellationsSent     = metrics.NewCounter("cancellations_sent_total")
	decodeErrors          = metrics.NewCounter("decode_errors_total")
	broadcastFailures     = metrics.NewCounter("broadcast_failures_total")
)

const (
	rejectsLabel         = `candidates_rejected_total{reason="%s"}`
	submitDurationLabel  = `leg_submit_duration_milliseconds{leg="%s"}`
	solverDurationLabel  = `solver_duration_milliseconds`
	sessionDurationLabel = `session_duration_milliseconds{result="%s"}`
)

func IncNotificationsReceived() {
	notificationsReceived.Inc()
}

func IncNotificationsDropped() {
	notificationsDropped.Inc()
}

func IncVictimReappeared() {
	victimReappeared.Inc()
}

func IncSubscriptionRestarts() {
	subscriptionRestarts.Inc()
}

func IncCandidateRejected(reason string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(rejectsLabel, reason)).Inc()
}

func IncSessionsStarted() {
	sessionsStarted.Inc()
}

func IncSessionsCompleted() {
	sessionsCompleted.Inc()
}

func IncSessionsFailed() {
	sessionsFailed.Inc()
}

func IncSessionPanics() {
	sessionPanics.Inc()
}

func IncCancellationsSent() {
	cancellationsSent.Inc()
}

func IncDecodeErrors() {
	decodeErrors.Inc()
}

func IncBroadcastFailures() {
	broadcastFailures.Inc()
}

func RecordSubmitDuration(leg string, duration int64) {
	metrics.GetOrCreateSummary(fmt.Sprintf(submitDurationLabel, leg)).Update(float64(duration))
}

func RecordSolverDuration(duration int64) {
	metrics.GetOrCreateSummary(solverDurationLabel).Update(float64(duration))
}

func RecordSessionDuration(result string, duration int64) {
	metrics.GetOrCreateSummary(fmt.Sprintf(sessionDurationLabel, result)).Update(float64(duration))
}

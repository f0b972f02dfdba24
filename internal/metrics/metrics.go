package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session controller
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicecall_session_transitions_total",
		Help: "Session state transitions by source and target state.",
	}, []string{"from", "to"})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecall_reconnect_attempts_total",
		Help: "Rejoin attempts made while reconnecting.",
	})
	StaleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicecall_stale_events_total",
		Help: "Transport events and timer firings discarded as stale.",
	}, []string{"source"})
	RemoteParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicecall_remote_participants",
		Help: "Remote participants present in the current session.",
	})
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecall_heartbeats_total",
		Help: "Keep-alive ticks executed.",
	})

	// Notifier
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicecall_notifications_total",
		Help: "One-shot notifications published to observers.",
	}, []string{"kind"})
	DroppedObservers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicecall_observers_dropped_total",
		Help: "Observers dropped for not keeping up.",
	})

	// Adapters
	CredentialRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicecall_credential_requests_total",
		Help: "Credential backend requests by outcome.",
	}, []string{"outcome"})
	IncomingTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicecall_incoming_triggers_total",
		Help: "Incoming-session triggers received by source.",
	}, []string{"source"})
)

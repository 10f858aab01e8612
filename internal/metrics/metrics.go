// Package metrics exposes the core's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundTotal counts webhook messages by outcome.
	// Labels: outcome (processed, duplicate, channel_disabled, error)
	InboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amparo",
			Subsystem: "intake",
			Name:      "inbound_total",
			Help:      "Inbound webhook messages by outcome",
		},
		[]string{"outcome"},
	)

	// NotificationsTotal counts per-recipient delivery attempts.
	// Labels: kind (push, sms), result (sent, failed)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amparo",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Per-recipient notification attempts",
		},
		[]string{"kind", "result"},
	)

	// AutoMessagesTotal counts re-engagement sends.
	AutoMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amparo",
			Subsystem: "reengage",
			Name:      "auto_messages_total",
			Help:      "Re-engagement messages sent",
		},
	)

	// DeletionsTotal counts hard-deleted conversations.
	// Labels: path (filter_failed, retention, survey)
	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amparo",
			Subsystem: "retention",
			Name:      "deletions_total",
			Help:      "Hard-deleted conversations by deletion path",
		},
		[]string{"path"},
	)

	// ClaimConflictsTotal counts lost claim races.
	ClaimConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amparo",
			Subsystem: "router",
			Name:      "claim_conflicts_total",
			Help:      "Claim attempts lost to another volunteer",
		},
	)
)

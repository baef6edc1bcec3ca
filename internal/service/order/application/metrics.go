package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 迟到/重复触发在异步系统里是常态，必须可观测而不是只留一行日志。
var (
	staleTriggersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beer_order_stale_triggers_total",
		Help: "Triggers dropped because the referenced order does not exist.",
	}, []string{"operation"})

	rejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beer_order_rejected_transitions_total",
		Help: "Events rejected by the state machine for the current status.",
	}, []string{"event"})

	reconcileTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beer_order_reconcile_timeouts_total",
		Help: "Status reconciliation attempts that exhausted their retry budget.",
	})
)

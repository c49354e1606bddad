// ABOUTME: Prometheus counters for turn starts and failures per bot

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_turns_started_total",
		Help: "Turns started, by bot.",
	}, []string{"bot"})

	turnsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_turns_failed_total",
		Help: "Turns that ended in an error, by bot.",
	}, []string{"bot"})
)

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UsedPercent tracks the latest used percentage per rate window
	UsedPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotabar_used_percent",
			Help: "Latest used percentage for a provider rate window",
		},
		[]string{"provider", "window"},
	)

	// FetchAttemptsTotal counts strategy attempts by outcome
	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotabar_fetch_attempts_total",
			Help: "Total number of strategy fetch attempts",
		},
		[]string{"provider", "strategy", "outcome"},
	)

	// RefreshGateBlocked reports whether the refresh gate is terminally blocked
	RefreshGateBlocked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotabar_refresh_gate_blocked",
			Help: "1 when the provider's refresh gate is terminally blocked",
		},
		[]string{"provider"},
	)

	// LastSuccessTimestamp tracks when a provider last produced a snapshot
	LastSuccessTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotabar_last_success_timestamp_seconds",
			Help: "Unix time of the last successful usage fetch",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(UsedPercent)
	prometheus.MustRegister(FetchAttemptsTotal)
	prometheus.MustRegister(RefreshGateBlocked)
	prometheus.MustRegister(LastSuccessTimestamp)
}

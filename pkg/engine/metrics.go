package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are package-level so several engines (one per active chat)
// share them, distinguished by the chat label.
var (
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_feed_events_total",
		Help: "Change feed events received, by outcome.",
	}, []string{"chat", "outcome"}) // accepted | foreign | invalid

	metricHydrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_hydrations_total",
		Help: "Fetch-by-id hydrations, by outcome.",
	}, []string{"chat", "outcome"}) // ok | error

	metricPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_page_loads_total",
		Help: "History page fetches, by outcome.",
	}, []string{"chat", "outcome"}) // ok | error | coalesced | exhausted

	metricMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_optimistic_mutations_total",
		Help: "Optimistic mutations, by op and outcome.",
	}, []string{"chat", "op", "outcome"}) // confirmed | rolled_back

	metricInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_window_invalidations_total",
		Help: "Forced re-fetches of the visible window.",
	}, []string{"chat"})

	metricStoreSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatsync_timeline_records",
		Help: "Records currently in the canonical store.",
	}, []string{"chat"})
)

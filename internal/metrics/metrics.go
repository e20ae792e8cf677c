// Package metrics exposes the prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tutorchat",
		Name:      "messages_appended_total",
		Help:      "Messages persisted, by payload kind.",
	}, []string{"kind"})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tutorchat",
		Name:      "send_failures_total",
		Help:      "Sends whose persistence failed after the local echo.",
	})

	StreamEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tutorchat",
		Name:      "stream_events_dropped_total",
		Help:      "Change-stream events dropped because they could not be decoded.",
	})

	OpenConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tutorchat",
		Name:      "open_conversations",
		Help:      "Conversations with a live subscription.",
	})

	VotesCast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tutorchat",
		Name:      "votes_cast_total",
		Help:      "Votes applied, by outcome.",
	}, []string{"outcome"})

	CounterRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tutorchat",
		Name:      "vote_counter_repairs_total",
		Help:      "Tutor counters found out of sync with vote rows and rewritten.",
	})

	DirectoryCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tutorchat",
		Name:      "contact_directory_cache_total",
		Help:      "Contact directory lookups by cache result.",
	}, []string{"result"})
)

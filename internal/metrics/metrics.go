package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urbanrisk_assessments_total",
			Help: "Total risk assessments by domain and resulting level",
		},
		[]string{"domain", "level"},
	)

	SimulationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urbanrisk_simulations_total",
			Help: "Total scenario simulations",
		},
		[]string{"status"},
	)

	EngineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "urbanrisk_engine_latency_seconds",
			Help:    "Risk engine operation latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation"},
	)

	CascadeRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "urbanrisk_cascade_rounds",
			Help:    "Propagation rounds used per simulation",
			Buckets: prometheus.LinearBuckets(1, 1, 16),
		},
	)

	FeedFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urbanrisk_feed_fetch_total",
			Help: "Total feed fetch attempts",
		},
		[]string{"source", "status"},
	)

	SnapshotsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urbanrisk_snapshots_ingested_total",
			Help: "Total indicator snapshots successfully stored",
		},
		[]string{"source"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "urbanrisk_stream_clients",
			Help: "Connected prediction stream clients",
		},
	)
)

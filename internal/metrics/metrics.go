package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess      = "success"
	OutcomeConnectivity = "connectivity_error"
	OutcomeRetrieval    = "retrieval_error"
	OutcomeScoring      = "scoring_error"
	OutcomeSink         = "sink_error"
	CacheHit            = "hit"
	CacheMiss           = "miss"
	CacheError          = "error"
)

var (
	ScanRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anomaly_scan_runs_total",
		Help: "Scan runs by outcome",
	}, []string{"outcome"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anomaly_scan_duration_seconds",
		Help:    "Wall time of a full scan run",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	TransactionsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anomaly_scan_transactions_total",
		Help: "Transactions extracted into feature tables",
	})

	LastAnomalyCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anomaly_scan_last_anomalies",
		Help: "Anomalies flagged by the most recent successful run",
	})

	LastHeadBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anomaly_scan_last_head_block",
		Help: "Chain head observed by the most recent run",
	})

	BlocksFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anomaly_scan_blocks_fetched_total",
		Help: "Blocks retrieved from the block source",
	})

	BlockCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anomaly_block_cache_lookups_total",
		Help: "Block cache lookups by result",
	}, []string{"result"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide indexer fleet metrics, exported on /metrics.

var (
	BlocksIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_blocks_indexed_total",
		Help: "Blocks advanced past by each indexer worker.",
	}, []string{"worker"})

	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_events_ingested_total",
		Help: "Event rows inserted, by worker (duplicates excluded).",
	}, []string{"worker"})

	RPCRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_rpc_retries_total",
		Help: "Transient RPC failures that triggered a retry.",
	})

	IndexerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_indexer_errors_total",
		Help: "Batches that ended in an error status, by worker.",
	}, []string{"worker"})

	DepositMatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_deposit_matches_total",
		Help: "Transfers matched to deposit requests.",
	})

	CheckpointBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telemetry_checkpoint_block",
		Help: "Last indexed block per worker.",
	}, []string{"worker"})

	ActiveExpeditions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_active_expeditions",
		Help: "Expeditions currently running on the hunt contract, when supported.",
	})
)

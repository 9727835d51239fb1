// Package metrics exposes the in-process gauges and counters the reconciler
// loops update every tick (SPEC_FULL.md §2.17), grounded on
// datasync/chaindatafetcher/chaindata_fetcher.go use of
// github.com/rcrowley/go-metrics (getTimeGauge/getRetryGauge, checkpointGauge
// updates). There is no HTTP exporter: publishing these to a dashboard is out
// of scope (SPEC_FULL.md Non-goals).
package metrics

import "github.com/rcrowley/go-metrics"

var (
	QueuedGauge      = metrics.NewRegisteredGauge("relayer/deposits/queued", nil)
	InitializedGauge = metrics.NewRegisteredGauge("relayer/deposits/initialized", nil)
	FinalizedGauge   = metrics.NewRegisteredGauge("relayer/deposits/finalized", nil)

	InitializeErrorCounter = metrics.NewRegisteredCounter("relayer/errors/initialize", nil)
	FinalizeErrorCounter   = metrics.NewRegisteredCounter("relayer/errors/finalize", nil)
	BackfillErrorCounter   = metrics.NewRegisteredCounter("relayer/errors/backfill", nil)

	InitializeLatencyGauge = metrics.NewRegisteredGauge("relayer/latency/initialize_ms", nil)
	FinalizeLatencyGauge   = metrics.NewRegisteredGauge("relayer/latency/finalize_ms", nil)
)

// UpdateQueueDepths records how many records sit in each status as of the
// current tick, mirroring checkpointGauge.Update in chaindata_fetcher.go.
func UpdateQueueDepths(queued, initialized, finalized int) {
	QueuedGauge.Update(int64(queued))
	InitializedGauge.Update(int64(initialized))
	FinalizedGauge.Update(int64(finalized))
}

// Package metrics defines the Prometheus collectors exported by fieldsync.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for fieldsync metrics.
const (
	OutboxEntriesTotalKey      = "fieldsync_outbox_entries_total"
	OutboxPendingKey           = "fieldsync_outbox_pending"
	DrainPassesTotalKey        = "fieldsync_drain_passes_total"
	DrainDurationSecondsKey    = "fieldsync_drain_duration_seconds"
	FeedChangesTotalKey        = "fieldsync_feed_changes_total"
	FeedErrorsTotalKey         = "fieldsync_feed_errors_total"
	StoreReopensTotalKey       = "fieldsync_store_reopens_total"
	RemoteRequestsTotalKey     = "fieldsync_remote_requests_total"
	AuthorityDocumentsTotalKey = "fieldsync_authority_documents_total"

	Fail    = "fail"
	Ok      = "ok"
	Skipped = "skipped"

	Applied = "applied"
	Echo    = "echo"
)

// Collectors for fieldsync metrics.
var (
	OutboxEntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: OutboxEntriesTotalKey,
		Help: "Cumulative number of outbox entries replayed against the remote authority.",
	}, []string{"op", "status"})
	OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: OutboxPendingKey,
		Help: "Number of outbox entries left after the latest drain pass.",
	})
	DrainPassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: DrainPassesTotalKey,
		Help: "Cumulative number of drain passes.",
	}, []string{"status"})
	DrainDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: DrainDurationSecondsKey,
		Help: "Duration of drain passes that read the outbox.",
	})
	FeedChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: FeedChangesTotalKey,
		Help: "Cumulative number of remote changes received by the listener.",
	}, []string{"type", "action"})
	FeedErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: FeedErrorsTotalKey,
		Help: "Cumulative number of change feed failures.",
	})
	StoreReopensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: StoreReopensTotalKey,
		Help: "Cumulative number of local database reopen attempts.",
	}, []string{"status"})
	RemoteRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RemoteRequestsTotalKey,
		Help: "Cumulative number of requests made to the remote authority.",
	}, []string{"operation", "status"})
	AuthorityDocumentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: AuthorityDocumentsTotalKey,
		Help: "Cumulative number of document operations served by the development authority.",
	}, []string{"operation", "status"})
)

// ClientCollectors lists collectors used by a fieldsync client.
func ClientCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		OutboxEntriesTotal,
		OutboxPending,
		DrainPassesTotal,
		DrainDurationSeconds,
		FeedChangesTotal,
		FeedErrorsTotal,
		StoreReopensTotal,
		RemoteRequestsTotal,
	}
}

// AuthorityCollectors lists collectors used by the development authority server.
func AuthorityCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		AuthorityDocumentsTotal,
	}
}

// Status maps an error to the Ok or Fail label value.
func Status(err error) string {
	if err != nil {
		return Fail
	}
	return Ok
}

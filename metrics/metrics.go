// Package metrics declares the partition engine's prometheus instrumentation,
// grounded on friggdb.go's promauto var block (metricBlockListPollTotal,
// metricBlocklistErrors, metricBlocklistPollDuration). Metric *emission
// formats* are a spec Non-goal; instrumenting the engine's own operations is
// not, and this follows the teacher's always-instrument convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SegmentRollovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logstream",
		Name:      "segment_rollovers_total",
		Help:      "Total number of times a partition's active segment was closed and a new one opened.",
	})

	DeduplicationRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logstream",
		Name:      "deduplication_rejected_total",
		Help:      "Total number of appended messages dropped because their id was already present in the deduplicator.",
	})

	ConsumerOffsetCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logstream",
		Name:      "consumer_offset_commits_total",
		Help:      "Total number of successful consumer offset commits.",
	}, []string{"kind"})

	ConsumerOffsetCommitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logstream",
		Name:      "consumer_offset_commit_errors_total",
		Help:      "Total number of consumer offset commits that failed.",
	}, []string{"kind"})

	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logstream",
		Name:      "append_duration_seconds",
		Help:      "Time to assign offsets and durably append a batch to a partition's active segment.",
		Buckets:   prometheus.ExponentialBuckets(.001, 2, 10),
	})
)

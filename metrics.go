// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "objectdb"

var (
	MetricLockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to establish a lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"kind"},
	)

	MetricLocksEstablished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "locks_established_total",
			Help:      "Number of locks established.",
		},
		[]string{"kind"},
	)

	MetricLocksAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "locks_aborted_total",
			Help:      "Number of lock requests abandoned before they were granted.",
		},
	)

	MetricTransactionsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_committed_total",
			Help:      "Number of transactions committed.",
		},
	)

	MetricTransactionsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_aborted_total",
			Help:      "Number of transactions aborted.",
		},
	)

	MetricCommitVetoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commit_vetoes_total",
			Help:      "Number of commits refused, by failure code.",
		},
		[]string{"code"},
	)

	MetricCommitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "commit_seconds",
			Help:      "Time taken by successful commits, lock wait included.",
		},
	)

	MetricNamespaceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "namespace_conflicts_total",
			Help:      "Number of values refused because another field held them.",
		},
	)

	MetricPermRecomputes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "permission_recomputes_total",
			Help:      "Number of times a session rebuilt its permission matrices.",
		},
	)

	MetricSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "Number of open sessions.",
		},
	)

	MetricTaskWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "task_workers",
			Help:      "Number of live maintenance task workers.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MetricLockWaitSeconds,
		MetricLocksEstablished,
		MetricLocksAborted,
		MetricTransactionsCommitted,
		MetricTransactionsAborted,
		MetricCommitVetoes,
		MetricCommitSeconds,
		MetricNamespaceConflicts,
		MetricPermRecomputes,
		MetricSessions,
		MetricTaskWorkers,
	)
}

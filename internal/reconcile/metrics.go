package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealsync_reconcile_push_total",
		Help: "Push messages handled by the reconciler, by event and result",
	}, []string{"event", "result"})

	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealsync_reconcile_sync_runs_total",
		Help: "Pull-sync passes by result",
	}, []string{"result"})

	syncEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mealsync_reconcile_sync_entries_total",
		Help: "Pull-sync entries by result",
	}, []string{"result"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mealsync_reconcile_sync_duration_seconds",
		Help:    "Duration of pull-sync passes",
		Buckets: prometheus.DefBuckets,
	})
)

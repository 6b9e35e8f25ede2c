package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jobsync"

var (
	once sync.Once

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Replay passes by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of replay passes.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	replayedActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_actions_total",
			Help:      "Replayed pending actions by type and result.",
		},
		[]string{"action_type", "result"},
	)

	pendingActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_actions",
			Help:      "Actions waiting in the offline queue.",
		},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the remote API is reachable.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncPasses, syncDuration, replayedActions, pendingActions, online)
	})
}

func ObserveSyncPass(trigger, outcome string, seconds float64) {
	syncPasses.WithLabelValues(trigger, outcome).Inc()
	syncDuration.Observe(seconds)
}

func IncReplayed(actionType, result string) {
	replayedActions.WithLabelValues(actionType, result).Inc()
}

func SetPending(n int) {
	pendingActions.Set(float64(n))
}

func SetOnline(isOnline bool) {
	if isOnline {
		online.Set(1)
		return
	}
	online.Set(0)
}

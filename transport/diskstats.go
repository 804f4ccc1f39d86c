// Optional host-level disk iostat sampling, feeding the same Prometheus
// registry as the connection's own byte counters. Purely additive
// diagnostics (SPEC_FULL.md §2/§11): no invariant depends on it, and a
// sampling failure never affects a connection's state.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"time"

	"github.com/lufia/iostat"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nxconn/nxconn/cmn/nlog"
	"github.com/nxconn/nxconn/hk"
)

var diskReadBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "nxconn",
	Subsystem: "host",
	Name:      "disk_read_bytes_total",
	Help:      "Cumulative bytes read per block device, sampled periodically.",
}, []string{"device"})

var diskWriteBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "nxconn",
	Subsystem: "host",
	Name:      "disk_write_bytes_total",
	Help:      "Cumulative bytes written per block device, sampled periodically.",
}, []string{"device"})

var diskStatsRegisterOnce bool

// StartDiskStatsSampler registers a periodic hk task that samples
// per-device disk throughput via lufia/iostat. Nothing in this module
// calls it, cmd/parcelsrv included; an embedding process that wants
// host-level diagnostics alongside connection-level metrics calls it
// itself.
func StartDiskStatsSampler(period time.Duration) {
	if !diskStatsRegisterOnce {
		prometheus.MustRegister(diskReadBytes, diskWriteBytes)
		diskStatsRegisterOnce = true
	}
	hk.Reg("disk-iostat-sampler", func() time.Duration {
		sampleDiskStats()
		return period
	}, period)
}

func sampleDiskStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	drives, err := iostat.ReadDriveStats(ctx)
	if err != nil {
		nlog.Warningf("iostat sample failed: %v", err)
		return
	}
	for _, d := range drives {
		diskReadBytes.WithLabelValues(d.Name).Set(float64(d.BytesRead))
		diskWriteBytes.WithLabelValues(d.Name).Set(float64(d.BytesWritten))
	}
}

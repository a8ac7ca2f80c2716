// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics holds caronte's Prometheus instrumentation, mirroring
// the shape of the teacher's internal/ebpf/metrics package: one struct
// of pre-built collectors, registered once at startup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector caronte exposes.
type Metrics struct {
	PacketsProcessed prometheus.Counter
	PacketsInvalid   prometheus.Counter
	BytesProcessed   *prometheus.CounterVec // label: side (client|server)

	ScanLatency    prometheus.Histogram
	ScanMatches    prometheus.Counter
	RuleDBVersion  prometheus.Gauge
	RescanQueueLen prometheus.Gauge
	RescanFailures prometheus.Counter

	ConnectionsFinalized prometheus.Counter
	PcapSessionsActive   prometheus.Gauge
}

// New builds a Metrics with every collector constructed but not yet
// registered; call Register to attach it to a prometheus.Registerer.
func New() *Metrics {
	return &Metrics{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caronte_packets_processed_total",
			Help: "Total number of TCP packets handed to the assembler.",
		}),
		PacketsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caronte_packets_invalid_total",
			Help: "Total number of packets that failed to parse as TCP/IP.",
		}),
		BytesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caronte_bytes_processed_total",
			Help: "Total reassembled bytes, by flow side.",
		}, []string{"side"}),

		ScanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caronte_scan_latency_seconds",
			Help:    "Latency of one Pattern Scanner Scan call.",
			Buckets: prometheus.DefBuckets,
		}),
		ScanMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caronte_scan_matches_total",
			Help: "Total number of rule matches found across all scans.",
		}),
		RuleDBVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caronte_rule_database_version",
			Help: "Version of the currently active compiled rule database.",
		}),
		RescanQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caronte_rescan_queue_length",
			Help: "Number of pending rescan tasks.",
		}),
		RescanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caronte_rescan_failures_total",
			Help: "Total number of rescan tasks that failed.",
		}),

		ConnectionsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caronte_connections_finalized_total",
			Help: "Total number of connections written by the Finalizer.",
		}),
		PcapSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caronte_pcap_sessions_active",
			Help: "Number of PCAP sessions currently being processed.",
		}),
	}
}

// Register attaches every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.PacketsProcessed, m.PacketsInvalid, m.BytesProcessed,
		m.ScanLatency, m.ScanMatches, m.RuleDBVersion,
		m.RescanQueueLen, m.RescanFailures,
		m.ConnectionsFinalized, m.PcapSessionsActive,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Package metrics exposes the Prometheus registry and counters/gauges shared
// by cmd/tap, cmd/fgw and cmd/sgw, grounded on the teacher's
// pkg/metrics/metrics.go (singleton registry behind sync.Once, package-level
// vars for each instrument, RecordX/ObserveX helper functions).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
	enabled      = true

	// Tap orchestrator metrics.
	TapActiveSessions   prometheus.Gauge
	TapStartsTotal      *prometheus.CounterVec
	TapCleanupsTotal    *prometheus.CounterVec
	TapBridgeCreateTime *prometheus.HistogramVec

	// Framed gateway metrics.
	FgwActiveSessions  prometheus.Gauge
	FgwPortsInUse      prometheus.Gauge
	FgwFramesSent      *prometheus.CounterVec
	FgwRTPDropped      *prometheus.CounterVec
	FgwTCPReconnects   prometheus.Counter
	FgwRTCPReportsSent prometheus.Counter

	// Streaming gateway metrics.
	SgwActiveSessions    prometheus.Gauge
	SgwSessionsDropped   prometheus.Counter
	SgwReconnectsTotal   *prometheus.CounterVec
	SgwTranscriptsTotal  *prometheus.CounterVec
	SgwAssistantRequests *prometheus.CounterVec
	SgwRTCPReportsSent   *prometheus.CounterVec
)

// Init builds and registers every instrument exactly once.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		TapActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tap_active_sessions", Help: "Number of TapSessions currently tracked.",
		})
		TapStartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tap_starts_total", Help: "Total /start_tap requests by outcome.",
		}, []string{"backend", "outcome"})
		TapCleanupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tap_cleanups_total", Help: "Total cleanupSession invocations by reason.",
		}, []string{"reason"})
		TapBridgeCreateTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "tap_bridge_create_seconds", Help: "Latency of mixing bridge creation.",
		}, []string{"direction"})

		FgwActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fgw_active_sessions", Help: "Number of FgwSessions currently bound.",
		})
		FgwPortsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fgw_ports_in_use", Help: "Number of allocated RTP ports.",
		})
		FgwFramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgw_frames_sent_total", Help: "Total framed-TCP messages sent by type.",
		}, []string{"type"})
		FgwRTPDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgw_rtp_dropped_total", Help: "Total RTP datagrams dropped by reason.",
		}, []string{"reason"})
		FgwTCPReconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fgw_tcp_connect_total", Help: "Total downstream TCP connect attempts.",
		})
		FgwRTCPReportsSent = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fgw_rtcp_reports_sent_total", Help: "Total RTCP receiver reports sent back toward the snoop source.",
		})

		SgwActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sgw_active_sessions", Help: "Number of SgwSessions currently tracked.",
		})
		SgwSessionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sgw_sessions_dropped_total", Help: "Total new SSRCs dropped due to the admission cap.",
		})
		SgwReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgw_upstream_reconnects_total", Help: "Total upstream reconnect attempts by session.",
		}, []string{"direction"})
		SgwTranscriptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgw_transcripts_total", Help: "Total transcript events published by finality.",
		}, []string{"is_final"})
		SgwAssistantRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgw_assistant_requests_total", Help: "Total generative-assistant POSTs by outcome.",
		}, []string{"outcome"})
		SgwRTCPReportsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgw_rtcp_reports_sent_total", Help: "Total RTCP receiver reports sent back toward the snoop source, by direction.",
		}, []string{"direction"})

		collectors := []prometheus.Collector{
			TapActiveSessions, TapStartsTotal, TapCleanupsTotal, TapBridgeCreateTime,
			FgwActiveSessions, FgwPortsInUse, FgwFramesSent, FgwRTPDropped, FgwTCPReconnects, FgwRTCPReportsSent,
			SgwActiveSessions, SgwSessionsDropped, SgwReconnectsTotal, SgwTranscriptsTotal, SgwAssistantRequests, SgwRTCPReportsSent,
		}
		for _, c := range collectors {
			if err := registry.Register(c); err != nil {
				logger.WithError(err).Warn("failed to register metric collector")
			}
		}
	})
}

// GetRegistry returns the shared Prometheus registry, or nil if Init has not
// been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Enabled reports whether metric recording is currently turned on.
func Enabled() bool {
	return enabled
}

// SetEnabled toggles metric recording at runtime (used by tests).
func SetEnabled(v bool) {
	enabled = v
}

// ObserveDuration returns a func that, when called, records the elapsed
// time since now into hist with the given label values.
func ObserveDuration(hist *prometheus.HistogramVec, labels ...string) func() {
	start := time.Now()
	return func() {
		if !enabled || hist == nil {
			return
		}
		hist.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	}
}

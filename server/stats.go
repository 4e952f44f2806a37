// Live stats such as session counts and agent latency, exposed to Prometheus.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/oracle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const statsNamespace = "gateway"

var (
	statsRegistry = prometheus.NewRegistry()

	statsSessionsLiveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName(statsNamespace, "", "sessions_live_count"),
		Help: "Number of live sessions.",
	})
	statsSessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(statsNamespace, "", "sessions_total"),
		Help: "Total number of sessions accepted since the start.",
	})
	statsRejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(statsNamespace, "", "sessions_rejected_total"),
		Help: "Connection attempts rejected, by reason.",
	}, []string{"reason"})
	statsInboundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(statsNamespace, "", "incoming_messages_total"),
		Help: "Messages received from clients.",
	})
	statsOutboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(statsNamespace, "", "outgoing_messages_total"),
		Help: "Messages queued to clients, by kind.",
	}, []string{"kind"})
	statsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(statsNamespace, "", "dropped_messages_total"),
		Help: "Messages dropped because the session queue was full.",
	})
	statsOracleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(statsNamespace, "", "agent_requests_total"),
		Help: "Agent requests, by result.",
	}, []string{"result"})
	statsOracleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    prometheus.BuildFQName(statsNamespace, "", "agent_request_duration_seconds"),
		Help:    "Latency of agent requests.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
	})
)

func init() {
	start := time.Now()
	statsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(statsNamespace, "", "uptime_seconds"),
			Help: "Server uptime.",
		}, func() float64 { return time.Since(start).Seconds() }),
		statsSessionsLiveGauge,
		statsSessionsTotal,
		statsRejectsTotal,
		statsInboundTotal,
		statsOutboundTotal,
		statsDroppedTotal,
		statsOracleTotal,
		statsOracleLatency,
	)
}

// statsHandler returns the handler which serves metrics or nil if metrics are disabled.
func statsHandler(path string) http.Handler {
	if path == "" || path == "-" {
		return nil
	}

	logs.Info.Printf("stats: metrics exposed at '%s'", path)
	return promhttp.HandlerFor(statsRegistry, promhttp.HandlerOpts{})
}

func statsSessionsLive(count int) {
	statsSessionsLiveGauge.Set(float64(count))
}

func statsSessionStarted() {
	statsSessionsTotal.Inc()
}

func statsRejected(frame *closeFrame) {
	reason := "unknown"
	if frame != nil {
		reason = frame.reason
	}
	statsRejectsTotal.WithLabelValues(reason).Inc()
}

func statsInbound() {
	statsInboundTotal.Inc()
}

func statsOutbound(kind string, count int) {
	if count > 0 {
		statsOutboundTotal.WithLabelValues(kind).Add(float64(count))
	}
}

func statsDropped() {
	statsDroppedTotal.Inc()
}

func statsOracle(err error, took time.Duration) {
	var oerr *oracle.Error
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case errors.Is(err, context.Canceled):
		result = "cancelled"
	case errors.As(err, &oerr):
		result = "agent_error"
	default:
		result = "failed"
	}
	statsOracleTotal.WithLabelValues(result).Inc()
	statsOracleLatency.Observe(took.Seconds())
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of open websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Number of distinct users in the last broadcast roster",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages persisted and relayed",
	})
	RelayDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_dropped_total",
		Help: "Inbound payloads that were not relayed, by reason",
	}, []string{"reason"})
	PresenceBroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_presence_broadcasts_total",
		Help: "Total number of presence roster broadcasts",
	})
	HeartbeatEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_heartbeat_evictions_total",
		Help: "Connections terminated because no pong arrived in time",
	})
	WsWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_write_failures_total",
		Help: "Outbound payloads that could not be queued for a connection",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, OnlineUsers, WsMessagesTotal, RelayDroppedTotal,
		PresenceBroadcastsTotal, HeartbeatEvictionsTotal, WsWriteFailuresTotal,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

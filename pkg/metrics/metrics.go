package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"msg-gateway/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "messages_total",
			Help:      "Total persisted message events.",
		},
		[]string{"platform", "direction", "event"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MessageMetrics 消息事件计数，实现 MessageObserver
type MessageMetrics struct{}

// NewMessageMetrics 创建消息计数观察者
func NewMessageMetrics() *MessageMetrics {
	return &MessageMetrics{}
}

// MessageRecorded 按渠道、方向、事件计数
func (MessageMetrics) MessageRecorded(ctx context.Context, event string, message *model.Message) {
	if message == nil {
		return
	}
	messagesTotal.WithLabelValues(string(message.Platform), string(message.Direction), event).Inc()
}

// Middleware gin请求计数和耗时
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		status := c.Writer.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestDurationSeconds.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
	}
}

// Handler /metrics 接口
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

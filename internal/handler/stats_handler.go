package handler

import (
	"net/http"

	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/redis"
	"msg-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatsHandler 消息统计
type StatsHandler struct {
	stats *redis.MessageStats
}

// NewStatsHandler 创建StatsHandler实例
func NewStatsHandler(stats *redis.MessageStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// Get 返回各渠道/方向的计数
func (h *StatsHandler) Get(c *gin.Context) {
	if !h.stats.Enabled() {
		response.Error(c, http.StatusServiceUnavailable, "statistics are disabled")
		return
	}

	snapshot, err := h.stats.Snapshot(c.Request.Context())
	if err != nil {
		logger.Error("读取消息统计失败", zap.Error(err))
		response.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "stats": snapshot})
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"msg-gateway/internal/model"
	"msg-gateway/internal/repository"
	"msg-gateway/internal/service"
	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MessageHandler 出站发送和历史查询
type MessageHandler struct {
	dispatcher *service.Dispatcher
	history    *service.HistoryService
}

// NewMessageHandler 创建MessageHandler实例
func NewMessageHandler(dispatcher *service.Dispatcher, history *service.HistoryService) *MessageHandler {
	return &MessageHandler{dispatcher: dispatcher, history: history}
}

// sendRequest 发送请求，JSON或表单均可
type sendRequest struct {
	To      string `json:"to" form:"to"`
	Message string `json:"message" form:"message"`
}

// Send 返回指定渠道的发送接口
func (h *MessageHandler) Send(platform model.Platform) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r sendRequest
		if err := c.ShouldBind(&r); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}

		if err := h.dispatcher.Validate(platform, r.To, r.Message); err != nil {
			var verr *service.ValidationError
			if errors.As(err, &verr) {
				response.ValidationFailed(c, verr.Errors)
				return
			}
			response.BadRequest(c, err.Error())
			return
		}

		result := h.dispatcher.Send(c.Request.Context(), platform, r.To, r.Message)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusInternalServerError
		}
		c.JSON(status, result)
	}
}

// History 消息历史查询
// GET /api/v1/messages?platform=&direction=&limit=
func (h *MessageHandler) History(c *gin.Context) {
	query := service.HistoryQuery{
		Platform:  c.Query("platform"),
		Direction: c.Query("direction"),
		Limit:     service.ParseLimit(c.Query("limit")),
	}

	messages, err := h.history.List(c.Request.Context(), query)
	if err != nil {
		logger.Error("查询消息历史失败", zap.Error(err))
		response.InternalError(c, err)
		return
	}

	response.MessageList(c, messages)
}

// Show 单条消息
// GET /api/v1/messages/:id
func (h *MessageHandler) Show(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid message id")
		return
	}

	message, err := h.history.Get(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			response.NotFound(c, "message not found")
			return
		}
		logger.Error("查询消息失败", zap.Uint64("id", id), zap.Error(err))
		response.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

package response

import (
	"net/http"

	"msg-gateway/internal/model"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Success bool                `json:"success"`          // 是否成功
	Message string              `json:"message,omitempty"` // 响应消息
	Errors  map[string][]string `json:"errors,omitempty"`  // 字段校验错误
	Error   string              `json:"error,omitempty"`   // 错误详情
}

// Error 错误响应
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Response{
		Success: false,
		Message: message,
	})
}

// ErrorWithDetails 带错误详情的错误响应
func ErrorWithDetails(c *gin.Context, status int, message string, err error) {
	resp := Response{
		Success: false,
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(status, resp)
}

// ValidationFailed 422 参数校验失败
func ValidationFailed(c *gin.Context, errors map[string][]string) {
	c.JSON(http.StatusUnprocessableEntity, Response{
		Success: false,
		Message: "Validation failed",
		Errors:  errors,
	})
}

// BadRequest 400错误
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// Unauthorized 401错误
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

// Forbidden 403错误
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message)
}

// NotFound 404错误
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// InternalError 500错误，错误详情放在 error 字段
func InternalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// MessageListResponse 消息历史响应
type MessageListResponse struct {
	Success  bool             `json:"success"`
	Messages []*model.Message `json:"messages"`
	Count    int              `json:"count"`
}

// MessageList 返回消息列表
func MessageList(c *gin.Context, messages []*model.Message) {
	if messages == nil {
		messages = []*model.Message{}
	}
	c.JSON(http.StatusOK, MessageListResponse{
		Success:  true,
		Messages: messages,
		Count:    len(messages),
	})
}

// LoginResponse 登录响应
type LoginResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // 秒
}

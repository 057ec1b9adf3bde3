package provider

import (
	"context"
	"fmt"
)

// Sender 单个渠道的发送能力
type Sender interface {
	Send(ctx context.Context, to, body string) (*SendResult, error)
	// From 该渠道配置的发送方地址
	From() string
}

// SendResult 服务商受理结果
type SendResult struct {
	SID       string                 // 服务商消息ID
	Status    string                 // 服务商返回的状态
	From      string                 // 实际使用的发送方地址
	MessageID int64                  // Telegram message_id，其他渠道为0
	Metadata  map[string]interface{} // 附加信息（计费等）
}

// Error 服务商调用失败
type Error struct {
	Provider   string
	Code       string // 服务商错误码，可能为空
	Message    string
	StatusCode int // HTTP状态码，网络错误时为0
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s request failed", e.Provider)
}

func (e *Error) Unwrap() error {
	return e.Err
}

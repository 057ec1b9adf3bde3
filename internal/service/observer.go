package service

import (
	"context"

	"msg-gateway/internal/model"
)

// 消息事件
const (
	EventOutboundSent   = "outbound_sent"
	EventOutboundFailed = "outbound_failed"
	EventInboundMessage = "inbound_message"
	EventStatusUpdate   = "status_update"
)

// MessageObserver 消息落库后的通知对象（WebSocket推送、统计、监控）
type MessageObserver interface {
	MessageRecorded(ctx context.Context, event string, message *model.Message)
}

// Observers 按顺序通知多个观察者
type Observers []MessageObserver

func (o Observers) notify(ctx context.Context, event string, message *model.Message) {
	for _, observer := range o {
		if observer != nil {
			observer.MessageRecorded(ctx, event, message)
		}
	}
}

// MessageStore 服务层依赖的消息存储
type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
	UpdateBySID(ctx context.Context, sid string, mutate func(m *model.Message) bool) (*model.Message, error)
}

package model

import (
	"time"

	"gorm.io/datatypes"
)

// Platform 消息渠道
type Platform string

const (
	PlatformSMS       Platform = "sms"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformMessenger Platform = "messenger"
	PlatformTelegram  Platform = "telegram"
)

// Direction 消息方向
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// 消息状态
const (
	StatusPending     = "pending"
	StatusAccepted    = "accepted"
	StatusScheduled   = "scheduled"
	StatusQueued      = "queued"
	StatusSending     = "sending"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusRead        = "read"
	StatusFailed      = "failed"
	StatusUndelivered = "undelivered"
	StatusReceived    = "received"
)

// Message 统一消息记录
// Direction: inbound/outbound
// Status: pending/queued/sent/delivered/read/failed/undelivered/received
type Message struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Platform     Platform       `gorm:"type:varchar(20);not null;uniqueIndex:idx_platform_sid,priority:1;index:idx_platform_direction,priority:1;comment:渠道" json:"platform"`
	Direction    Direction      `gorm:"type:varchar(10);not null;index:idx_platform_direction,priority:2;comment:方向" json:"direction"`
	FromNumber   *string        `gorm:"type:varchar(128);comment:发送方地址" json:"from_number"`
	ToNumber     *string        `gorm:"type:varchar(128);comment:接收方地址" json:"to_number"`
	MessageBody  string         `gorm:"type:text;not null;comment:消息内容" json:"message_body"`
	MessageSID   *string        `gorm:"column:message_sid;type:varchar(128);uniqueIndex:idx_platform_sid,priority:2;comment:服务商消息ID" json:"message_sid"`
	Status       string         `gorm:"type:varchar(32);not null;default:'pending';comment:消息状态" json:"status"`
	ErrorCode    *string        `gorm:"type:varchar(64);comment:错误码" json:"error_code"`
	ErrorMessage *string        `gorm:"type:text;comment:错误信息" json:"error_message"`
	Metadata     datatypes.JSON `gorm:"comment:原始回调及附加信息" json:"metadata"`
	SentAt       *time.Time     `json:"sent_at"`
	DeliveredAt  *time.Time     `json:"delivered_at"`
	ReadAt       *time.Time     `json:"read_at"`
	CreatedAt    time.Time      `gorm:"index;comment:创建时间" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"comment:更新时间" json:"updated_at"`
}

func (Message) TableName() string { return "message" }

// IsTerminal 失败类状态不可再变更（错误信息除外）
func IsTerminal(status string) bool {
	return status == StatusFailed || status == StatusUndelivered
}

// StringPtr 空字符串返回nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

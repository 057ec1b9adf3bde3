package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"msg-gateway/internal/model"
	"msg-gateway/internal/provider"
	"msg-gateway/internal/repository"
	"msg-gateway/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// 回调处理类型
const (
	CallbackStatusUpdate   = "status_update"
	CallbackInboundMessage = "inbound_message"
	CallbackIgnored        = "ignored"
)

// 非终态状态的先后顺序，未列出的状态不参与比较
var statusRank = map[string]int{
	model.StatusPending:   0,
	model.StatusAccepted:  0,
	model.StatusScheduled: 0,
	model.StatusQueued:    1,
	model.StatusSending:   2,
	model.StatusSent:      3,
	model.StatusDelivered: 4,
	model.StatusRead:      5,
}

// CallbackResult 回调处理结果
type CallbackResult struct {
	Type      string         `json:"type"`
	Platform  model.Platform `json:"platform,omitempty"`
	ID        uint           `json:"id,omitempty"`
	SID       string         `json:"sid,omitempty"`
	Status    string         `json:"status,omitempty"`
	Matched   *bool          `json:"matched,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

// CallbackService 处理服务商回调：新入站消息或已发送消息的状态更新
type CallbackService struct {
	store     MessageStore
	observers Observers
	now       func() time.Time
}

// NewCallbackService 创建CallbackService实例
func NewCallbackService(store MessageStore, observers ...MessageObserver) *CallbackService {
	return &CallbackService{
		store:     store,
		observers: observers,
		now:       time.Now,
	}
}

// Handle 处理一次回调
func (s *CallbackService) Handle(ctx context.Context, event InboundEvent) (*CallbackResult, error) {
	switch {
	case event.Twilio != nil:
		return s.handleTwilio(ctx, event.Twilio)
	case event.Telegram != nil:
		return s.handleTelegram(ctx, event.Telegram)
	default:
		return nil, errors.New("empty inbound event")
	}
}

func (s *CallbackService) handleTwilio(ctx context.Context, p *TwilioPayload) (*CallbackResult, error) {
	platform := p.DetectPlatform()
	if p.IsStatusUpdate() {
		return s.applyStatus(ctx, platform, p)
	}
	return s.createInbound(ctx, platform, p)
}

// applyStatus 按sid锁定记录并合并状态
func (s *CallbackService) applyStatus(ctx context.Context, platform model.Platform, p *TwilioPayload) (*CallbackResult, error) {
	result := &CallbackResult{
		Type:     CallbackStatusUpdate,
		Platform: platform,
		SID:      p.MessageSID,
		Status:   p.MessageStatus,
	}

	if p.MessageSID == "" {
		logger.Warn("状态回调缺少MessageSid", zap.String("status", p.MessageStatus))
		result.Matched = boolPtr(false)
		return result, nil
	}

	now := s.now()
	changed := false
	message, err := s.store.UpdateBySID(ctx, p.MessageSID, func(m *model.Message) bool {
		changed = applyStatusUpdate(m, p.MessageStatus, p.ErrorCode, p.ErrorMessage, now)
		return changed
	})
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			logger.Warn("状态回调未找到对应消息",
				zap.String("sid", p.MessageSID),
				zap.String("status", p.MessageStatus),
			)
			result.Matched = boolPtr(false)
			return result, nil
		}
		return nil, fmt.Errorf("更新消息状态失败: %w", err)
	}

	result.Matched = boolPtr(true)
	result.ID = message.ID
	result.Platform = message.Platform
	result.Status = message.Status

	logger.Info("消息状态已更新",
		zap.Uint("id", message.ID),
		zap.String("sid", p.MessageSID),
		zap.String("incoming", p.MessageStatus),
		zap.String("status", message.Status),
		zap.Bool("changed", changed),
	)
	if changed {
		s.observers.notify(ctx, EventStatusUpdate, message)
	}
	return result, nil
}

// applyStatusUpdate 将一次状态事件合并到消息上，返回是否有改动
// 终态只更新错误信息；非终态按顺序不回退；时间戳只补不改
func applyStatusUpdate(m *model.Message, status, errorCode, errorMessage string, now time.Time) bool {
	if status == "" {
		return false
	}
	changed := false

	if model.IsTerminal(status) {
		if !model.IsTerminal(m.Status) {
			m.Status = status
			changed = true
		}
		if errorMessage == "" {
			errorMessage = DefaultDeliveryFailMessage
		}
		code := model.StringPtr(errorCode)
		if !equalStringPtr(m.ErrorCode, code) {
			m.ErrorCode = code
			changed = true
		}
		if m.ErrorMessage == nil || *m.ErrorMessage != errorMessage {
			m.ErrorMessage = &errorMessage
			changed = true
		}
		return changed
	}

	if model.IsTerminal(m.Status) {
		return false
	}

	if status != m.Status {
		current, currentKnown := statusRank[m.Status]
		incoming, incomingKnown := statusRank[status]
		if !currentKnown || !incomingKnown || incoming > current {
			m.Status = status
			changed = true
		}
	}

	if (status == model.StatusDelivered || status == model.StatusRead) && m.DeliveredAt == nil {
		t := now
		m.DeliveredAt = &t
		changed = true
	}
	if status == model.StatusRead && m.ReadAt == nil {
		t := now
		m.ReadAt = &t
		changed = true
	}
	return changed
}

// createInbound 新入站消息，总是新建记录
func (s *CallbackService) createInbound(ctx context.Context, platform model.Platform, p *TwilioPayload) (*CallbackResult, error) {
	body := p.Body
	if strings.TrimSpace(body) == "" {
		body = MediaPlaceholder
	}

	metadata := make(map[string]interface{}, len(p.Raw)+2)
	for k, v := range p.Raw {
		metadata[k] = v
	}
	metadata["num_media"] = p.NumMedia
	metadata["media_urls"] = p.Media

	now := s.now()
	message := &model.Message{
		Platform:    platform,
		Direction:   model.DirectionInbound,
		FromNumber:  model.StringPtr(p.From),
		ToNumber:    model.StringPtr(p.To),
		MessageBody: body,
		MessageSID:  model.StringPtr(p.MessageSID),
		Status:      model.StatusReceived,
		Metadata:    toJSON(metadata),
		SentAt:      &now,
	}
	return s.storeInbound(ctx, message)
}

func (s *CallbackService) handleTelegram(ctx context.Context, update *TelegramUpdate) (*CallbackResult, error) {
	if update.Message == nil {
		logger.Info("Telegram回调不包含消息，已忽略", zap.Int64("update_id", update.UpdateID))
		return &CallbackResult{Type: CallbackIgnored, Platform: model.PlatformTelegram}, nil
	}

	msg := update.Message
	now := s.now()
	message := &model.Message{
		Platform:    model.PlatformTelegram,
		Direction:   model.DirectionInbound,
		FromNumber:  model.StringPtr(msg.SenderID()),
		ToNumber:    model.StringPtr(provider.TelegramBotFrom),
		MessageBody: msg.Content(),
		MessageSID:  model.StringPtr(provider.TelegramSID(strconv.FormatInt(msg.Chat.ID, 10), msg.MessageID)),
		Status:      model.StatusReceived,
		SentAt:      &now,
	}
	if len(update.RawMessage) > 0 && json.Valid(update.RawMessage) {
		message.Metadata = datatypes.JSON(update.RawMessage)
	}
	return s.storeInbound(ctx, message)
}

// storeInbound 写入入站消息，重复回调按已处理返回
func (s *CallbackService) storeInbound(ctx context.Context, message *model.Message) (*CallbackResult, error) {
	result := &CallbackResult{
		Type:     CallbackInboundMessage,
		Platform: message.Platform,
		Status:   message.Status,
	}
	if message.MessageSID != nil {
		result.SID = *message.MessageSID
	}

	if err := s.store.Create(ctx, message); err != nil {
		if errors.Is(err, repository.ErrDuplicateMessage) {
			logger.Info("重复的入站回调，已忽略",
				zap.String("platform", string(message.Platform)),
				zap.String("sid", result.SID),
			)
			result.Duplicate = true
			return result, nil
		}
		return nil, fmt.Errorf("保存入站消息失败: %w", err)
	}

	result.ID = message.ID
	logger.Info("收到入站消息",
		zap.String("platform", string(message.Platform)),
		zap.Uint("id", message.ID),
		zap.String("sid", result.SID),
	)
	s.observers.notify(ctx, EventInboundMessage, message)
	return result, nil
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtr(b bool) *bool {
	return &b
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"msg-gateway/internal/model"
	"msg-gateway/internal/provider"
	"msg-gateway/pkg/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// DefaultSendTimeout 单次服务商调用的默认超时
const DefaultSendTimeout = 10 * time.Second

// 渠道展示名，用于返回信息
var channelNames = map[model.Platform]string{
	model.PlatformSMS:       "SMS",
	model.PlatformWhatsApp:  "WhatsApp message",
	model.PlatformMessenger: "Messenger message",
	model.PlatformTelegram:  "Telegram message",
}

// SendResult 发送结果，直接作为接口响应返回
type SendResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ID        *uint  `json:"id,omitempty"`
	SID       string `json:"sid,omitempty"`
	MessageID *int64 `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Dispatcher 出站消息分发：校验、规范化地址、调用服务商、落库
type Dispatcher struct {
	senders   map[model.Platform]provider.Sender
	store     MessageStore
	observers Observers
	validate  *validator.Validate
	timeout   time.Duration
	now       func() time.Time
}

// NewDispatcher 创建Dispatcher实例，timeout<=0 时使用默认超时
func NewDispatcher(senders map[model.Platform]provider.Sender, store MessageStore, timeout time.Duration, observers ...MessageObserver) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		senders:   senders,
		store:     store,
		observers: observers,
		validate:  validator.New(),
		timeout:   timeout,
		now:       time.Now,
	}
}

// Validate 校验发送参数，失败时返回 *ValidationError
func (d *Dispatcher) Validate(platform model.Platform, to, body string) error {
	return validateSendRequest(d.validate, platform, strings.TrimSpace(to), strings.TrimSpace(body))
}

// Send 发送消息并记录结果，服务商失败体现在返回结果中
func (d *Dispatcher) Send(ctx context.Context, platform model.Platform, to, body string) *SendResult {
	to = NormalizeRecipient(platform, strings.TrimSpace(to))
	body = strings.TrimSpace(body)
	channel := channelName(platform)

	sender, ok := d.senders[platform]
	if !ok || sender == nil {
		err := &provider.Error{Provider: string(platform), Message: fmt.Sprintf("%s channel is not configured", platform)}
		return d.recordFailure(ctx, platform, "", to, body, channel, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := sender.Send(sendCtx, to, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &provider.Error{Provider: string(platform), Message: fmt.Sprintf("provider request timed out after %s", d.timeout), Err: err}
		}
		return d.recordFailure(ctx, platform, sender.From(), to, body, channel, err)
	}

	from := res.From
	if from == "" {
		from = sender.From()
	}
	status := res.Status
	if status == "" {
		status = model.StatusSent
	}
	sentAt := d.now()

	message := &model.Message{
		Platform:    platform,
		Direction:   model.DirectionOutbound,
		FromNumber:  model.StringPtr(from),
		ToNumber:    model.StringPtr(to),
		MessageBody: body,
		MessageSID:  model.StringPtr(res.SID),
		Status:      status,
		Metadata:    toJSON(res.Metadata),
		SentAt:      &sentAt,
	}

	result := &SendResult{
		Success: true,
		Message: channel + " sent successfully",
		SID:     res.SID,
		Status:  status,
	}
	if platform == model.PlatformTelegram {
		messageID := res.MessageID
		result.MessageID = &messageID
	}

	if err := d.store.Create(ctx, message); err != nil {
		logger.Error("出站消息落库失败",
			zap.String("platform", string(platform)),
			zap.String("sid", res.SID),
			zap.Error(err),
		)
		return result
	}

	result.ID = &message.ID
	logger.Info("出站消息已发送",
		zap.String("platform", string(platform)),
		zap.Uint("id", message.ID),
		zap.String("sid", res.SID),
		zap.String("status", status),
	)
	d.observers.notify(ctx, EventOutboundSent, message)
	return result
}

func (d *Dispatcher) recordFailure(ctx context.Context, platform model.Platform, from, to, body, channel string, sendErr error) *SendResult {
	code := ""
	var perr *provider.Error
	if errors.As(sendErr, &perr) {
		code = perr.Code
	}

	logger.Warn("出站消息发送失败",
		zap.String("platform", string(platform)),
		zap.String("to", to),
		zap.String("error_code", code),
		zap.Error(sendErr),
	)

	errMsg := sendErr.Error()
	message := &model.Message{
		Platform:     platform,
		Direction:    model.DirectionOutbound,
		FromNumber:   model.StringPtr(from),
		ToNumber:     model.StringPtr(to),
		MessageBody:  body,
		Status:       model.StatusFailed,
		ErrorCode:    model.StringPtr(code),
		ErrorMessage: &errMsg,
	}

	result := &SendResult{
		Success:   false,
		Message:   fmt.Sprintf("Failed to send %s: %s", channel, errMsg),
		ErrorCode: code,
	}

	if err := d.store.Create(ctx, message); err != nil {
		logger.Error("失败消息落库失败", zap.String("platform", string(platform)), zap.Error(err))
		return result
	}
	d.observers.notify(ctx, EventOutboundFailed, message)
	return result
}

// NormalizeRecipient WhatsApp/Messenger地址补全渠道前缀
func NormalizeRecipient(platform model.Platform, to string) string {
	var prefix string
	switch platform {
	case model.PlatformWhatsApp:
		prefix = "whatsapp:"
	case model.PlatformMessenger:
		prefix = "messenger:"
	default:
		return to
	}
	if strings.HasPrefix(to, prefix) {
		return to
	}
	return prefix + to
}

func channelName(platform model.Platform) string {
	if name, ok := channelNames[platform]; ok {
		return name
	}
	return string(platform) + " message"
}

// toJSON 序列化附加信息，空值返回nil
func toJSON(v map[string]interface{}) datatypes.JSON {
	if len(v) == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("附加信息序列化失败", zap.Error(err))
		return nil
	}
	return datatypes.JSON(data)
}

package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"msg-gateway/internal/model"
)

// 媒体消息占位内容
const (
	MediaPlaceholder           = "[Media message]"
	TelegramMediaPlaceholder   = "[Media or unsupported content]"
	DefaultDeliveryFailMessage = "Message delivery failed"
)

// InboundEvent 一次回调请求，Twilio 和 Telegram 二选一
type InboundEvent struct {
	Platform model.Platform // 路由指定的渠道，Twilio回调以地址前缀为准
	Twilio   *TwilioPayload
	Telegram *TelegramUpdate
}

// MediaAttachment 回调中的媒体附件
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Index       int    `json:"index"`
}

// TwilioPayload Twilio回调（表单或JSON）中用到的字段
type TwilioPayload struct {
	From          string
	To            string
	Body          string
	MessageSID    string
	MessageStatus string
	ErrorCode     string
	ErrorMessage  string
	NumMedia      int
	Media         []MediaAttachment
	Raw           map[string]interface{}
}

// ParseTwilioPayload 从原始键值解析回调字段，MessageSid 缺失时使用 SmsSid
func ParseTwilioPayload(raw map[string]interface{}) *TwilioPayload {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	p := &TwilioPayload{
		From:          stringValue(raw["From"]),
		To:            stringValue(raw["To"]),
		Body:          stringValue(raw["Body"]),
		MessageSID:    stringValue(raw["MessageSid"]),
		MessageStatus: strings.ToLower(strings.TrimSpace(stringValue(raw["MessageStatus"]))),
		ErrorCode:     stringValue(raw["ErrorCode"]),
		ErrorMessage:  stringValue(raw["ErrorMessage"]),
		Raw:           raw,
	}
	if p.MessageSID == "" {
		p.MessageSID = stringValue(raw["SmsSid"])
	}
	if n, err := strconv.Atoi(strings.TrimSpace(stringValue(raw["NumMedia"]))); err == nil && n > 0 {
		p.NumMedia = n
	}
	p.Media = extractMedia(raw, p.NumMedia)
	return p
}

// IsStatusUpdate 有状态且无正文时视为状态回调
func (p *TwilioPayload) IsStatusUpdate() bool {
	return p.MessageStatus != "" && strings.TrimSpace(p.Body) == ""
}

// DetectPlatform 根据地址前缀判断渠道
func (p *TwilioPayload) DetectPlatform() model.Platform {
	return DetectPlatform(p.From, p.To)
}

// DetectPlatform whatsapp: 优先，其次 messenger:，否则为短信
func DetectPlatform(from, to string) model.Platform {
	switch {
	case strings.HasPrefix(from, "whatsapp:") || strings.HasPrefix(to, "whatsapp:"):
		return model.PlatformWhatsApp
	case strings.HasPrefix(from, "messenger:") || strings.HasPrefix(to, "messenger:"):
		return model.PlatformMessenger
	default:
		return model.PlatformSMS
	}
}

// extractMedia 按 NumMedia 读取 MediaUrl{i}/MediaContentType{i}，跳过空地址
func extractMedia(raw map[string]interface{}, numMedia int) []MediaAttachment {
	media := make([]MediaAttachment, 0, numMedia)
	for i := 0; i < numMedia; i++ {
		url := strings.TrimSpace(stringValue(raw[fmt.Sprintf("MediaUrl%d", i)]))
		if url == "" {
			continue
		}
		media = append(media, MediaAttachment{
			URL:         url,
			ContentType: stringValue(raw[fmt.Sprintf("MediaContentType%d", i)]),
			Index:       i,
		})
	}
	return media
}

// stringValue 表单值为字符串，JSON值可能为数字或布尔
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		if len(val) == 0 {
			return ""
		}
		return val[0]
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// TelegramUpdate Telegram webhook update
type TelegramUpdate struct {
	UpdateID   int64
	Message    *TelegramMessage
	RawMessage json.RawMessage // 原始message对象，写入metadata
}

// TelegramMessage update.message 中用到的字段
type TelegramMessage struct {
	MessageID int64 `json:"message_id"`
	From      *struct {
		ID int64 `json:"id"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text    string `json:"text"`
	Caption string `json:"caption"`
}

// ParseTelegramUpdate 解析Telegram回调，没有message时Message为nil
func ParseTelegramUpdate(body []byte) (*TelegramUpdate, error) {
	var envelope struct {
		UpdateID int64           `json:"update_id"`
		Message  json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("解析Telegram回调失败: %w", err)
	}

	update := &TelegramUpdate{UpdateID: envelope.UpdateID}
	if len(envelope.Message) == 0 || string(envelope.Message) == "null" {
		return update, nil
	}

	var msg TelegramMessage
	if err := json.Unmarshal(envelope.Message, &msg); err != nil {
		return nil, fmt.Errorf("解析Telegram消息失败: %w", err)
	}
	update.Message = &msg
	update.RawMessage = envelope.Message
	return update, nil
}

// SenderID 发送者ID，缺少from时使用chat.id
func (m *TelegramMessage) SenderID() string {
	if m.From != nil && m.From.ID != 0 {
		return strconv.FormatInt(m.From.ID, 10)
	}
	return strconv.FormatInt(m.Chat.ID, 10)
}

// Content 文本，其次图片说明，否则占位
func (m *TelegramMessage) Content() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Caption != "" {
		return m.Caption
	}
	return TelegramMediaPlaceholder
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const telegramName = "telegram"

// TelegramBotFrom 出站Telegram消息记录的发送方
const TelegramBotFrom = "bot"

// TelegramSID Telegram的message_id只在单个会话内唯一，记录时带上chat_id：<chat_id>:<message_id>
func TelegramSID(chatID string, messageID int64) string {
	return chatID + ":" + strconv.FormatInt(messageID, 10)
}

// TelegramConfig Telegram Bot API配置
type TelegramConfig struct {
	BotToken string
	APIURL   string // 默认 https://api.telegram.org
	Timeout  time.Duration
}

// TelegramClient Telegram Bot API 客户端
type TelegramClient struct {
	config     TelegramConfig
	httpClient *http.Client
}

type telegramSendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramSendResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"result"`
}

// NewTelegramClient 创建Telegram客户端，httpClient为空时使用默认客户端
func NewTelegramClient(config TelegramConfig, httpClient *http.Client) *TelegramClient {
	if config.APIURL == "" {
		config.APIURL = "https://api.telegram.org"
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &TelegramClient{config: config, httpClient: httpClient}
}

// Send 调用 sendMessage，to 为 chat_id
func (c *TelegramClient) Send(ctx context.Context, to, body string) (*SendResult, error) {
	if c.config.BotToken == "" {
		return nil, &Error{Provider: telegramName, Message: "telegram bot token is not configured"}
	}

	payload, err := json.Marshal(telegramSendRequest{ChatID: to, Text: body, ParseMode: "HTML"})
	if err != nil {
		return nil, &Error{Provider: telegramName, Message: fmt.Sprintf("marshal request: %v", err), Err: err}
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.config.APIURL, c.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Provider: telegramName, Message: fmt.Sprintf("create request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 错误信息中包含带token的URL，不直接透出
		return nil, &Error{Provider: telegramName, Message: "send request: " + redact(err.Error(), c.config.BotToken), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: telegramName, Message: fmt.Sprintf("read response: %v", err), StatusCode: resp.StatusCode, Err: err}
	}

	var out telegramSendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{
			Provider:   telegramName,
			Message:    fmt.Sprintf("telegram api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			StatusCode: resp.StatusCode,
		}
	}

	if resp.StatusCode != http.StatusOK || !out.OK {
		message := out.Description
		if message == "" {
			message = fmt.Sprintf("telegram api error (status %d)", resp.StatusCode)
		}
		code := ""
		if out.ErrorCode != 0 {
			code = strconv.Itoa(out.ErrorCode)
		}
		return nil, &Error{Provider: telegramName, Code: code, Message: message, StatusCode: resp.StatusCode}
	}

	chatID := strconv.FormatInt(out.Result.Chat.ID, 10)
	if out.Result.Chat.ID == 0 {
		chatID = to
	}

	return &SendResult{
		SID:       TelegramSID(chatID, out.Result.MessageID),
		Status:    "sent",
		From:      TelegramBotFrom,
		MessageID: out.Result.MessageID,
		Metadata: map[string]interface{}{
			"chat_id":    chatID,
			"message_id": out.Result.MessageID,
		},
	}, nil
}

// From Telegram出站消息统一记为bot
func (c *TelegramClient) From() string {
	return TelegramBotFrom
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioName = "twilio"

// TwilioConfig Twilio REST配置
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string // 默认 https://api.twilio.com
	Timeout    time.Duration
}

// TwilioClient Twilio Messages API 客户端，SMS/WhatsApp/Messenger共用
type TwilioClient struct {
	config     TwilioConfig
	httpClient *http.Client
}

// twilioMessageResponse Messages.json 成功响应中用到的字段
type twilioMessageResponse struct {
	SID       string  `json:"sid"`
	Status    string  `json:"status"`
	From      string  `json:"from"`
	Price     *string `json:"price"`
	PriceUnit *string `json:"price_unit"`
}

// twilioErrorResponse Twilio错误响应
type twilioErrorResponse struct {
	Code     json.Number `json:"code"`
	Message  string      `json:"message"`
	MoreInfo string      `json:"more_info"`
	Status   int         `json:"status"`
}

// NewTwilioClient 创建Twilio客户端，httpClient为空时使用默认客户端
func NewTwilioClient(config TwilioConfig, httpClient *http.Client) *TwilioClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.twilio.com"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &TwilioClient{config: config, httpClient: httpClient}
}

// Sender 绑定发送方地址，得到某个渠道的Sender
func (c *TwilioClient) Sender(from string) Sender {
	return &twilioSender{client: c, from: from}
}

// SendMessage 调用 Messages.json 发送一条消息
func (c *TwilioClient) SendMessage(ctx context.Context, from, to, body string) (*SendResult, error) {
	if c.config.AccountSID == "" || c.config.AuthToken == "" {
		return nil, &Error{Provider: twilioName, Message: "twilio credentials are not configured"}
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.config.BaseURL, c.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Provider: twilioName, Message: fmt.Sprintf("create request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Provider: twilioName, Message: fmt.Sprintf("send request: %v", err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: twilioName, Message: fmt.Sprintf("read response: %v", err), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr twilioErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Message == "" {
			return nil, &Error{
				Provider:   twilioName,
				Message:    fmt.Sprintf("twilio api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
				StatusCode: resp.StatusCode,
			}
		}
		return nil, &Error{
			Provider:   twilioName,
			Code:       apiErr.Code.String(),
			Message:    apiErr.Message,
			StatusCode: resp.StatusCode,
		}
	}

	var msg twilioMessageResponse
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, &Error{Provider: twilioName, Message: fmt.Sprintf("unmarshal response: %v", err), StatusCode: resp.StatusCode, Err: err}
	}

	metadata := map[string]interface{}{
		"price":      msg.Price,
		"price_unit": msg.PriceUnit,
	}

	result := &SendResult{
		SID:      msg.SID,
		Status:   msg.Status,
		From:     from,
		Metadata: metadata,
	}
	if msg.From != "" {
		result.From = msg.From
	}
	return result, nil
}

type twilioSender struct {
	client *TwilioClient
	from   string
}

func (s *twilioSender) Send(ctx context.Context, to, body string) (*SendResult, error) {
	return s.client.SendMessage(ctx, s.from, to, body)
}

func (s *twilioSender) From() string {
	return s.from
}

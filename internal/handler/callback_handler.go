package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"msg-gateway/config"
	"msg-gateway/internal/model"
	"msg-gateway/internal/provider"
	"msg-gateway/internal/service"
	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TelegramSecretHeader Telegram webhook密钥头
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// 回调请求体上限
const maxCallbackBody = 1 << 20

// CallbackHandler 服务商回调入口
type CallbackHandler struct {
	callbacks *service.CallbackService
	twilio    config.TwilioConfig
	telegram  config.TelegramConfig
}

// NewCallbackHandler 创建CallbackHandler实例
func NewCallbackHandler(callbacks *service.CallbackService, twilioCfg config.TwilioConfig, telegramCfg config.TelegramConfig) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks, twilio: twilioCfg, telegram: telegramCfg}
}

// callbackResponse 回调成功响应
type callbackResponse struct {
	Success bool `json:"success"`
	*service.CallbackResult
}

// Twilio 返回Twilio回调接口，platform为路由上的渠道（记录用，实际渠道由地址前缀判断）
func (h *CallbackHandler) Twilio(platform model.Platform) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c)
		raw, signed, err := readTwilioPayload(c)
		if err != nil {
			// 非2xx会触发服务商重试，格式错误的回调直接确认
			log.Warn("解析Twilio回调失败", zap.String("route", string(platform)), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "invalid callback payload: " + err.Error()})
			return
		}

		if h.twilio.ValidateSignature {
			fullURL := h.publicURL(c)
			if !provider.ValidateTwilioSignature(h.twilio.AuthToken, fullURL, signed, c.GetHeader(provider.TwilioSignatureHeader)) {
				log.Warn("Twilio回调签名校验失败",
					zap.String("url", fullURL),
					zap.String("ip", c.ClientIP()),
				)
				response.Forbidden(c, "invalid signature")
				return
			}
		}

		result, err := h.callbacks.Handle(c.Request.Context(), service.InboundEvent{
			Platform: platform,
			Twilio:   service.ParseTwilioPayload(raw),
		})
		if err != nil {
			log.Error("处理Twilio回调失败",
				zap.String("route", string(platform)),
				zap.Any("payload", raw),
				zap.Error(err),
			)
			response.InternalError(c, err)
			return
		}

		c.JSON(http.StatusOK, callbackResponse{Success: true, CallbackResult: result})
	}
}

// Telegram Telegram webhook
func (h *CallbackHandler) Telegram(c *gin.Context) {
	log := logger.FromContext(c)
	if h.telegram.WebhookSecret != "" && c.GetHeader(TelegramSecretHeader) != h.telegram.WebhookSecret {
		log.Warn("Telegram回调密钥不匹配", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		log.Warn("读取Telegram回调失败", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}

	update, err := service.ParseTelegramUpdate(body)
	if err != nil {
		log.Warn("解析Telegram回调失败", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}

	if _, err := h.callbacks.Handle(c.Request.Context(), service.InboundEvent{
		Platform: model.PlatformTelegram,
		Telegram: update,
	}); err != nil {
		log.Error("处理Telegram回调失败", zap.Int64("update_id", update.UpdateID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// publicURL 对外回调地址，用于签名校验
func (h *CallbackHandler) publicURL(c *gin.Context) string {
	if h.twilio.WebhookBaseURL != "" {
		return strings.TrimRight(h.twilio.WebhookBaseURL, "/") + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.RequestURI())
}

// readTwilioPayload 解析表单或JSON回调，查询参数合并其中（请求体优先）
// 返回的 signed 为参与签名的请求体参数
func readTwilioPayload(c *gin.Context) (map[string]interface{}, map[string][]string, error) {
	raw := make(map[string]interface{})

	if strings.HasPrefix(c.ContentType(), "application/json") {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err != nil {
			return nil, nil, err
		}
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				raw[k] = v[0]
			}
		}
		if len(bytes.TrimSpace(body)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			var payload map[string]interface{}
			if err := dec.Decode(&payload); err != nil {
				return nil, nil, fmt.Errorf("invalid json body: %w", err)
			}
			for k, v := range payload {
				raw[k] = v
			}
		}
		return raw, map[string][]string{}, nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)
	if err := c.Request.ParseForm(); err != nil {
		return nil, nil, err
	}
	for k, v := range c.Request.Form {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return raw, c.Request.PostForm, nil
}

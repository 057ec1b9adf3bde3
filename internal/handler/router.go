package handler

import (
	"net/http"
	"time"

	"msg-gateway/internal/model"
	"msg-gateway/pkg/jwt"
	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Messages    *MessageHandler
	Callbacks   *CallbackHandler
	Auth        *AuthHandler
	Stats       *StatsHandler
	JWT         *jwt.JWTService
	AuthEnabled bool
	WebSocket   gin.HandlerFunc
	HealthCheck func() error
	RedisCheck  func() error // 可选，失败只在响应中标记
}

// NewRouter 注册全部路由
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// 使用中间件
	router.Use(logger.RequestID())             // 请求ID
	router.Use(logger.RequestLogger())         // 请求日志
	router.Use(logger.ErrorLoggerMiddleware()) // panic恢复
	router.Use(metrics.Middleware())           // 请求指标

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(); err != nil {
				status = "db-down"
				code = http.StatusServiceUnavailable
			}
		}
		body := gin.H{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		}
		if deps.RedisCheck != nil {
			body["redis"] = "ok"
			if err := deps.RedisCheck(); err != nil {
				body["redis"] = "down"
			}
		}
		c.JSON(code, body)
	})
	router.GET("/metrics", metrics.Handler())

	protected := deps.JWT.OptionalAuth(deps.AuthEnabled)

	v1 := router.Group("/api/v1")
	{
		// 公开接口
		v1.POST("/auth/login", deps.Auth.Login)

		// 服务商回调（公开）
		callback := v1.Group("/callback")
		{
			callback.POST("/twilio", deps.Callbacks.Twilio(""))
			callback.POST("/sms", deps.Callbacks.Twilio(model.PlatformSMS))
			callback.POST("/whatsapp", deps.Callbacks.Twilio(model.PlatformWhatsApp))
			callback.POST("/messenger", deps.Callbacks.Twilio(model.PlatformMessenger))
		}
		webhook := v1.Group("/webhook")
		{
			webhook.POST("/twilio", deps.Callbacks.Twilio(""))
			webhook.POST("/telegram", deps.Callbacks.Telegram)
		}

		// 发送与查询（需要认证）
		messages := v1.Group("/messages")
		messages.Use(protected)
		{
			messages.POST("/sms", deps.Messages.Send(model.PlatformSMS))
			messages.POST("/whatsapp", deps.Messages.Send(model.PlatformWhatsApp))
			messages.POST("/messenger", deps.Messages.Send(model.PlatformMessenger))
			messages.POST("/telegram", deps.Messages.Send(model.PlatformTelegram))
			messages.GET("", deps.Messages.History)
			messages.GET("/:id", deps.Messages.Show)
		}

		v1.GET("/stats", protected, deps.Stats.Get)
	}

	// WebSocket路由，token通过查询参数传入
	if deps.WebSocket != nil {
		router.GET("/ws", protected, deps.WebSocket)
	}

	return router
}

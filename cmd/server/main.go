package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msg-gateway/config"
	"msg-gateway/internal/handler"
	"msg-gateway/internal/model"
	"msg-gateway/internal/provider"
	"msg-gateway/internal/repository"
	"msg-gateway/internal/service"
	dbPkg "msg-gateway/pkg/db"
	"msg-gateway/pkg/jwt"
	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/metrics"
	redisPkg "msg-gateway/pkg/redis"
	"msg-gateway/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer logger.Sync()

	log.Info("=== 消息网关启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("database_host", cfg.Database.Host),
		zap.Int("database_port", cfg.Database.Port),
		zap.String("database_name", cfg.Database.Database),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	if _, err := dbPkg.InitDB(cfg.Database); err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(&model.Message{}); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 Redis统计（可选，连接失败不影响收发）
	if cfg.Redis.Enabled {
		if err := redisPkg.InitRedis(cfg.Redis); err != nil {
			log.Warn("Redis不可用，消息统计已关闭", zap.Error(err))
		} else {
			log.Info("Redis连接成功")
			defer func() {
				if err := redisPkg.Close(); err != nil {
					log.Error("关闭Redis连接失败", zap.Error(err))
				}
			}()
		}
	}

	// 4. 服务商客户端
	senders := buildSenders(cfg)

	// 5. 初始化业务服务
	wsManager := websocket.NewManager()
	stats := redisPkg.NewMessageStats(redisPkg.GetClient())
	observers := []service.MessageObserver{wsManager, stats, metrics.NewMessageMetrics()}

	jwtSvc := jwt.NewJWTService(cfg.JWT)
	messageRepo := repository.NewMessageRepository(dbPkg.GetDB())
	dispatcher := service.NewDispatcher(senders, messageRepo, cfg.Providers.SendTimeout, observers...)
	callbacks := service.NewCallbackService(messageRepo, observers...)
	authSvc := service.NewAuthService(cfg.Auth.Operators, jwtSvc)
	if cfg.Auth.Enabled && authSvc.OperatorCount() == 0 {
		log.Warn("已启用认证但未配置运营账号，发送和查询接口将无法访问")
	}

	// 6. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 7. 创建路由
	router := handler.NewRouter(handler.RouterDeps{
		Messages:    handler.NewMessageHandler(dispatcher, service.NewHistoryService(messageRepo)),
		Callbacks:   handler.NewCallbackHandler(callbacks, cfg.Twilio, cfg.Telegram),
		Auth:        handler.NewAuthHandler(authSvc, jwtSvc),
		Stats:       handler.NewStatsHandler(stats),
		JWT:         jwtSvc,
		AuthEnabled: cfg.Auth.Enabled,
		WebSocket:   websocket.NewHandler(wsManager, cfg.WebSocket),
		HealthCheck: dbPkg.HealthCheck,
		RedisCheck:  redisHealthCheck(cfg.Redis),
	})

	// 8. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 9. 启动HTTP服务器
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 10. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}

// redisHealthCheck 未启用Redis时不做检查
func redisHealthCheck(cfg config.RedisConfig) func() error {
	if !cfg.Enabled {
		return nil
	}
	return redisPkg.HealthCheck
}

// buildSenders 按配置创建各渠道的发送方，未配置的渠道发送时返回失败
func buildSenders(cfg *config.Config) map[model.Platform]provider.Sender {
	senders := make(map[model.Platform]provider.Sender)

	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		twilio := provider.NewTwilioClient(provider.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			BaseURL:    cfg.Twilio.BaseURL,
			Timeout:    cfg.Providers.SendTimeout,
		}, nil)
		if cfg.Twilio.SMSFrom != "" {
			senders[model.PlatformSMS] = twilio.Sender(cfg.Twilio.SMSFrom)
		}
		if cfg.Twilio.WhatsAppFrom != "" {
			senders[model.PlatformWhatsApp] = twilio.Sender(service.NormalizeRecipient(model.PlatformWhatsApp, cfg.Twilio.WhatsAppFrom))
		}
		if cfg.Twilio.MessengerFrom != "" {
			senders[model.PlatformMessenger] = twilio.Sender(service.NormalizeRecipient(model.PlatformMessenger, cfg.Twilio.MessengerFrom))
		}
	} else {
		logger.Warn("未配置Twilio凭证，SMS/WhatsApp/Messenger发送不可用")
	}

	if cfg.Telegram.BotToken != "" {
		senders[model.PlatformTelegram] = provider.NewTelegramClient(provider.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			APIURL:   cfg.Telegram.APIURL,
			Timeout:  cfg.Providers.SendTimeout,
		}, nil)
	} else {
		logger.Warn("未配置Telegram Bot Token，Telegram发送不可用")
	}

	logger.Info("服务商渠道已加载", zap.Int("count", len(senders)))
	return senders
}

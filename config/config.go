package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置结构体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         string        `yaml:"port"`         // 服务器监听端口
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读取超时时间
	WriteTimeout time.Duration `yaml:"writeTimeout"` // 写入超时时间
	IdleTimeout  time.Duration `yaml:"idleTimeout"`  // 空闲超时时间
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`   // 数据库驱动类型 mysql/postgres
	Host     string `yaml:"host"`     // 数据库主机地址
	Port     int    `yaml:"port"`     // 数据库端口
	Username string `yaml:"username"` // 数据库用户名
	Password string `yaml:"password"` // 数据库密码
	Database string `yaml:"database"` // 数据库名称
	Charset  string `yaml:"charset"`  // 字符集（仅mysql）
	SSLMode  string `yaml:"sslMode"`  // SSL模式（仅postgres）
	MaxIdle  int    `yaml:"maxIdle"`  // 最大空闲连接数
	MaxOpen  int    `yaml:"maxOpen"`  // 最大打开连接数
	LogSQL   bool   `yaml:"logSql"`   // 是否打印SQL
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret     string        `yaml:"secret"`     // JWT密钥
	ExpireTime time.Duration `yaml:"expireTime"` // JWT过期时间
	Issuer     string        `yaml:"issuer"`     // JWT签发者
}

// AuthConfig 运营账号认证配置
type AuthConfig struct {
	Enabled   bool             `yaml:"enabled"`   // 发送/查询接口是否需要认证
	Operators []OperatorConfig `yaml:"operators"` // 运营账号
}

// OperatorConfig 运营账号，仅保存bcrypt哈希
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"passwordHash"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // 日志级别
	Filename   string `yaml:"filename"`   // 日志文件名
	MaxSize    int    `yaml:"maxSize"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"maxBackups"` // 最大备份文件数
	MaxAge     int    `yaml:"maxAge"`     // 最大保存天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`  // 是否启用统计计数
	Host     string `yaml:"host"`     // Redis主机地址
	Port     int    `yaml:"port"`     // Redis端口
	Password string `yaml:"password"` // Redis密码
	DB       int    `yaml:"db"`       // Redis数据库编号
}

// WebSocketConfig WebSocket 心跳配置
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"pingInterval"` // 发送ping的间隔
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读超时时间（未收到任何数据则断开）
}

// TwilioConfig Twilio配置（SMS/WhatsApp/Messenger共用）
type TwilioConfig struct {
	AccountSID        string `yaml:"accountSid"`
	AuthToken         string `yaml:"authToken"`
	BaseURL           string `yaml:"baseUrl"`
	SMSFrom           string `yaml:"smsFrom"`
	WhatsAppFrom      string `yaml:"whatsappFrom"`
	MessengerFrom     string `yaml:"messengerFrom"`
	ValidateSignature bool   `yaml:"validateSignature"` // 是否校验 X-Twilio-Signature
	WebhookBaseURL    string `yaml:"webhookBaseUrl"`    // 对外暴露的回调地址前缀，用于签名校验
}

// TelegramConfig Telegram Bot配置
type TelegramConfig struct {
	BotToken      string `yaml:"botToken"`
	APIURL        string `yaml:"apiUrl"`
	WebhookSecret string `yaml:"webhookSecret"` // 对应 X-Telegram-Bot-Api-Secret-Token
}

// ProvidersConfig 第三方调用配置
type ProvidersConfig struct {
	SendTimeout time.Duration `yaml:"sendTimeout"` // 单次发送超时
}

// LoadConfig 加载配置（混合方式：YAML文件 + 环境变量）
func LoadConfig() *Config {
	return LoadConfigFrom(getEnv("CONFIG_FILE", "config/config.yaml"))
}

// LoadConfigFrom 从指定文件加载配置
func LoadConfigFrom(filePath string) *Config {
	// 1. 首先从YAML文件加载默认配置
	config := loadFromYAML(filePath)

	// 2. 用环境变量覆盖配置（环境变量优先级更高）
	overrideWithEnvVars(config)

	return config
}

// loadFromYAML 从YAML文件加载配置，缺省字段使用默认值
func loadFromYAML(filePath string) *Config {
	config := getDefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		// 如果文件不存在，返回默认配置
		return config
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		// 如果解析失败，返回默认配置
		return getDefaultConfig()
	}

	return config
}

// overrideWithEnvVars 用环境变量覆盖配置
func overrideWithEnvVars(config *Config) {
	// 服务器配置
	if port := getEnv("SERVER_PORT", ""); port != "" {
		config.Server.Port = port
	}
	if timeout := getEnvDuration("SERVER_READ_TIMEOUT", 0); timeout > 0 {
		config.Server.ReadTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_WRITE_TIMEOUT", 0); timeout > 0 {
		config.Server.WriteTimeout = timeout
	}
	if timeout := getEnvDuration("SERVER_IDLE_TIMEOUT", 0); timeout > 0 {
		config.Server.IdleTimeout = timeout
	}

	// 数据库配置
	if driver := getEnv("DB_DRIVER", ""); driver != "" {
		config.Database.Driver = driver
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		config.Database.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.Database.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.Database.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.Database.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.Database.Database = database
	}
	if charset := getEnv("DB_CHARSET", ""); charset != "" {
		config.Database.Charset = charset
	}
	if sslMode := getEnv("DB_SSLMODE", ""); sslMode != "" {
		config.Database.SSLMode = sslMode
	}
	if maxIdle := getEnvInt("DB_MAX_IDLE", 0); maxIdle > 0 {
		config.Database.MaxIdle = maxIdle
	}
	if maxOpen := getEnvInt("DB_MAX_OPEN", 0); maxOpen > 0 {
		config.Database.MaxOpen = maxOpen
	}
	config.Database.LogSQL = getEnvBool("DB_LOG_SQL", config.Database.LogSQL)

	// JWT配置
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		config.JWT.Secret = secret
	}
	if expireTime := getEnvDuration("JWT_EXPIRE_TIME", 0); expireTime > 0 {
		config.JWT.ExpireTime = expireTime
	}
	if issuer := getEnv("JWT_ISSUER", ""); issuer != "" {
		config.JWT.Issuer = issuer
	}

	// 认证配置
	config.Auth.Enabled = getEnvBool("AUTH_ENABLED", config.Auth.Enabled)
	if username := getEnv("AUTH_ADMIN_USERNAME", ""); username != "" {
		if hash := getEnv("AUTH_ADMIN_PASSWORD_HASH", ""); hash != "" {
			config.Auth.Operators = append(config.Auth.Operators, OperatorConfig{
				Username:     username,
				PasswordHash: hash,
			})
		}
	}

	// 日志配置
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename := getEnv("LOG_FILENAME", ""); filename != "" {
		config.Log.Filename = filename
	}
	if maxSize := getEnvInt("LOG_MAX_SIZE", 0); maxSize > 0 {
		config.Log.MaxSize = maxSize
	}
	if maxBackups := getEnvInt("LOG_MAX_BACKUPS", 0); maxBackups > 0 {
		config.Log.MaxBackups = maxBackups
	}
	if maxAge := getEnvInt("LOG_MAX_AGE", 0); maxAge > 0 {
		config.Log.MaxAge = maxAge
	}

	// Redis配置
	config.Redis.Enabled = getEnvBool("REDIS_ENABLED", config.Redis.Enabled)
	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}

	// WebSocket配置
	if d := getEnvDuration("WS_PING_INTERVAL", 0); d > 0 {
		config.WebSocket.PingInterval = d
	}
	if d := getEnvDuration("WS_READ_TIMEOUT", 0); d > 0 {
		config.WebSocket.ReadTimeout = d
	}

	// Twilio配置
	if sid := getEnv("TWILIO_ACCOUNT_SID", ""); sid != "" {
		config.Twilio.AccountSID = sid
	}
	if token := getEnv("TWILIO_AUTH_TOKEN", ""); token != "" {
		config.Twilio.AuthToken = token
	}
	if baseURL := getEnv("TWILIO_BASE_URL", ""); baseURL != "" {
		config.Twilio.BaseURL = baseURL
	}
	if from := getEnv("TWILIO_SMS_FROM", ""); from != "" {
		config.Twilio.SMSFrom = from
	}
	if from := getEnv("TWILIO_WHATSAPP_FROM", ""); from != "" {
		config.Twilio.WhatsAppFrom = from
	}
	if from := getEnv("TWILIO_MESSENGER_FROM", ""); from != "" {
		config.Twilio.MessengerFrom = from
	}
	config.Twilio.ValidateSignature = getEnvBool("TWILIO_VALIDATE_SIGNATURE", config.Twilio.ValidateSignature)
	if webhookBaseURL := getEnv("TWILIO_WEBHOOK_BASE_URL", ""); webhookBaseURL != "" {
		config.Twilio.WebhookBaseURL = webhookBaseURL
	}

	// Telegram配置
	if token := getEnv("TELEGRAM_BOT_TOKEN", ""); token != "" {
		config.Telegram.BotToken = token
	}
	if apiURL := getEnv("TELEGRAM_API_URL", ""); apiURL != "" {
		config.Telegram.APIURL = apiURL
	}
	if secret := getEnv("TELEGRAM_WEBHOOK_SECRET", ""); secret != "" {
		config.Telegram.WebhookSecret = secret
	}

	if d := getEnvDuration("PROVIDER_SEND_TIMEOUT", 0); d > 0 {
		config.Providers.SendTimeout = d
	}
}

// getDefaultConfig 获取默认配置
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			Username: "gateway",
			Password: "gateway",
			Database: "msg_gateway",
			Charset:  "utf8mb4",
			SSLMode:  "disable",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		JWT: JWTConfig{
			Secret:     "change-me-in-production",
			ExpireTime: 12 * time.Hour,
			Issuer:     "msg-gateway",
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/app.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  90 * time.Second,
		},
		Twilio: TwilioConfig{
			BaseURL: "https://api.twilio.com",
		},
		Telegram: TelegramConfig{
			APIURL: "https://api.telegram.org",
		},
		Providers: ProvidersConfig{
			SendTimeout: 10 * time.Second,
		},
	}
}

// 辅助函数：获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 辅助函数：获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 辅助函数：获取布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// 辅助函数：获取时间环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package service

import (
	"errors"
	"strings"
	"sync"

	"msg-gateway/config"
	"msg-gateway/pkg/jwt"
	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/password"

	"go.uber.org/zap"
)

// ErrInvalidCredentials 用户名或密码错误
var ErrInvalidCredentials = errors.New("invalid username or password")

// 未知用户时也做一次bcrypt比对，保持耗时一致
var (
	dummyHashOnce sync.Once
	dummyHash     string
)

func getDummyHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = password.Hash("msg-gateway-dummy")
	})
	return dummyHash
}

// AuthService 运营账号登录
type AuthService struct {
	operators  map[string]string // 用户名 -> bcrypt哈希
	jwtService *jwt.JWTService
}

// NewAuthService 加载运营账号，跳过哈希格式不正确的配置
func NewAuthService(operators []config.OperatorConfig, jwtService *jwt.JWTService) *AuthService {
	m := make(map[string]string, len(operators))
	for _, op := range operators {
		username := strings.TrimSpace(op.Username)
		if username == "" {
			continue
		}
		if !password.IsHash(op.PasswordHash) {
			logger.Warn("运营账号密码哈希无效，已忽略", zap.String("username", username))
			continue
		}
		m[username] = op.PasswordHash
	}
	return &AuthService{operators: m, jwtService: jwtService}
}

// Login 登录并签发token
func (s *AuthService) Login(username, plainPassword string) (string, error) {
	username = strings.TrimSpace(username)
	hash, ok := s.operators[username]
	if !ok {
		password.Verify(plainPassword, getDummyHash())
		return "", ErrInvalidCredentials
	}
	if !password.Verify(plainPassword, hash) {
		return "", ErrInvalidCredentials
	}
	return s.jwtService.GenerateToken(username, map[string]interface{}{"role": "operator"})
}

// OperatorCount 已加载的运营账号数
func (s *AuthService) OperatorCount() int {
	return len(s.operators)
}

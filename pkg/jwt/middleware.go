package jwt

import (
	"strings"

	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ContextOperatorKey 运营账号在gin.Context中的键名
	ContextOperatorKey = "operator"
	// ContextClaimsKey JWT声明在gin.Context中的键名
	ContextClaimsKey = "jwt_claims"
)

// AuthMiddleware JWT认证中间件
// 优先读取 Authorization: Bearer <token>，其次读取 token 查询参数（WebSocket握手）
// 验证token并将运营账号存入gin.Context
func (s *JWTService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			response.Unauthorized(c, "缺少认证信息")
			c.Abort()
			return
		}

		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			logger.Warn("JWT验证失败",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			response.Unauthorized(c, "token无效或已过期")
			c.Abort()
			return
		}

		c.Set(ContextOperatorKey, claims.Subject)
		c.Set(ContextClaimsKey, claims)

		logger.Debug("运营账号访问接口",
			zap.String("operator", claims.Subject),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)

		c.Next()
	}
}

// OptionalAuth enabled 为 false 时直接放行
func (s *JWTService) OptionalAuth(enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return s.AuthMiddleware()
}

func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		return token, token != ""
	}
	token := c.Query("token")
	return token, token != ""
}

// GetOperator 从gin.Context中获取运营账号
func GetOperator(c *gin.Context) string {
	if operator, exists := c.Get(ContextOperatorKey); exists {
		if name, ok := operator.(string); ok {
			return name
		}
	}
	return ""
}

package handler

import (
	"errors"
	"net/http"

	"msg-gateway/internal/service"
	"msg-gateway/pkg/jwt"
	"msg-gateway/pkg/logger"
	"msg-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler 运营账号登录
type AuthHandler struct {
	service    *service.AuthService
	jwtService *jwt.JWTService
}

// NewAuthHandler 创建AuthHandler实例
func NewAuthHandler(s *service.AuthService, jwtService *jwt.JWTService) *AuthHandler {
	return &AuthHandler{service: s, jwtService: jwtService}
}

// Login 登录
func (h *AuthHandler) Login(c *gin.Context) {
	type req struct {
		Username string `json:"username" form:"username" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBind(&r); err != nil {
		response.BadRequest(c, "username and password are required")
		return
	}

	token, err := h.service.Login(r.Username, r.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			logger.Warn("运营账号登录失败", zap.String("username", r.Username), zap.String("ip", c.ClientIP()))
			response.Unauthorized(c, "invalid username or password")
			return
		}
		logger.Error("签发token失败", zap.Error(err))
		response.InternalError(c, err)
		return
	}

	logger.Info("运营账号登录成功", zap.String("username", r.Username))
	c.JSON(http.StatusOK, response.LoginResponse{
		Success:     true,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.jwtService.ExpireAfter().Seconds()),
	})
}

package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"msg-gateway/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(expire time.Duration) *JWTService {
	return NewJWTService(config.JWTConfig{Secret: "test-secret", Issuer: "msg-gateway", ExpireTime: expire})
}

func TestGenerateAndValidate(t *testing.T) {
	svc := newTestService(time.Hour)

	token, err := svc.GenerateToken("admin", map[string]interface{}{"role": "operator"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "operator", claims.Data["role"])
	assert.Equal(t, time.Hour, svc.ExpireAfter())

	_, err = svc.GenerateToken("", nil)
	assert.Error(t, err)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(time.Hour)

	expired, err := newTestService(-time.Minute).GenerateToken("admin", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.Error(t, err)

	other := NewJWTService(config.JWTConfig{Secret: "other", Issuer: "msg-gateway", ExpireTime: time.Hour})
	foreign, err := other.GenerateToken("admin", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.Error(t, err)

	wrongIssuer := NewJWTService(config.JWTConfig{Secret: "test-secret", Issuer: "someone", ExpireTime: time.Hour})
	token, err := wrongIssuer.GenerateToken("admin", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)

	_, err = svc.ValidateToken("")
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(time.Hour)
	token, err := svc.GenerateToken("admin", nil)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/p", svc.AuthMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, GetOperator(c))
	})

	tests := []struct {
		name   string
		header string
		query  string
		code   int
	}{
		{"bearer", "Bearer " + token, "", http.StatusOK},
		{"query token", "", "?token=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"bad scheme", "Basic abc", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "admin", w.Body.String())
			}
		})
	}
}

func TestOptionalAuth_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", newTestService(time.Hour).OptionalAuth(false), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

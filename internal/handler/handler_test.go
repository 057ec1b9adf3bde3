package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"msg-gateway/config"
	"msg-gateway/internal/model"
	"msg-gateway/internal/provider"
	"msg-gateway/internal/repository"
	"msg-gateway/internal/service"
	"msg-gateway/pkg/jwt"
	"msg-gateway/pkg/password"
	"msg-gateway/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type testEnv struct {
	router   *gin.Engine
	repo     *repository.MessageRepository
	jwt      *jwt.JWTService
	sidSeq   int64
	twilioOK atomic.Bool
}

type envOptions struct {
	authEnabled    bool
	validateSig    bool
	telegramSecret string
	redis          bool
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Message{}))
	return db
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{}
	env.twilioOK.Store(true)

	twilioServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !env.twilioOK.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
			return
		}
		_ = r.ParseForm()
		sid := fmt.Sprintf("SM%04d", atomic.AddInt64(&env.sidSeq, 1))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sid":        sid,
			"status":     "queued",
			"from":       r.PostForm.Get("From"),
			"price":      nil,
			"price_unit": "USD",
		})
	}))
	t.Cleanup(twilioServer.Close)

	telegramServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":321,"chat":{"id":555}}}`))
	}))
	t.Cleanup(telegramServer.Close)

	twilioCfg := config.TwilioConfig{
		AccountSID:        "AC1",
		AuthToken:         "twilio-token",
		BaseURL:           twilioServer.URL,
		SMSFrom:           "+15550000000",
		WhatsAppFrom:      "whatsapp:+15550000000",
		MessengerFrom:     "messenger:page",
		ValidateSignature: opts.validateSig,
		WebhookBaseURL:    "https://gw.test",
	}
	telegramCfg := config.TelegramConfig{BotToken: "BOT", APIURL: telegramServer.URL, WebhookSecret: opts.telegramSecret}

	twilio := provider.NewTwilioClient(provider.TwilioConfig{
		AccountSID: twilioCfg.AccountSID,
		AuthToken:  twilioCfg.AuthToken,
		BaseURL:    twilioCfg.BaseURL,
	}, twilioServer.Client())
	senders := map[model.Platform]provider.Sender{
		model.PlatformSMS:       twilio.Sender(twilioCfg.SMSFrom),
		model.PlatformWhatsApp:  twilio.Sender(twilioCfg.WhatsAppFrom),
		model.PlatformMessenger: twilio.Sender(twilioCfg.MessengerFrom),
		model.PlatformTelegram:  provider.NewTelegramClient(provider.TelegramConfig{BotToken: telegramCfg.BotToken, APIURL: telegramCfg.APIURL}, telegramServer.Client()),
	}

	env.repo = repository.NewMessageRepository(newTestDB(t))

	var statsClient *goredis.Client
	if opts.redis {
		mr := miniredis.RunT(t)
		statsClient = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = statsClient.Close() })
	}
	stats := redis.NewMessageStats(statsClient)

	env.jwt = jwt.NewJWTService(config.JWTConfig{Secret: "test", Issuer: "msg-gateway", ExpireTime: time.Hour})
	hash, err := password.Hash("pw")
	require.NoError(t, err)
	authSvc := service.NewAuthService([]config.OperatorConfig{{Username: "admin", PasswordHash: hash}}, env.jwt)

	dispatcher := service.NewDispatcher(senders, env.repo, 2*time.Second, stats)
	callbacks := service.NewCallbackService(env.repo, stats)

	env.router = NewRouter(RouterDeps{
		Messages:    NewMessageHandler(dispatcher, service.NewHistoryService(env.repo)),
		Callbacks:   NewCallbackHandler(callbacks, twilioCfg, telegramCfg),
		Auth:        NewAuthHandler(authSvc, env.jwt),
		Stats:       NewStatsHandler(stats),
		JWT:         env.jwt,
		AuthEnabled: opts.authEnabled,
		HealthCheck: func() error { return nil },
	})
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func listMessages(t *testing.T, env *testEnv, query string) []map[string]interface{} {
	t.Helper()
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/messages"+query, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Success  bool                     `json:"success"`
		Messages []map[string]interface{} `json:"messages"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.Equal(t, len(out.Messages), out.Count)
	return out.Messages
}

func TestSend_SMSThenHistory(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/sms", map[string]string{"to": "+15551112222", "message": "hello"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "SMS sent successfully", body["message"])
	assert.Equal(t, "SM0001", body["sid"])
	assert.Equal(t, "queued", body["status"])
	assert.NotNil(t, body["id"])

	messages := listMessages(t, env, "")
	require.Len(t, messages, 1)
	assert.Equal(t, "sms", messages[0]["platform"])
	assert.Equal(t, "outbound", messages[0]["direction"])
	assert.Equal(t, "+15550000000", messages[0]["from_number"])
	assert.Equal(t, "+15551112222", messages[0]["to_number"])
	assert.Equal(t, "hello", messages[0]["message_body"])
}

func TestSend_WhatsAppFormAndTelegram(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, formRequest("/api/v1/messages/whatsapp", url.Values{"to": {"+15551112222"}, "message": {"hola"}}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "WhatsApp message sent successfully", decode(t, w)["message"])

	w = env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/telegram", map[string]string{"to": "555", "message": "<b>hi</b>"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Telegram message sent successfully", body["message"])
	assert.Equal(t, float64(321), body["message_id"])

	wa := listMessages(t, env, "?platform=whatsapp")
	require.Len(t, wa, 1)
	assert.Equal(t, "whatsapp:+15551112222", wa[0]["to_number"])

	tg := listMessages(t, env, "?platform=telegram")
	require.Len(t, tg, 1)
	assert.Equal(t, "bot", tg[0]["from_number"])
	assert.Equal(t, "sent", tg[0]["status"])
	assert.Equal(t, "555:321", tg[0]["message_sid"])
}

func TestShowMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/sms", map[string]string{"to": "+1", "message": "show me"}))
	require.Equal(t, http.StatusOK, w.Code)
	id := decode(t, w)["id"].(float64)

	w = env.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/messages/%d", int(id)), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	msg, ok := decode(t, w)["message"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "show me", msg["message_body"])

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/messages/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/messages/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSend_ValidationFailed(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/sms", map[string]string{"to": "", "message": strings.Repeat("a", 1601)}))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Validation failed", body["message"])
	errs, ok := body["errors"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, errs, "to")
	assert.Contains(t, errs, "message")

	assert.Empty(t, listMessages(t, env, ""))
}

func TestSend_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.twilioOK.Store(false)

	w := env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/sms", map[string]string{"to": "123", "message": "hi"}))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Failed to send SMS: Invalid 'To' Phone Number", body["message"])
	assert.Equal(t, "21211", body["error_code"])

	messages := listMessages(t, env, "")
	require.Len(t, messages, 1)
	assert.Equal(t, "failed", messages[0]["status"])
	assert.Equal(t, "21211", messages[0]["error_code"])
}

func TestAuth_RequiredWhenEnabled(t *testing.T) {
	env := newTestEnv(t, envOptions{authEnabled: true})

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "bad"}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "pw"}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, float64(3600), body["expires_in"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = env.do(t, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// 回调接口始终公开
	w = env.do(t, formRequest("/api/v1/callback/sms", url.Values{"MessageSid": {"SMx"}, "From": {"+1"}, "Body": {"hi"}}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallback_StatusLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/whatsapp", map[string]string{"to": "+15551112222", "message": "hello"}))
	require.Equal(t, http.StatusOK, w.Code)
	sid := decode(t, w)["sid"].(string)

	w = env.do(t, formRequest("/api/v1/callback/whatsapp", url.Values{
		"MessageSid":    {sid},
		"MessageStatus": {"read"},
		"From":          {"whatsapp:+15550000000"},
		"To":            {"whatsapp:+15551112222"},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "status_update", body["type"])
	assert.Equal(t, true, body["matched"])

	// 迟到的delivered不回退状态
	w = env.do(t, formRequest("/api/v1/webhook/twilio", url.Values{"MessageSid": {sid}, "MessageStatus": {"delivered"}}))
	require.Equal(t, http.StatusOK, w.Code)

	messages := listMessages(t, env, "")
	require.Len(t, messages, 1)
	assert.Equal(t, "read", messages[0]["status"])
	assert.NotNil(t, messages[0]["delivered_at"])
	assert.NotNil(t, messages[0]["read_at"])
}

func TestCallback_UnknownSIDAcknowledged(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, formRequest("/api/v1/callback/twilio", url.Values{"SmsSid": {"SMnope"}, "MessageStatus": {"delivered"}}))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "status_update", body["type"])
	assert.Equal(t, false, body["matched"])
	assert.Empty(t, listMessages(t, env, ""))
}

func TestCallback_InboundMediaJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	payload := map[string]interface{}{
		"MessageSid":        "MMin",
		"From":              "messenger:1234",
		"To":                "messenger:page",
		"Body":              "",
		"NumMedia":          1,
		"MediaUrl0":         "https://api.twilio.com/media/0",
		"MediaContentType0": "image/jpeg",
	}
	w := env.do(t, jsonRequest(http.MethodPost, "/api/v1/callback/twilio", payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "inbound_message", body["type"])
	assert.Equal(t, "messenger", body["platform"])

	messages := listMessages(t, env, "?direction=inbound")
	require.Len(t, messages, 1)
	assert.Equal(t, "[Media message]", messages[0]["message_body"])
	assert.Equal(t, "received", messages[0]["status"])
	meta, ok := messages[0]["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), meta["num_media"])
	urls, ok := meta["media_urls"].([]interface{})
	require.True(t, ok)
	require.Len(t, urls, 1)

	// 重复投递
	w = env.do(t, jsonRequest(http.MethodPost, "/api/v1/callback/twilio", payload))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["duplicate"])
	assert.Len(t, listMessages(t, env, ""), 1)
}

func TestCallback_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/callback/twilio", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "invalid callback payload")
	assert.Empty(t, listMessages(t, env, ""))
}

func TestTelegramWebhook_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/telegram", strings.NewReader("{not json"))
	w := env.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["error"])
}

func TestCallback_TwilioSignature(t *testing.T) {
	env := newTestEnv(t, envOptions{validateSig: true})
	form := url.Values{"MessageSid": {"SMsig"}, "From": {"+1555"}, "To": {"+1666"}, "Body": {"signed"}}

	w := env.do(t, formRequest("/api/v1/callback/sms", form))
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := formRequest("/api/v1/callback/sms", form)
	req.Header.Set(provider.TwilioSignatureHeader, provider.TwilioSignature("twilio-token", "https://gw.test/api/v1/callback/sms", form))
	w = env.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, listMessages(t, env, ""), 1)
}

func TestTelegramWebhook(t *testing.T) {
	env := newTestEnv(t, envOptions{telegramSecret: "s3"})
	update := `{"update_id":10,"message":{"message_id":42,"from":{"id":900},"chat":{"id":900},"text":"hey bot"}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/telegram", strings.NewReader(update))
	w := env.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["ok"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhook/telegram", strings.NewReader(update))
	req.Header.Set(TelegramSecretHeader, "s3")
	w = env.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["ok"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhook/telegram", strings.NewReader(`{"update_id":11}`))
	req.Header.Set(TelegramSecretHeader, "s3")
	w = env.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)

	messages := listMessages(t, env, "?platform=telegram&direction=inbound")
	require.Len(t, messages, 1)
	assert.Equal(t, "900", messages[0]["from_number"])
	assert.Equal(t, "bot", messages[0]["to_number"])
	assert.Equal(t, "900:42", messages[0]["message_sid"])
	assert.Equal(t, "hey bot", messages[0]["message_body"])
}

func TestHistory_FiltersAndLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for i := 0; i < 3; i++ {
		w := env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/sms", map[string]string{"to": "+1", "message": fmt.Sprintf("m%d", i)}))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(t, formRequest("/api/v1/callback/sms", url.Values{"MessageSid": {"SMin"}, "From": {"+1"}, "To": {"+2"}, "Body": {"inbound"}}))
	require.Equal(t, http.StatusOK, w.Code)

	all := listMessages(t, env, "")
	require.Len(t, all, 4)
	assert.Equal(t, "inbound", all[0]["message_body"])

	assert.Len(t, listMessages(t, env, "?direction=outbound"), 3)
	assert.Len(t, listMessages(t, env, "?direction=bogus"), 4)
	assert.Len(t, listMessages(t, env, "?limit=2"), 2)
	assert.Len(t, listMessages(t, env, "?limit=abc"), 4)
	assert.Empty(t, listMessages(t, env, "?platform=pager"))

	newest := listMessages(t, env, "?direction=outbound&limit=1")
	require.Len(t, newest, 1)
	assert.Equal(t, "m2", newest[0]["message_body"])
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env = newTestEnv(t, envOptions{redis: true})
	w = env.do(t, jsonRequest(http.MethodPost, "/api/v1/messages/sms", map[string]string{"to": "+1", "message": "x"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Success bool                        `json:"success"`
		Stats   map[string]map[string]int64 `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, int64(1), out.Stats["sms:outbound"]["outbound_sent"])
	assert.Equal(t, int64(1), out.Stats["sms:outbound"]["status:queued"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

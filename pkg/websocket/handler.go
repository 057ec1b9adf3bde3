package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"msg-gateway/config"
	"msg-gateway/pkg/jwt"
	"msg-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// NewHandler 看板实时推送入口，认证由路由上的JWT中间件完成
func NewHandler(manager *Manager, wsCfg config.WebSocketConfig) gin.HandlerFunc {
	if wsCfg.PingInterval <= 0 {
		wsCfg.PingInterval = 30 * time.Second
	}
	if wsCfg.ReadTimeout <= 0 {
		wsCfg.ReadTimeout = 90 * time.Second
	}

	return func(c *gin.Context) {
		// 回显子协议，避免客户端提示 "Server sent no subprotocol"
		respHeader := http.Header{}
		if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
			respHeader.Set("Sec-WebSocket-Protocol", protocol)
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
		if err != nil {
			logger.Warn("WebSocket升级失败", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.NewString(),
			Operator: jwt.GetOperator(c),
			Conn:     conn,
			Send:     make(chan []byte, 256),
		}
		manager.AddClient(client)
		logger.Info("看板连接建立", zap.String("client_id", client.ID), zap.String("operator", client.Operator))

		defer func() {
			manager.RemoveClient(client.ID)
			_ = conn.Close()
			logger.Info("看板连接关闭", zap.String("client_id", client.ID))
		}()

		// 启动写协程 + 定时发送ping心跳
		go writePump(client, wsCfg.PingInterval)

		// 读协程（接收心跳）。若超时未收到任何读事件则断开
		_ = conn.SetReadDeadline(time.Now().Add(wsCfg.ReadTimeout))
		conn.SetPongHandler(func(appData string) error {
			return conn.SetReadDeadline(time.Now().Add(wsCfg.ReadTimeout))
		})
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsCfg.ReadTimeout))

			var msg map[string]interface{}
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			if t, ok := msg["type"].(string); ok && t == "heartbeat" {
				if b, e := json.Marshal(map[string]interface{}{"type": "heartbeat_ack", "timestamp": time.Now().Unix()}); e == nil {
					select {
					case client.Send <- b:
					default:
					}
				}
			}
		}
	}
}

// writePump 发送队列中的消息并定时ping，Send关闭后退出
func writePump(client *Client, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				_ = client.Conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = client.Conn.Close()
				return
			}
		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				_ = client.Conn.Close()
				return
			}
		}
	}
}

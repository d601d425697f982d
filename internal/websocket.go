package internal

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把「一個客戶端一條長連接」變成 Relay 可以定址的連接 ID？
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（服務器推送）
//   ✅ Hub 模式 - connID → Connection，實作 Transport
//   ✅ Ping/Pong 心跳 - 檢測死連接
//   ✅ 緩衝 channel - 非阻塞發送，Relay 持鎖時也不會被慢客戶端卡住
//
// 斷線（讀取失敗、心跳逾時、Stop）一律走 readPump 結束的路徑，
// 保證每個連接只觸發一次 Dispatcher.Disconnect。

// Dispatcher 處理入站訊息與斷線（由 Relay 實作）
type Dispatcher interface {
	HandleMessage(ctx context.Context, connID string, raw []byte) error
	Disconnect(ctx context.Context, connID string) error
}

// WebSocketHub WebSocket 連接中心
type WebSocketHub struct {
	cfg         WebSocketConfig
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	dispatcher  Dispatcher
	connections map[string]*Connection // connID -> Connection
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// Connection WebSocket 連接
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	LastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(cfg WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *WebSocketHub {
	origins := NewOriginPolicy(allowedOrigins)
	return &WebSocketHub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     origins.Allowed,
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		connections: make(map[string]*Connection),
	}
}

// Handle 設定訊息處理者，必須在開始服務前呼叫
func (hub *WebSocketHub) Handle(d Dispatcher) {
	hub.dispatcher = d
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if hub.dispatcher == nil {
		http.Error(w, "relay not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	connection := &Connection{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, hub.cfg.SendBuffer),
		Hub:      hub,
		LastPing: time.Now(),
	}
	if hub.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(hub.cfg.MaxMessageSize)
	}

	hub.register(connection)

	hub.wg.Add(2)
	go func() {
		defer hub.wg.Done()
		connection.writePump()
	}()
	go func() {
		defer hub.wg.Done()
		connection.readPump()
	}()

	hub.logger.Info("WebSocket 連接建立",
		"conn_id", connection.ID,
		"remote_addr", r.RemoteAddr)
}

// register 註冊連接
func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[conn.ID] = conn
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[conn.ID]; exists && actual == conn {
		delete(hub.connections, conn.ID)
	}
	conn.closeSend()
}

// Send 發送事件給單一連接（非阻塞）
func (hub *WebSocketHub) Send(connID, event string, data any) error {
	message, err := EncodeOutbound(event, data)
	if err != nil {
		return err
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	conn, exists := hub.connections[connID]
	if !exists {
		return ErrConnectionGone
	}

	select {
	case conn.Send <- message:
		return nil
	default:
		hub.logger.Warn("連接緩衝區滿", "conn_id", connID, "event", event)
		return ErrSendBufferFull
	}
}

// Broadcast 發送事件給所有連接
func (hub *WebSocketHub) Broadcast(event string, data any) int {
	message, err := EncodeOutbound(event, data)
	if err != nil {
		hub.logger.Error("序列化廣播失敗", "event", event, "error", err)
		return 0
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	delivered := 0
	for id, conn := range hub.connections {
		select {
		case conn.Send <- message:
			delivered++
		default:
			hub.logger.Warn("連接緩衝區滿", "conn_id", id, "event", event)
		}
	}
	return delivered
}

// IsActive 連接是否仍註冊在 Hub
func (hub *WebSocketHub) IsActive(connID string) bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	_, exists := hub.connections[connID]
	return exists
}

// ConnectionCount 獲取連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 關閉所有連接並等待讀寫 goroutine 結束
func (hub *WebSocketHub) Stop(timeout time.Duration) error {
	// 先從 map 移除再關閉 channel，Send 不會寫入已關閉的 channel
	hub.mu.Lock()
	for _, conn := range hub.connections {
		conn.closeSend()
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.mu.Unlock()

	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		hub.logger.Info("WebSocket Hub 已停止")
		return nil
	case <-time.After(timeout):
		hub.logger.Warn("WebSocket Hub 停止逾時，部分連接仍在關閉中")
		return context.DeadlineExceeded
	}
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// readPump 讀取客戶端消息
//
// 心跳：PongWait 內沒有收到任何訊息（包括 Pong）就關閉連接；
// writePump 每 PingPeriod 發一次 Ping，PingPeriod < PongWait。
func (c *Connection) readPump() {
	hub := c.Hub
	ctx := WithConnID(context.Background(), c.ID)

	defer func() {
		hub.unregister(c)
		c.Conn.Close()
		if err := hub.dispatcher.Disconnect(ctx, c.ID); err != nil {
			hub.logger.WarnContext(ctx, "處理斷線失敗", "error", err)
		}
		hub.logger.InfoContext(ctx, "WebSocket 連接關閉")
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait)); err != nil {
		hub.logger.ErrorContext(ctx, "設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait)); err != nil {
			hub.logger.ErrorContext(ctx, "設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				hub.logger.ErrorContext(ctx, "WebSocket 讀取錯誤", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			hub.logger.DebugContext(ctx, "忽略非文字訊息", "type", messageType)
			continue
		}
		// 錯誤已由 Relay 回覆給客戶端
		_ = hub.dispatcher.HandleMessage(ctx, c.ID, message)
	}
}

// writePump 寫入消息到客戶端
//
// 一次寫入時順便送出 channel 中已排隊的訊息，每則訊息各佔一個 frame。
func (c *Connection) writePump() {
	hub := c.Hub
	ticker := time.NewTicker(hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(hub.cfg.WriteWait)); err != nil {
				hub.logger.Error("設置寫入期限失敗", "conn_id", c.ID, "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出關閉訊息（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.Send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					hub.logger.Error("發送消息失敗", "conn_id", c.ID, "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(hub.cfg.WriteWait)); err != nil {
				hub.logger.Error("設置寫入期限失敗", "conn_id", c.ID, "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

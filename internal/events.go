package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// 房間生命週期事件類型
const (
	LifecycleRoomCreated   = "room.created"
	LifecycleRoomJoined    = "room.joined"
	LifecycleRoomLeft      = "room.left"
	LifecycleRoomDestroyed = "room.destroyed"
)

// LifecycleEvent 房間生命週期事件
//
// 只供外部觀察（稽核、監控），不參與任何狀態同步。
type LifecycleEvent struct {
	Type         string    `json:"type"`
	RoomID       string    `json:"room_id"`
	ConnectionID string    `json:"connection_id"`
	Members      []string  `json:"members"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher 生命週期事件發布者
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
	Close() error
}

// NopPublisher 不發布任何事件（未設定 NATS 時使用）
type NopPublisher struct{}

// Publish 丟棄事件
func (NopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }

// Close 無動作
func (NopPublisher) Close() error { return nil }

// NATSPublisher 透過 Core NATS 發布事件
//
// Subject 命名：{prefix}.{roomID}.{type}，例如 relay.rooms.a1b2c.room.created。
// 同一房間的事件落在同一個 subject 前綴，訂閱端可用 {prefix}.{roomID}.> 追蹤單一房間。
//
// 使用 Core NATS 而非 JetStream：事件是 best-effort 的觀察資料，不需要持久化。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher 連接 NATS 並創建發布者
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("location-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return NewNATSPublisherWithConn(conn, prefix), nil
}

// NewNATSPublisherWithConn 以既有連線創建發布者
func NewNATSPublisherWithConn(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "relay.rooms"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject 回傳事件對應的 subject
func (p *NATSPublisher) Subject(event LifecycleEvent) string {
	return p.prefix + "." + event.RoomID + "." + event.Type
}

// Publish 發布事件
func (p *NATSPublisher) Publish(ctx context.Context, event LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("發布事件失敗: %w", err)
	}
	return nil
}

// Close 先 flush 再關閉連線
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS 連線失敗: %w", err)
	}
	return nil
}

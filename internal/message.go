package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// 入站事件名稱（沿用客戶端既有的事件名）
const (
	EventCreateRoom     = "createRoom"
	EventJoinRoom       = "joinRoom"
	EventUpdateLocation = "updateLocation"
)

// 出站事件名稱
const (
	EventRoomCreated          = "roomCreated"
	EventRoomJoined           = "roomJoined"
	EventUserJoinedRoom       = "userJoinedRoom"
	EventUserLeftRoom         = "userLeftRoom"
	EventRoomDestroyed        = "roomDestroyed"
	EventUpdateLocationObject = "updateLocationObject"
	EventError                = "error"
)

// 狀態值
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Envelope 線上傳輸格式
//
//	{"event": "joinRoom", "data": {"roomId": "a1b2c"}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outboundEnvelope 出站格式，Data 直接序列化
type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// InboundKind 入站訊息種類
//
// 斷線不是訊息，由傳輸層呼叫 Relay.Disconnect。
type InboundKind int

const (
	KindCreateRoom InboundKind = iota + 1
	KindJoinRoom
	KindUpdateLocation
)

// String 回傳事件名稱
func (k InboundKind) String() string {
	switch k {
	case KindCreateRoom:
		return EventCreateRoom
	case KindJoinRoom:
		return EventJoinRoom
	case KindUpdateLocation:
		return EventUpdateLocation
	default:
		return fmt.Sprintf("InboundKind(%d)", int(k))
	}
}

// Inbound 入站訊息（tagged union）
//
// 依 Kind 只有一個欄位有值。
type Inbound struct {
	Kind       InboundKind
	CreateRoom *CreateRoomRequest
	JoinRoom   *JoinRoomRequest
	Location   json.RawMessage
}

// CreateRoomRequest createRoom 的內容
type CreateRoomRequest struct {
	Position json.RawMessage `json:"position"`
}

// JoinRoomRequest joinRoom 的內容
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

// RoomCreated roomCreated 回應
type RoomCreated struct {
	RoomID              string          `json:"roomId"`
	Position            json.RawMessage `json:"position"`
	TotalConnectedUsers []string        `json:"totalConnectedUsers"`
}

// RoomJoined roomJoined 回應
type RoomJoined struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// MembershipChanged userJoinedRoom / userLeftRoom 通知
type MembershipChanged struct {
	UserID              string   `json:"user_id"`
	TotalConnectedUsers []string `json:"total_connected_users"`
}

// RoomDestroyed roomDestroyed 通知
type RoomDestroyed struct {
	Status string `json:"status"`
}

// ErrorNotice error 事件
type ErrorNotice struct {
	Status  string `json:"status"`
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeInbound 解析並驗證入站訊息
//
// 欄位形狀不再隱式信任：格式不符一律回傳 INVALID_PAYLOAD。
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, WrapAppError(err, ErrCodeInvalidPayload, "malformed envelope")
	}

	switch env.Event {
	case EventCreateRoom:
		var req CreateRoomRequest
		if err := decodeObject(env.Data, &req); err != nil {
			return Inbound{}, err
		}
		if isNull(req.Position) {
			return Inbound{}, NewAppError(ErrCodeInvalidPayload, "position is required")
		}
		return Inbound{Kind: KindCreateRoom, CreateRoom: &req}, nil

	case EventJoinRoom:
		var req JoinRoomRequest
		if err := decodeObject(env.Data, &req); err != nil {
			return Inbound{}, err
		}
		req.RoomID = strings.TrimSpace(req.RoomID)
		if req.RoomID == "" {
			return Inbound{}, NewAppError(ErrCodeInvalidPayload, "roomId is required")
		}
		return Inbound{Kind: KindJoinRoom, JoinRoom: &req}, nil

	case EventUpdateLocation:
		// 任意內容，原樣轉發
		data := env.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		return Inbound{Kind: KindUpdateLocation, Location: data}, nil

	case "":
		return Inbound{}, NewAppError(ErrCodeInvalidPayload, "event is required")

	default:
		return Inbound{}, NewAppError(ErrCodeUnknownEvent, fmt.Sprintf("unknown event %q", env.Event))
	}
}

// decodeObject 要求 data 為 JSON 物件
func decodeObject(data json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return NewAppError(ErrCodeInvalidPayload, "data must be an object")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return WrapAppError(err, ErrCodeInvalidPayload, "invalid data")
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// EncodeOutbound 序列化出站訊息
func EncodeOutbound(event string, data any) ([]byte, error) {
	b, err := json.Marshal(outboundEnvelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return b, nil
}

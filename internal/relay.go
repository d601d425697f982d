package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   多個客戶端共享一個房間，彼此廣播位置，房主離線時房間解散。
//
// 狀態：
//   - Registry：roomID → 成員、roomID → 房主
//   - sessions：connID → roomID（每個連接最多一個房間）
//
// 每個連接的狀態機：
//
//	Unjoined ──createRoom / joinRoom 成功──> InRoom ──斷線──> 結束
//	   ↑                                       │
//	   └────────────── 房間被銷毀 ──────────────┘
//
// 併發：所有事件在 mu 之下處理，「修改註冊表 + 發送通知」是同一個臨界區，
// 避免成員加入與房主斷線銷毀房間交錯。發送是非阻塞的（寫入連接的緩衝 channel），
// 持鎖發送不會被慢客戶端拖住。

// Transport 傳輸層（由 WebSocketHub 實作）
type Transport interface {
	// Send 發送事件給單一連接
	Send(connID, event string, data any) error
	// Broadcast 發送事件給所有連接，回傳成功送達數
	Broadcast(event string, data any) int
	// IsActive 連接是否仍存在
	IsActive(connID string) bool
}

// Relay 房間轉發器
type Relay struct {
	registry  Registry
	transport Transport
	publisher Publisher
	ids       *RoomIDGenerator
	cfg       RelayConfig
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]string // connID -> roomID
}

// NewRelay 創建房間轉發器
func NewRelay(registry Registry, transport Transport, publisher Publisher, cfg RelayConfig, logger *slog.Logger) *Relay {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if cfg.LocationScope == "" {
		cfg.LocationScope = LocationScopeGlobal
	}
	return &Relay{
		registry:  registry,
		transport: transport,
		publisher: publisher,
		ids:       NewRoomIDGenerator(cfg.RoomIDAttempts),
		cfg:       cfg,
		logger:    logger,
		sessions:  make(map[string]string),
	}
}

// HandleMessage 解析原始訊息並分派
//
// 格式錯誤直接以 error 事件回覆發送者。
func (r *Relay) HandleMessage(ctx context.Context, connID string, raw []byte) error {
	in, err := DecodeInbound(raw)
	if err != nil {
		r.logger.WarnContext(ctx, "拒絕格式錯誤的訊息", "error", err)
		r.sendError(ctx, connID, "", err)
		return err
	}
	return r.Dispatch(ctx, connID, in)
}

// Dispatch 依訊息種類執行對應操作
func (r *Relay) Dispatch(ctx context.Context, connID string, in Inbound) error {
	switch {
	case in.Kind == KindCreateRoom && in.CreateRoom != nil:
		_, err := r.CreateRoom(ctx, connID, in.CreateRoom.Position)
		return err
	case in.Kind == KindJoinRoom && in.JoinRoom != nil:
		return r.JoinRoom(ctx, connID, in.JoinRoom.RoomID)
	case in.Kind == KindUpdateLocation:
		_, err := r.UpdateLocation(ctx, connID, in.Location)
		return err
	case in.Kind == KindCreateRoom, in.Kind == KindJoinRoom:
		err := NewAppError(ErrCodeInvalidPayload, fmt.Sprintf("%s without payload", in.Kind))
		r.sendError(ctx, connID, in.Kind.String(), err)
		return err
	default:
		err := NewAppError(ErrCodeUnknownEvent, fmt.Sprintf("unsupported kind %s", in.Kind))
		r.sendError(ctx, connID, "", err)
		return err
	}
}

// CreateRoom 創建房間
//
// 發送者成為唯一成員與房主，只有發送者收到 roomCreated。
func (r *Relay) CreateRoom(ctx context.Context, connID string, position json.RawMessage) (RoomCreated, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[connID]; ok {
		r.logger.InfoContext(ctx, "拒絕重複建立房間", "room_id", current)
		r.sendError(ctx, connID, EventCreateRoom, ErrAlreadyInRoom)
		return RoomCreated{}, ErrAlreadyInRoom
	}

	roomID, err := r.ids.Generate(ctx, r.roomTaken)
	if err != nil {
		r.logger.ErrorContext(ctx, "產生房間 ID 失敗", "error", err)
		r.sendError(ctx, connID, EventCreateRoom, err)
		return RoomCreated{}, err
	}

	if err := r.registry.AddMember(ctx, roomID, connID); err != nil {
		r.logger.ErrorContext(ctx, "加入群組失敗", "room_id", roomID, "error", err)
		r.sendError(ctx, connID, EventCreateRoom, err)
		return RoomCreated{}, err
	}
	if err := r.registry.SetCreator(ctx, roomID, connID); err != nil {
		r.logger.ErrorContext(ctx, "登記房主失敗", "room_id", roomID, "error", err)
		_ = r.registry.RemoveMember(ctx, roomID, connID)
		r.sendError(ctx, connID, EventCreateRoom, err)
		return RoomCreated{}, err
	}
	r.sessions[connID] = roomID

	members, err := r.registry.Members(ctx, roomID)
	if err != nil {
		r.logger.WarnContext(ctx, "讀取成員失敗", "room_id", roomID, "error", err)
		members = []string{connID}
	}

	resp := RoomCreated{
		RoomID:              roomID,
		Position:            position,
		TotalConnectedUsers: members,
	}
	r.send(ctx, connID, EventRoomCreated, resp)
	r.publish(ctx, LifecycleRoomCreated, roomID, connID, members)

	r.logger.InfoContext(ctx, "房間已創建", "room_id", roomID)
	return resp, nil
}

// JoinRoom 加入房間
//
// 房間存在：加入群組、通知房主 userJoinedRoom、回覆發送者 roomJoined OK。
// 房間不存在：回覆 roomJoined ERROR，不修改任何狀態。
func (r *Relay) JoinRoom(ctx context.Context, connID, roomID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[connID]; ok {
		r.logger.InfoContext(ctx, "拒絕加入第二個房間", "room_id", roomID, "current_room_id", current)
		r.send(ctx, connID, EventRoomJoined, RoomJoined{Status: StatusError, Reason: ErrCodeAlreadyInRoom})
		return ErrAlreadyInRoom
	}

	exists, err := r.registry.RoomExists(ctx, roomID)
	if err != nil {
		r.logger.ErrorContext(ctx, "查詢房間失敗", "room_id", roomID, "error", err)
		r.send(ctx, connID, EventRoomJoined, RoomJoined{Status: StatusError, Reason: ErrorCode(err)})
		return err
	}
	if !exists {
		r.logger.InfoContext(ctx, "加入不存在的房間", "room_id", roomID)
		r.send(ctx, connID, EventRoomJoined, RoomJoined{Status: StatusError, Reason: ErrCodeRoomNotFound})
		return ErrRoomNotFound
	}

	if err := r.registry.AddMember(ctx, roomID, connID); err != nil {
		r.logger.ErrorContext(ctx, "加入群組失敗", "room_id", roomID, "error", err)
		r.send(ctx, connID, EventRoomJoined, RoomJoined{Status: StatusError, Reason: ErrorCode(err)})
		return err
	}
	r.sessions[connID] = roomID

	members, err := r.registry.Members(ctx, roomID)
	if err != nil {
		r.logger.WarnContext(ctx, "讀取成員失敗", "room_id", roomID, "error", err)
	}

	// 通知房主（不是加入者本身）
	if creator, ok := r.activeCreator(ctx, roomID); ok {
		r.send(ctx, creator, EventUserJoinedRoom, MembershipChanged{
			UserID:              connID,
			TotalConnectedUsers: members,
		})
	}
	r.send(ctx, connID, EventRoomJoined, RoomJoined{Status: StatusOK})
	r.publish(ctx, LifecycleRoomJoined, roomID, connID, members)

	r.logger.InfoContext(ctx, "玩家加入房間", "room_id", roomID, "members", len(members))
	return nil
}

// UpdateLocation 轉發位置資料，內容不做任何修改
//
// global：送給所有連接（包含發送者）；room：只送發送者所在房間的成員。
// 回傳送達的連接數。
func (r *Relay) UpdateLocation(ctx context.Context, connID string, data json.RawMessage) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.LocationScope != LocationScopeRoom {
		return r.transport.Broadcast(EventUpdateLocationObject, data), nil
	}

	roomID, ok := r.sessions[connID]
	if !ok {
		r.sendError(ctx, connID, EventUpdateLocation, ErrNotInRoom)
		return 0, ErrNotInRoom
	}
	members, err := r.registry.Members(ctx, roomID)
	if err != nil {
		r.logger.ErrorContext(ctx, "讀取成員失敗", "room_id", roomID, "error", err)
		return 0, err
	}

	delivered := 0
	for _, member := range members {
		if err := r.transport.Send(member, EventUpdateLocationObject, data); err == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Disconnect 處理斷線
//
// 未加入房間：不做任何事。
// 房主：通知剩餘成員 roomDestroyed 後銷毀房間。
// 一般成員：離開群組並通知房主 userLeftRoom。
func (r *Relay) Disconnect(ctx context.Context, connID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.sessions[connID]
	if !ok {
		return nil
	}
	delete(r.sessions, connID)

	creator, hasCreator, err := r.registry.Creator(ctx, roomID)
	if err != nil {
		r.logger.ErrorContext(ctx, "查詢房主失敗", "room_id", roomID, "error", err)
		// 至少把自己移出群組
		_ = r.registry.RemoveMember(ctx, roomID, connID)
		return err
	}

	if hasCreator && creator == connID {
		return r.destroyRoom(ctx, roomID, connID)
	}

	if err := r.registry.RemoveMember(ctx, roomID, connID); err != nil {
		r.logger.ErrorContext(ctx, "離開群組失敗", "room_id", roomID, "error", err)
		return err
	}
	members, err := r.registry.Members(ctx, roomID)
	if err != nil {
		r.logger.WarnContext(ctx, "讀取成員失敗", "room_id", roomID, "error", err)
	}

	if creator, ok := r.activeCreator(ctx, roomID); ok {
		r.send(ctx, creator, EventUserLeftRoom, MembershipChanged{
			UserID:              connID,
			TotalConnectedUsers: members,
		})
	}
	r.publish(ctx, LifecycleRoomLeft, roomID, connID, members)

	r.logger.InfoContext(ctx, "玩家離開房間", "room_id", roomID, "members", len(members))
	return nil
}

// destroyRoom 房主離線，銷毀房間（呼叫者持有 mu）
func (r *Relay) destroyRoom(ctx context.Context, roomID, creator string) error {
	// 房主先離開群組，剩下的才是要通知的成員
	if err := r.registry.RemoveMember(ctx, roomID, creator); err != nil {
		r.logger.WarnContext(ctx, "房主離開群組失敗", "room_id", roomID, "error", err)
	}

	members, err := r.registry.Members(ctx, roomID)
	if err != nil {
		r.logger.WarnContext(ctx, "讀取成員失敗", "room_id", roomID, "error", err)
	}

	for _, member := range members {
		r.send(ctx, member, EventRoomDestroyed, RoomDestroyed{Status: StatusOK})
		// 前成員回到未加入狀態，可以再建立或加入其他房間
		if r.sessions[member] == roomID {
			delete(r.sessions, member)
		}
	}

	if err := r.registry.DeleteRoom(ctx, roomID); err != nil {
		r.logger.ErrorContext(ctx, "刪除房間失敗", "room_id", roomID, "error", err)
		return err
	}
	r.publish(ctx, LifecycleRoomDestroyed, roomID, creator, members)

	r.logger.InfoContext(ctx, "房間已銷毀", "room_id", roomID, "notified", len(members))
	return nil
}

// RoomOf 回傳連接目前所在的房間
func (r *Relay) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.sessions[connID]
	return roomID, ok
}

// Rooms 列出房間摘要
func (r *Relay) Rooms(ctx context.Context) ([]RoomSummary, error) {
	return r.registry.Rooms(ctx)
}

// RoomDetail 單一房間詳情
type RoomDetail struct {
	RoomID    string   `json:"room_id"`
	CreatorID string   `json:"creator_id"`
	Members   []string `json:"members"`
}

// Room 查詢單一房間
func (r *Relay) Room(ctx context.Context, roomID string) (RoomDetail, error) {
	creator, ok, err := r.registry.Creator(ctx, roomID)
	if err != nil {
		return RoomDetail{}, err
	}
	if !ok {
		return RoomDetail{}, ErrRoomNotFound
	}
	members, err := r.registry.Members(ctx, roomID)
	if err != nil {
		return RoomDetail{}, err
	}
	return RoomDetail{RoomID: roomID, CreatorID: creator, Members: members}, nil
}

// Stats 統計資訊
func (r *Relay) Stats(ctx context.Context) (map[string]any, error) {
	rooms, err := r.registry.Rooms(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	sessions := len(r.sessions)
	r.mu.Unlock()

	members := 0
	for _, room := range rooms {
		members += room.Members
	}

	return map[string]any{
		"total_rooms":    len(rooms),
		"total_members":  members,
		"joined_clients": sessions,
		"location_scope": r.cfg.LocationScope,
	}, nil
}

// roomTaken 房間 ID 是否已被群組或房主表使用
func (r *Relay) roomTaken(ctx context.Context, roomID string) (bool, error) {
	exists, err := r.registry.RoomExists(ctx, roomID)
	if err != nil || exists {
		return exists, err
	}
	_, ok, err := r.registry.Creator(ctx, roomID)
	return ok, err
}

// activeCreator 房主仍在線才回傳
func (r *Relay) activeCreator(ctx context.Context, roomID string) (string, bool) {
	creator, ok, err := r.registry.Creator(ctx, roomID)
	if err != nil {
		r.logger.WarnContext(ctx, "查詢房主失敗", "room_id", roomID, "error", err)
		return "", false
	}
	if !ok || !r.transport.IsActive(creator) {
		return "", false
	}
	return creator, true
}

func (r *Relay) send(ctx context.Context, connID, event string, data any) {
	if err := r.transport.Send(connID, event, data); err != nil {
		r.logger.WarnContext(ctx, "發送事件失敗",
			"target", connID,
			"event", event,
			"error", err)
	}
}

func (r *Relay) sendError(ctx context.Context, connID, event string, err error) {
	notice := ErrorNotice{
		Status:  StatusError,
		Event:   event,
		Code:    ErrorCode(err),
		Message: err.Error(),
	}
	r.send(ctx, connID, EventError, notice)
}

func (r *Relay) publish(ctx context.Context, eventType, roomID, connID string, members []string) {
	event := LifecycleEvent{
		Type:         eventType,
		RoomID:       roomID,
		ConnectionID: connID,
		Members:      members,
		Timestamp:    time.Now(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "發布生命週期事件失敗",
			"type", eventType,
			"room_id", roomID,
			"error", err)
	}
}

func (r *Relay) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.OperationTimeout)
}

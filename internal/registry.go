package internal

import (
	"context"
	"sort"
	"sync"
)

// Registry 房間註冊表
//
// 同時承擔兩張表：
//   - 群組成員：roomID → 成員連接 ID（依加入順序）
//   - 房主：roomID → 房主連接 ID
//
// 房間「存在」的定義是群組中仍有成員。房主表只在房間銷毀時刪除，
// 一般成員離開不會動到它。
//
// 實作必須併發安全；Relay 另外以自己的鎖保證「修改 + 通知」原子性。
type Registry interface {
	AddMember(ctx context.Context, roomID, connID string) error
	RemoveMember(ctx context.Context, roomID, connID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
	RoomExists(ctx context.Context, roomID string) (bool, error)
	SetCreator(ctx context.Context, roomID, connID string) error
	Creator(ctx context.Context, roomID string) (string, bool, error)
	DeleteRoom(ctx context.Context, roomID string) error
	Rooms(ctx context.Context) ([]RoomSummary, error)
	Close() error
}

// RoomSummary 房間摘要（HTTP 查詢用）
type RoomSummary struct {
	RoomID    string `json:"room_id"`
	CreatorID string `json:"creator_id"`
	Members   int    `json:"members"`
}

// MemoryRegistry 行程內註冊表
//
// 成員以 slice 保存，房間人數很少，線性刪除足夠。
type MemoryRegistry struct {
	mu       sync.RWMutex
	groups   map[string][]string // roomID -> 成員（加入順序）
	creators map[string]string   // roomID -> 房主
}

// NewMemoryRegistry 創建行程內註冊表
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		groups:   make(map[string][]string),
		creators: make(map[string]string),
	}
}

// AddMember 加入群組（重複加入不會產生重複成員）
func (r *MemoryRegistry) AddMember(_ context.Context, roomID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.groups[roomID] {
		if id == connID {
			return nil
		}
	}
	r.groups[roomID] = append(r.groups[roomID], connID)
	return nil
}

// RemoveMember 離開群組，群組清空時一併移除
func (r *MemoryRegistry) RemoveMember(_ context.Context, roomID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.groups[roomID]
	for i, id := range members {
		if id == connID {
			members = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(r.groups, roomID)
		return nil
	}
	r.groups[roomID] = members
	return nil
}

// Members 回傳成員副本
func (r *MemoryRegistry) Members(_ context.Context, roomID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[roomID]
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

// RoomExists 群組是否仍有成員
func (r *MemoryRegistry) RoomExists(_ context.Context, roomID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[roomID]) > 0, nil
}

// SetCreator 登記房主
func (r *MemoryRegistry) SetCreator(_ context.Context, roomID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[roomID] = connID
	return nil
}

// Creator 查詢房主
func (r *MemoryRegistry) Creator(_ context.Context, roomID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.creators[roomID]
	return id, ok, nil
}

// DeleteRoom 移除群組與房主登記
func (r *MemoryRegistry) DeleteRoom(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, roomID)
	delete(r.creators, roomID)
	return nil
}

// Rooms 列出所有有房主的房間（依 roomID 排序）
func (r *MemoryRegistry) Rooms(_ context.Context) ([]RoomSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]RoomSummary, 0, len(r.creators))
	for roomID, creator := range r.creators {
		rooms = append(rooms, RoomSummary{
			RoomID:    roomID,
			CreatorID: creator,
			Members:   len(r.groups[roomID]),
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomID < rooms[j].RoomID })
	return rooms, nil
}

// Close 無資源需要釋放
func (r *MemoryRegistry) Close() error {
	return nil
}

package internal

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry 以 Redis 保存註冊表
//
// Key 佈局：
//   - {prefix}room:{roomID}:members  ZSET，score 為加入序號（保留加入順序）
//   - {prefix}creators               HASH，roomID → 房主
//   - {prefix}seq                    加入序號計數器
//
// 連接本身只存在於單一行程，這裡只是把狀態放在行程外，方便觀察與重啟後清理；
// 不做跨行程同步。
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry 創建 Redis 註冊表
func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "relay:"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) membersKey(roomID string) string {
	return r.prefix + "room:" + roomID + ":members"
}

func (r *RedisRegistry) creatorsKey() string {
	return r.prefix + "creators"
}

func (r *RedisRegistry) seqKey() string {
	return r.prefix + "seq"
}

// AddMember 加入群組；已是成員時保留原本的順序
func (r *RedisRegistry) AddMember(ctx context.Context, roomID, connID string) error {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return WrapAppError(err, ErrCodeRegistry, "allocate join sequence")
	}
	err = r.client.ZAddNX(ctx, r.membersKey(roomID), redis.Z{
		Score:  float64(seq),
		Member: connID,
	}).Err()
	if err != nil {
		return WrapAppError(err, ErrCodeRegistry, "add member")
	}
	return nil
}

// RemoveMember 離開群組；ZSET 清空時 Redis 會自動刪除 key
func (r *RedisRegistry) RemoveMember(ctx context.Context, roomID, connID string) error {
	if err := r.client.ZRem(ctx, r.membersKey(roomID), connID).Err(); err != nil {
		return WrapAppError(err, ErrCodeRegistry, "remove member")
	}
	return nil
}

// Members 依加入順序回傳成員
func (r *RedisRegistry) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := r.client.ZRange(ctx, r.membersKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, WrapAppError(err, ErrCodeRegistry, "list members")
	}
	return members, nil
}

// RoomExists 群組是否仍有成員
func (r *RedisRegistry) RoomExists(ctx context.Context, roomID string) (bool, error) {
	n, err := r.client.ZCard(ctx, r.membersKey(roomID)).Result()
	if err != nil {
		return false, WrapAppError(err, ErrCodeRegistry, "check room")
	}
	return n > 0, nil
}

// SetCreator 登記房主
func (r *RedisRegistry) SetCreator(ctx context.Context, roomID, connID string) error {
	if err := r.client.HSet(ctx, r.creatorsKey(), roomID, connID).Err(); err != nil {
		return WrapAppError(err, ErrCodeRegistry, "set creator")
	}
	return nil
}

// Creator 查詢房主
func (r *RedisRegistry) Creator(ctx context.Context, roomID string) (string, bool, error) {
	id, err := r.client.HGet(ctx, r.creatorsKey(), roomID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, WrapAppError(err, ErrCodeRegistry, "get creator")
	}
	return id, true, nil
}

// DeleteRoom 在同一個 MULTI 內刪除群組與房主
func (r *RedisRegistry) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.membersKey(roomID))
		pipe.HDel(ctx, r.creatorsKey(), roomID)
		return nil
	})
	if err != nil {
		return WrapAppError(err, ErrCodeRegistry, "delete room")
	}
	return nil
}

// Rooms 列出所有有房主的房間
func (r *RedisRegistry) Rooms(ctx context.Context) ([]RoomSummary, error) {
	creators, err := r.client.HGetAll(ctx, r.creatorsKey()).Result()
	if err != nil {
		return nil, WrapAppError(err, ErrCodeRegistry, "list rooms")
	}

	roomIDs := make([]string, 0, len(creators))
	for roomID := range creators {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)

	pipe := r.client.Pipeline()
	counts := make([]*redis.IntCmd, len(roomIDs))
	for i, roomID := range roomIDs {
		counts[i] = pipe.ZCard(ctx, r.membersKey(roomID))
	}
	if len(roomIDs) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, WrapAppError(err, ErrCodeRegistry, "count members")
		}
	}

	rooms := make([]RoomSummary, 0, len(roomIDs))
	for i, roomID := range roomIDs {
		rooms = append(rooms, RoomSummary{
			RoomID:    roomID,
			CreatorID: creators[roomID],
			Members:   int(counts[i].Val()),
		})
	}
	return rooms, nil
}

// Reset 清除本前綴下所有 key
//
// 啟動時呼叫：上一個行程留下的連接都已失效。
func (r *RedisRegistry) Reset(ctx context.Context) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return WrapAppError(err, ErrCodeRegistry, "scan keys")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return WrapAppError(err, ErrCodeRegistry, fmt.Sprintf("delete %d keys", len(keys)))
	}
	return nil
}

// Close 關閉 Redis 連線
func (r *RedisRegistry) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

package internal

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// RoomIDLength 房間 ID 長度
	RoomIDLength = 5

	// roomIDAlphabet base-36 字元集
	roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	defaultRoomIDAttempts = 8
)

// RoomIDGenerator 房間 ID 產生器
//
// 36^5 ≈ 6 千萬種組合，碰撞機率低但不為零，因此每次產生都向註冊表確認，
// 碰撞就重試，超過 MaxAttempts 回傳 ErrRoomIDExhausted。
type RoomIDGenerator struct {
	MaxAttempts int
	random      func() (string, error)
}

// NewRoomIDGenerator 創建產生器
func NewRoomIDGenerator(maxAttempts int) *RoomIDGenerator {
	if maxAttempts <= 0 {
		maxAttempts = defaultRoomIDAttempts
	}
	return &RoomIDGenerator{
		MaxAttempts: maxAttempts,
		random:      randomRoomID,
	}
}

// Generate 產生一個目前未被使用的房間 ID
func (g *RoomIDGenerator) Generate(ctx context.Context, exists func(ctx context.Context, roomID string) (bool, error)) (string, error) {
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		id, err := g.random()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}

		taken, err := exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrRoomIDExhausted
}

// randomRoomID 以 crypto/rand 產生 RoomIDLength 個 base-36 字元
func randomRoomID() (string, error) {
	b := make([]byte, RoomIDLength)
	max := big.NewInt(int64(len(roomIDAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = roomIDAlphabet[n.Int64()]
	}
	return string(b), nil
}

// IsValidRoomID 檢查格式
func IsValidRoomID(id string) bool {
	if len(id) != RoomIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}

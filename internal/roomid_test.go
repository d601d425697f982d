package internal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-location-relay/internal"
)

func neverTaken(context.Context, string) (bool, error) { return false, nil }

// TestRoomIDGenerator_Format 測試 ID 格式
func TestRoomIDGenerator_Format(t *testing.T) {
	gen := internal.NewRoomIDGenerator(0)
	assert.Equal(t, 8, gen.MaxAttempts)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := gen.Generate(context.Background(), neverTaken)
		require.NoError(t, err)
		require.True(t, internal.IsValidRoomID(id), "無效的房間 ID: %q", id)
		seen[id] = true
	}
	// 6 千萬種組合，一千次幾乎不會重複
	assert.Greater(t, len(seen), 990)
}

// TestRoomIDGenerator_Retry 測試碰撞重試
func TestRoomIDGenerator_Retry(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		taken    map[string]bool
		want     string
		wantErr  error
	}{
		{
			name:     "first id free",
			attempts: 3,
			taken:    map[string]bool{},
			want:     "aaaaa",
		},
		{
			name:     "skips taken ids",
			attempts: 3,
			taken:    map[string]bool{"aaaaa": true, "bbbbb": true},
			want:     "ccccc",
		},
		{
			name:     "gives up after max attempts",
			attempts: 2,
			taken:    map[string]bool{"aaaaa": true, "bbbbb": true},
			wantErr:  internal.ErrRoomIDExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := internal.NewRoomIDGenerator(tt.attempts)
			gen.SetRandomSource(sequentialIDs("aaaaa", "bbbbb", "ccccc"))

			calls := 0
			id, err := gen.Generate(context.Background(), func(_ context.Context, id string) (bool, error) {
				calls++
				return tt.taken[id], nil
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.attempts, calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

// TestRoomIDGenerator_Errors 測試錯誤傳遞
func TestRoomIDGenerator_Errors(t *testing.T) {
	t.Run("lookup error", func(t *testing.T) {
		lookupErr := errors.New("redis down")
		gen := internal.NewRoomIDGenerator(3)

		_, err := gen.Generate(context.Background(), func(context.Context, string) (bool, error) {
			return false, lookupErr
		})
		assert.ErrorIs(t, err, lookupErr)
	})

	t.Run("random source error", func(t *testing.T) {
		sourceErr := errors.New("entropy exhausted")
		gen := internal.NewRoomIDGenerator(3)
		gen.SetRandomSource(func() (string, error) { return "", sourceErr })

		_, err := gen.Generate(context.Background(), neverTaken)
		assert.ErrorIs(t, err, sourceErr)
	})
}

// TestIsValidRoomID 測試格式檢查
func TestIsValidRoomID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"a1b2c", true},
		{"00000", true},
		{"zzzzz", true},
		{"A1B2C", false},
		{"a1b2", false},
		{"a1b2c3", false},
		{"a-b2c", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, internal.IsValidRoomID(tt.id), "id %q", tt.id)
	}
}

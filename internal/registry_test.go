package internal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-location-relay/internal"
	"github.com/koopa0/system-design/14-location-relay/internal/testutils"
)

// testRegistryContract 兩種後端共用的行為測試
func testRegistryContract(t *testing.T, newRegistry func(t *testing.T) internal.Registry) {
	ctx := context.Background()

	t.Run("members keep join order without duplicates", func(t *testing.T) {
		reg := newRegistry(t)

		require.NoError(t, reg.AddMember(ctx, "room1", "c1"))
		require.NoError(t, reg.AddMember(ctx, "room1", "c2"))
		require.NoError(t, reg.AddMember(ctx, "room1", "c1"))
		require.NoError(t, reg.AddMember(ctx, "room1", "c3"))

		members, err := reg.Members(ctx, "room1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2", "c3"}, members)
	})

	t.Run("room exists while it has members", func(t *testing.T) {
		reg := newRegistry(t)

		exists, err := reg.RoomExists(ctx, "room1")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, reg.AddMember(ctx, "room1", "c1"))
		exists, err = reg.RoomExists(ctx, "room1")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, reg.RemoveMember(ctx, "room1", "c1"))
		exists, err = reg.RoomExists(ctx, "room1")
		require.NoError(t, err)
		assert.False(t, exists)

		members, err := reg.Members(ctx, "room1")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("removing a non member is a no-op", func(t *testing.T) {
		reg := newRegistry(t)
		require.NoError(t, reg.AddMember(ctx, "room1", "c1"))
		require.NoError(t, reg.RemoveMember(ctx, "room1", "ghost"))
		require.NoError(t, reg.RemoveMember(ctx, "missing", "c1"))

		members, err := reg.Members(ctx, "room1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1"}, members)
	})

	t.Run("creator survives member changes until the room is deleted", func(t *testing.T) {
		reg := newRegistry(t)
		require.NoError(t, reg.AddMember(ctx, "room1", "c1"))
		require.NoError(t, reg.SetCreator(ctx, "room1", "c1"))
		require.NoError(t, reg.AddMember(ctx, "room1", "c2"))
		require.NoError(t, reg.RemoveMember(ctx, "room1", "c2"))

		creator, ok, err := reg.Creator(ctx, "room1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "c1", creator)

		require.NoError(t, reg.DeleteRoom(ctx, "room1"))

		_, ok, err = reg.Creator(ctx, "room1")
		require.NoError(t, err)
		assert.False(t, ok)

		exists, err := reg.RoomExists(ctx, "room1")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("rooms lists rooms with creators sorted by id", func(t *testing.T) {
		reg := newRegistry(t)
		for _, step := range []struct{ room, conn string }{
			{"bbbbb", "c1"}, {"aaaaa", "c2"}, {"aaaaa", "c3"},
		} {
			require.NoError(t, reg.AddMember(ctx, step.room, step.conn))
		}
		require.NoError(t, reg.SetCreator(ctx, "bbbbb", "c1"))
		require.NoError(t, reg.SetCreator(ctx, "aaaaa", "c2"))
		// 只有成員、沒有房主的群組不算房間
		require.NoError(t, reg.AddMember(ctx, "orphan", "c9"))

		rooms, err := reg.Rooms(ctx)
		require.NoError(t, err)
		assert.Equal(t, []internal.RoomSummary{
			{RoomID: "aaaaa", CreatorID: "c2", Members: 2},
			{RoomID: "bbbbb", CreatorID: "c1", Members: 1},
		}, rooms)
	})
}

// TestMemoryRegistry 測試行程內註冊表
func TestMemoryRegistry(t *testing.T) {
	testRegistryContract(t, func(t *testing.T) internal.Registry {
		return internal.NewMemoryRegistry()
	})
}

// TestRedisRegistry 測試 Redis 註冊表（需要 Docker）
func TestRedisRegistry(t *testing.T) {
	client := testutils.StartRedis(t)

	testRegistryContract(t, func(t *testing.T) internal.Registry {
		reg := internal.NewRedisRegistry(client, "test:"+t.Name()+":")
		t.Cleanup(func() {
			_ = reg.Reset(context.Background())
		})
		return reg
	})

	t.Run("reset removes only its own prefix", func(t *testing.T) {
		ctx := context.Background()
		mine := internal.NewRedisRegistry(client, "mine:")
		other := internal.NewRedisRegistry(client, "other:")

		require.NoError(t, mine.AddMember(ctx, "room1", "c1"))
		require.NoError(t, mine.SetCreator(ctx, "room1", "c1"))
		require.NoError(t, other.AddMember(ctx, "room1", "c1"))

		require.NoError(t, mine.Reset(ctx))

		rooms, err := mine.Rooms(ctx)
		require.NoError(t, err)
		assert.Empty(t, rooms)

		exists, err := other.RoomExists(ctx, "room1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("relay runs on redis", func(t *testing.T) {
		ctx := context.Background()
		reg := internal.NewRedisRegistry(client, "relay-it:")
		t.Cleanup(func() { _ = reg.Reset(context.Background()) })

		transport := newFakeTransport("c1", "c2")
		relay := internal.NewRelay(reg, transport, nil, internal.DefaultRelayConfig(), testLogger())

		created, err := relay.CreateRoom(ctx, "c1", []byte(`{"x":1}`))
		require.NoError(t, err)
		require.NoError(t, relay.JoinRoom(ctx, "c2", created.RoomID))

		members, err := reg.Members(ctx, created.RoomID)
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2"}, members)

		require.NoError(t, relay.Disconnect(ctx, "c1"))
		exists, err := reg.RoomExists(ctx, created.RoomID)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("closed client reports registry errors", func(t *testing.T) {
		ctx := context.Background()
		reg := internal.NewRedisRegistry(testutils.StartRedis(t), "closed:")
		require.NoError(t, reg.Close())
		require.NoError(t, reg.Close())

		_, err := reg.RoomExists(ctx, "room1")
		require.Error(t, err)
		assert.Equal(t, internal.ErrCodeRegistry, internal.ErrorCode(err))
	})
}

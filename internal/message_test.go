package internal_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-location-relay/internal"
)

// TestDecodeInbound 測試入站訊息解析
func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind internal.InboundKind
		wantCode string
		validate func(t *testing.T, in internal.Inbound)
	}{
		{
			name:     "create room",
			raw:      `{"event":"createRoom","data":{"position":{"x":1,"y":2}}}`,
			wantKind: internal.KindCreateRoom,
			validate: func(t *testing.T, in internal.Inbound) {
				require.NotNil(t, in.CreateRoom)
				assert.JSONEq(t, `{"x":1,"y":2}`, string(in.CreateRoom.Position))
			},
		},
		{
			name:     "create room with scalar position",
			raw:      `{"event":"createRoom","data":{"position":"somewhere"}}`,
			wantKind: internal.KindCreateRoom,
		},
		{
			name:     "create room with null position",
			raw:      `{"event":"createRoom","data":{"position":null}}`,
			wantCode: internal.ErrCodeInvalidPayload,
		},
		{
			name:     "create room with array data",
			raw:      `{"event":"createRoom","data":[1,2]}`,
			wantCode: internal.ErrCodeInvalidPayload,
		},
		{
			name:     "join room trims id",
			raw:      `{"event":"joinRoom","data":{"roomId":"  a1b2c "}}`,
			wantKind: internal.KindJoinRoom,
			validate: func(t *testing.T, in internal.Inbound) {
				require.NotNil(t, in.JoinRoom)
				assert.Equal(t, "a1b2c", in.JoinRoom.RoomID)
			},
		},
		{
			name:     "join room with numeric id",
			raw:      `{"event":"joinRoom","data":{"roomId":12345}}`,
			wantCode: internal.ErrCodeInvalidPayload,
		},
		{
			name:     "join room without data",
			raw:      `{"event":"joinRoom"}`,
			wantCode: internal.ErrCodeInvalidPayload,
		},
		{
			name:     "update location passes data through",
			raw:      `{"event":"updateLocation","data":{"lat":1.5,"tags":["a"]}}`,
			wantKind: internal.KindUpdateLocation,
			validate: func(t *testing.T, in internal.Inbound) {
				assert.JSONEq(t, `{"lat":1.5,"tags":["a"]}`, string(in.Location))
			},
		},
		{
			name:     "update location without data",
			raw:      `{"event":"updateLocation"}`,
			wantKind: internal.KindUpdateLocation,
			validate: func(t *testing.T, in internal.Inbound) {
				assert.Equal(t, "null", string(in.Location))
			},
		},
		{
			name:     "unknown event",
			raw:      `{"event":"leaveRoom","data":{}}`,
			wantCode: internal.ErrCodeUnknownEvent,
		},
		{
			name:     "empty event",
			raw:      `{"event":""}`,
			wantCode: internal.ErrCodeInvalidPayload,
		},
		{
			name:     "malformed json",
			raw:      `{"event":`,
			wantCode: internal.ErrCodeInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := internal.DecodeInbound([]byte(tt.raw))

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, internal.ErrorCode(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, in.Kind)
			if tt.validate != nil {
				tt.validate(t, in)
			}
		})
	}
}

// TestEncodeOutbound 測試出站格式
func TestEncodeOutbound(t *testing.T) {
	b, err := internal.EncodeOutbound(internal.EventRoomCreated, internal.RoomCreated{
		RoomID:              "a1b2c",
		Position:            json.RawMessage(`{"x":1,"y":2}`),
		TotalConnectedUsers: []string{"c1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "roomCreated",
		"data": {"roomId": "a1b2c", "position": {"x":1,"y":2}, "totalConnectedUsers": ["c1"]}
	}`, string(b))

	b, err = internal.EncodeOutbound(internal.EventUserLeftRoom, internal.MembershipChanged{
		UserID:              "c2",
		TotalConnectedUsers: []string{"c1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"userLeftRoom","data":{"user_id":"c2","total_connected_users":["c1"]}}`, string(b))

	b, err = internal.EncodeOutbound(internal.EventRoomJoined, internal.RoomJoined{Status: internal.StatusOK})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"roomJoined","data":{"status":"OK"}}`, string(b))

	_, err = internal.EncodeOutbound(internal.EventUpdateLocationObject, make(chan int))
	assert.Error(t, err)
}

// TestInboundKind_String 測試種類名稱
func TestInboundKind_String(t *testing.T) {
	assert.Equal(t, "createRoom", internal.KindCreateRoom.String())
	assert.Equal(t, "joinRoom", internal.KindJoinRoom.String())
	assert.Equal(t, "updateLocation", internal.KindUpdateLocation.String())
	assert.Equal(t, "InboundKind(0)", internal.InboundKind(0).String())
}

package internal_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-location-relay/internal"
)

// testLogger 測試用 logger，只輸出錯誤
func testLogger() *slog.Logger {
	return internal.NewLogger(io.Discard, "error", "text")
}

// sentEvent 一筆送出的事件
type sentEvent struct {
	Event string
	Data  json.RawMessage
}

// fakeTransport 記錄每個連接收到的事件
type fakeTransport struct {
	mu     sync.Mutex
	active map[string]bool
	inbox  map[string][]sentEvent
}

func newFakeTransport(connIDs ...string) *fakeTransport {
	ft := &fakeTransport{
		active: make(map[string]bool),
		inbox:  make(map[string][]sentEvent),
	}
	for _, id := range connIDs {
		ft.active[id] = true
	}
	return ft
}

func (ft *fakeTransport) connect(connID string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.active[connID] = true
}

func (ft *fakeTransport) drop(connID string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	delete(ft.active, connID)
}

func (ft *fakeTransport) Send(connID, event string, data any) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if !ft.active[connID] {
		return internal.ErrConnectionGone
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ft.inbox[connID] = append(ft.inbox[connID], sentEvent{Event: event, Data: b})
	return nil
}

func (ft *fakeTransport) Broadcast(event string, data any) int {
	ft.mu.Lock()
	ids := make([]string, 0, len(ft.active))
	for id := range ft.active {
		ids = append(ids, id)
	}
	ft.mu.Unlock()

	n := 0
	for _, id := range ids {
		if ft.Send(id, event, data) == nil {
			n++
		}
	}
	return n
}

func (ft *fakeTransport) IsActive(connID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.active[connID]
}

// events 取出並清空某連接收到的事件
func (ft *fakeTransport) events(connID string) []sentEvent {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := ft.inbox[connID]
	delete(ft.inbox, connID)
	return out
}

// only 斷言恰好收到一個事件並解析其內容
func only[T any](t *testing.T, ft *fakeTransport, connID, event string) T {
	t.Helper()
	got := ft.events(connID)
	require.Len(t, got, 1, "連接 %s 應該恰好收到一個事件: %+v", connID, got)
	require.Equal(t, event, got[0].Event)

	var v T
	require.NoError(t, json.Unmarshal(got[0].Data, &v))
	return v
}

// sequentialIDs 依序回傳固定房間 ID
func sequentialIDs(ids ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id, nil
	}
}

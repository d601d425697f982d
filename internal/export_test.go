package internal

// SetRandomSource 替換房間 ID 亂數來源（僅供測試）
func (g *RoomIDGenerator) SetRandomSource(random func() (string, error)) {
	g.random = random
}

// SetRoomIDSource 替換 Relay 的房間 ID 亂數來源（僅供測試）
func (r *Relay) SetRoomIDSource(random func() (string, error)) {
	r.ids.random = random
}

// Package locationrelay 提供即時位置轉發服務。
//
// 客戶端透過 WebSocket 連接後，可以建立房間、加入房間、廣播位置，
// 並在成員加入、離開與房間解散時收到通知。
//
// # 訊息格式
//
// 所有訊息都是 JSON 信封 {"event": "...", "data": {...}}：
//
//	→ createRoom      {"position": ...}
//	← roomCreated     {"roomId": "a1b2c", "position": ..., "totalConnectedUsers": [...]}
//	→ joinRoom        {"roomId": "a1b2c"}
//	← roomJoined      {"status": "OK"} 或 {"status": "ERROR", "reason": "ROOM_NOT_FOUND"}
//	← userJoinedRoom  {"user_id": ..., "total_connected_users": [...]}（送給房主）
//	← userLeftRoom    {"user_id": ..., "total_connected_users": [...]}（送給房主）
//	← roomDestroyed   {"status": "OK"}（房主斷線，送給其他成員）
//	→ updateLocation  任意 JSON
//	← updateLocationObject  原樣轉發
//
// # 房間生命週期
//
//   - 建立者是房主，也是第一個成員
//   - 每個連接同時最多屬於一個房間
//   - 房主斷線即解散房間，其他成員回到未加入狀態
//
// # 架構
//
//   - WebSocketHub：連接管理、心跳、非阻塞發送
//   - Relay：狀態機，所有事件在同一把鎖下處理
//   - Registry：房間成員與房主（記憶體或 Redis）
//   - Publisher：生命週期事件（NATS，可選）
//   - Handler：/health、/stats、/api/rooms 查詢
//
// # 配置選項
//
//   - -config：配置檔案（預設 config.yaml，不存在則用預設值）
//   - -port：服務監聽端口，也可用 PORT_NUMBER
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//
// 其他環境變數：ALLOWED_ORIGINS、REDIS_ADDR、NATS_URL、LOCATION_SCOPE。
package locationrelay

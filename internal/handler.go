package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Controller 掛在 API 前綴下的 REST 控制器
//
// 路徑以前綴之後的部分註冊，例如 "GET /rooms" 對外是 "GET /api/rooms"。
type Controller interface {
	Register(mux *http.ServeMux)
}

// Handler HTTP 請求處理器
type Handler struct {
	relay       *Relay
	hub         *WebSocketHub
	origins     *OriginPolicy
	basePath    string
	controllers []Controller
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(relay *Relay, hub *WebSocketHub, basePath string, allowedOrigins []string, logger *slog.Logger, controllers ...Controller) *Handler {
	return &Handler{
		relay:       relay,
		hub:         hub,
		origins:     NewOriginPolicy(allowedOrigins),
		basePath:    strings.TrimRight(basePath, "/"),
		controllers: controllers,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.cors(h.loggerMiddleware(handler)))
	}

	// WebSocket 需要原始的 ResponseWriter（Hijack），不經過日誌包裝
	mux.HandleFunc("GET /ws", h.recoverer(h.hub.ServeWS))

	// API 前綴，控制器掛在這裡
	api := http.NewServeMux()
	for _, c := range h.controllers {
		c.Register(api)
	}
	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.errorResponse(w, "找不到路由", http.StatusNotFound)
	})
	mux.Handle(h.basePath+"/", wrap(http.StripPrefix(h.basePath, api).ServeHTTP))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.relay.Stats(r.Context())
	if err != nil {
		h.logger.Error("讀取統計失敗", "error", err)
		h.errorResponse(w, "統計暫時無法取得", http.StatusServiceUnavailable)
		return
	}
	stats["connections"] = h.hub.ConnectionCount()
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	writeJSON(w, h.logger, data, status)
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, h.logger, map[string]any{"error": message}, status)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// cors 跨來源設定
func (h *Handler) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case h.origins.AllowAll():
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && h.origins.AllowedOrigin(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// RoomsController 房間查詢 API
//
//	GET {base}/rooms            房間列表
//	GET {base}/rooms/{room_id}  單一房間
type RoomsController struct {
	relay  *Relay
	logger *slog.Logger
}

// NewRoomsController 創建房間查詢控制器
func NewRoomsController(relay *Relay, logger *slog.Logger) *RoomsController {
	return &RoomsController{relay: relay, logger: logger}
}

// Register 註冊路由
func (c *RoomsController) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /rooms", c.listRooms)
	mux.HandleFunc("GET /rooms/{room_id}", c.getRoom)
}

func (c *RoomsController) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := c.relay.Rooms(r.Context())
	if err != nil {
		c.logger.Error("列出房間失敗", "error", err)
		writeJSON(w, c.logger, map[string]any{"error": "房間列表暫時無法取得"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, c.logger, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

func (c *RoomsController) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	room, err := c.relay.Room(r.Context(), roomID)
	if errors.Is(err, ErrRoomNotFound) {
		writeJSON(w, c.logger, map[string]any{"error": "房間不存在"}, http.StatusNotFound)
		return
	}
	if err != nil {
		c.logger.Error("查詢房間失敗", "room_id", roomID, "error", err)
		writeJSON(w, c.logger, map[string]any{"error": "房間暫時無法取得"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, c.logger, room, http.StatusOK)
}

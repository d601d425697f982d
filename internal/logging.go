package internal

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type contextKey string

// ConnIDKey 連接 ID 的上下文鍵
const ConnIDKey contextKey = "conn_id"

// WithConnID 將連接 ID 放入上下文
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// ConnIDFrom 取出連接 ID
func ConnIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ConnIDKey).(string)
	return id
}

// contextHandler 從上下文補上 conn_id
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if connID := ConnIDFrom(ctx); connID != "" {
		r.AddAttrs(slog.String("conn_id", connID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// NewLogger 依級別與格式建立 logger
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLogLevel(level),
		AddSource: strings.ToLower(level) == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// ParseLogLevel 解析日誌級別
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

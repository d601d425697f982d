package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-location-relay/internal"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔案路徑")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔案）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	logger := internal.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

func run(cfg *internal.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// 房間註冊表
	registry, err := newRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error("關閉註冊表失敗", "error", err)
		}
	}()

	// 生命週期事件
	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("關閉事件發布者失敗", "error", err)
		}
	}()

	// 創建 WebSocket Hub 與轉發器
	wsHub := internal.NewWebSocketHub(cfg.WebSocket, cfg.Server.AllowedOrigins, logger)
	relay := internal.NewRelay(registry, wsHub, publisher, cfg.Relay, logger)
	wsHub.Handle(relay)

	// 創建 HTTP 處理器
	handler := internal.NewHandler(relay, wsHub, cfg.Server.BasePath, cfg.Server.AllowedOrigins, logger,
		internal.NewRoomsController(relay, logger))

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("位置轉發服務器啟動",
			"port", cfg.Server.Port,
			"registry", cfg.Registry.Backend,
			"location_scope", cfg.Relay.LocationScope,
			"log_level", cfg.Log.Level)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("服務器啟動失敗: %w", err)
	case <-sigChan:
	}

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 停止 WebSocket Hub（觸發每個連接的斷線處理）
	if err := wsHub.Stop(cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("WebSocket Hub 關閉失敗", "error", err)
	}

	logger.Info("服務器已關閉")
	return nil
}

// newRegistry 依配置建立註冊表
func newRegistry(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (internal.Registry, error) {
	if cfg.Registry.Backend != internal.RegistryRedis {
		return internal.NewMemoryRegistry(), nil
	}

	rc := cfg.Registry.Redis
	client := redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, rc.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("連接 Redis 失敗: %w", err)
	}

	registry := internal.NewRedisRegistry(client, rc.KeyPrefix)

	// 連接都在本進程，重啟後上一輪的房間已無人在線
	if err := registry.Reset(pingCtx); err != nil {
		logger.Warn("清除舊房間失敗", "error", err)
	}

	logger.Info("Redis 註冊表已連接", "addr", rc.Addr, "prefix", rc.KeyPrefix)
	return registry, nil
}

// newPublisher 依配置建立事件發布者
func newPublisher(cfg *internal.Config, logger *slog.Logger) (internal.Publisher, error) {
	if cfg.Events.NATSUrl == "" {
		return internal.NopPublisher{}, nil
	}
	publisher, err := internal.NewNATSPublisher(cfg.Events.NATSUrl, cfg.Events.SubjectPrefix)
	if err != nil {
		return nil, err
	}
	logger.Info("NATS 事件發布已啟用", "url", cfg.Events.NATSUrl, "prefix", cfg.Events.SubjectPrefix)
	return publisher, nil
}

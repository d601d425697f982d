package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 位置廣播範圍
const (
	LocationScopeGlobal = "global" // 所有連接（既有行為）
	LocationScopeRoom   = "room"   // 只送同房間成員
)

// 註冊表後端
const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		BasePath        string        `yaml:"base_path"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	WebSocket WebSocketConfig `yaml:"websocket"`

	Relay RelayConfig `yaml:"relay"`

	Registry struct {
		Backend string `yaml:"backend"` // memory 或 redis
		Redis   struct {
			Addr         string        `yaml:"addr"`
			Password     string        `yaml:"password"`
			DB           int           `yaml:"db"`
			PoolSize     int           `yaml:"pool_size"`
			KeyPrefix    string        `yaml:"key_prefix"`
			DialTimeout  time.Duration `yaml:"dial_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"redis"`
	} `yaml:"registry"`

	Events struct {
		NATSUrl       string `yaml:"nats_url"` // 空字串表示不發布
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"events"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// WebSocketConfig 連接層配置
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	PongWait        time.Duration `yaml:"pong_wait"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	WriteWait       time.Duration `yaml:"write_wait"`
}

// RelayConfig 房間轉發配置
type RelayConfig struct {
	LocationScope    string        `yaml:"location_scope"`
	RoomIDAttempts   int           `yaml:"room_id_attempts"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.BasePath = "/api"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.AllowedOrigins = []string{"*"}

	cfg.WebSocket = DefaultWebSocketConfig()
	cfg.Relay = DefaultRelayConfig()

	cfg.Registry.Backend = RegistryMemory
	cfg.Registry.Redis.Addr = "localhost:6379"
	cfg.Registry.Redis.PoolSize = 10
	cfg.Registry.Redis.KeyPrefix = "relay:"
	cfg.Registry.Redis.DialTimeout = 5 * time.Second
	cfg.Registry.Redis.ReadTimeout = 3 * time.Second
	cfg.Registry.Redis.WriteTimeout = 3 * time.Second

	cfg.Events.SubjectPrefix = "relay.rooms"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// DefaultWebSocketConfig 預設連接配置（心跳 54s/60s）
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		MaxMessageSize:  64 * 1024,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		WriteWait:       10 * time.Second,
	}
}

// DefaultRelayConfig 預設轉發配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		LocationScope:    LocationScopeGlobal,
		RoomIDAttempts:   defaultRoomIDAttempts,
		OperationTimeout: 3 * time.Second,
	}
}

// LoadConfig 載入配置檔案
//
// 檔案不存在時使用預設值；之後套用環境變數覆蓋並驗證。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 以環境變數覆蓋配置
//
// PORT_NUMBER 沿用既有部署使用的變數名稱。
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PORT_NUMBER"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT_NUMBER %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Registry.Backend = RegistryRedis
		c.Registry.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATSUrl = v
	}
	if v := os.Getenv("LOCATION_SCOPE"); v != "" {
		c.Relay.LocationScope = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port 必須在 1-65535 之間: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("base_path 必須以 / 開頭: %q", c.Server.BasePath)
	}
	switch c.Relay.LocationScope {
	case LocationScopeGlobal, LocationScopeRoom:
	default:
		return fmt.Errorf("未知的 location_scope: %q", c.Relay.LocationScope)
	}
	switch c.Registry.Backend {
	case RegistryMemory, RegistryRedis:
	default:
		return fmt.Errorf("未知的 registry backend: %q", c.Registry.Backend)
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("ping_period (%s) 必須小於 pong_wait (%s)", c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}
	return nil
}

// Addr 回傳 HTTP 監聽位址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

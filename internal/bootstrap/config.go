package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/infra/setup"
)

// 服务形态决定默认宽限期
const (
	ProfileChat   = "chat"   // 聊天类：断线很快对外可见
	ProfileCollab = "collab" // 协作编辑：允许较长的重连窗口
)

var profileGrace = map[string]time.Duration{
	ProfileChat:   10 * time.Second,
	ProfileCollab: 120 * time.Second,
}

// 在线状态后端与清理驱动
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	SweepDriverAsynq = "asynq"
	SweepDriverLocal = "local"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	ServerPort        string
	LogLevel          string
	AppEnv            string // 应用环境 (development/production)
	CORSAllowedOrigin string
	RateLimitMax      int
	RateLimitWindow   time.Duration

	Profile             string
	GracePeriod         time.Duration
	InactivityThreshold time.Duration
	SweepInterval       time.Duration
	SweepDriver         string
	PresenceBackend     string
	DocumentTTL         time.Duration
}

// DBEnabled 配置了数据库用户时才启用会话历史持久化
func (c *Config) DBEnabled() bool { return c.DBUser != "" }

// DB 返回数据库连接参数
func (c *Config) DB() setup.DBConfig {
	return setup.DBConfig{User: c.DBUser, Password: c.DBPassword, Host: c.DBHost, Port: c.DBPort, Name: c.DBName}
}

// Redis 返回 Redis 连接参数
func (c *Config) Redis() setup.RedisConfig {
	return setup.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            envOr("DB_HOST", "127.0.0.1"),
		DBPort:            envOr("DB_PORT", "3306"),
		DBName:            envOr("DB_NAME", "collab_presence"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         envOr("REDIS_KEY_PREFIX", "cp:"),
		ServerPort:        envOr("SERVER_PORT", "8080"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		AppEnv:            envOr("APP_ENV", "development"),
		CORSAllowedOrigin: envOr("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		RateLimitWindow:   time.Second,
		Profile:           strings.ToLower(envOr("SERVICE_PROFILE", ProfileCollab)),
		SweepDriver:       strings.ToLower(envOr("SWEEP_DRIVER", SweepDriverAsynq)),
		PresenceBackend:   strings.ToLower(envOr("PRESENCE_BACKEND", BackendRedis)),
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = intEnv("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax == 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}

	grace, ok := profileGrace[cfg.Profile]
	if !ok {
		return nil, fmt.Errorf("unknown SERVICE_PROFILE %q (want %q or %q)", cfg.Profile, ProfileChat, ProfileCollab)
	}
	if cfg.GracePeriod, err = durationEnv("GRACE_PERIOD", grace); err != nil {
		return nil, err
	}
	if cfg.InactivityThreshold, err = durationEnv("INACTIVITY_THRESHOLD", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DocumentTTL, err = durationEnv("DOCUMENT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	switch cfg.PresenceBackend {
	case BackendRedis, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown PRESENCE_BACKEND %q", cfg.PresenceBackend)
	}
	switch cfg.SweepDriver {
	case SweepDriverAsynq, SweepDriverLocal:
	default:
		return nil, fmt.Errorf("unknown SWEEP_DRIVER %q", cfg.SweepDriver)
	}
	if cfg.PresenceBackend == BackendMemory && cfg.SweepDriver == SweepDriverAsynq {
		// 内存状态只属于本进程，集群级的唯一任务会漏掉其他进程的房间
		logrus.Warn("PRESENCE_BACKEND=memory forces SWEEP_DRIVER=local")
		cfg.SweepDriver = SweepDriverLocal
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", key, raw)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, raw)
	}
	return d, nil
}

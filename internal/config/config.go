package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	ClientURL             string
	RateLimitRPS          int
	RateLimitBurst        int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendBuffer        int
	MaxMessageBytes   int64
	NotifyRejections  bool

	NatsURL           string
	NatsSubjectPrefix string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值回落到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// Load 先尝试读取 .env，再从环境变量组装配置。
func Load() Config {
	_ = godotenv.Load()
	env := getenv("APP_ENV", "dev")
	level := "info"
	if env == "dev" {
		level = "debug"
	}
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   env,
		LogLevel:              getenv("LOG_LEVEL", level),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=relaychat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		ClientURL:             os.Getenv("CLIENT_URL"),
		RateLimitRPS:          getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:        getenvInt("RATE_LIMIT_BURST", 40),
		HeartbeatInterval:     getenvDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		HeartbeatTimeout:      getenvDuration("HEARTBEAT_TIMEOUT", time.Second),
		SendBuffer:            getenvInt("SEND_BUFFER", 256),
		MaxMessageBytes:       int64(getenvInt("MAX_MESSAGE_BYTES", 1<<20)),
		NotifyRejections:      getenvBool("NOTIFY_REJECTIONS", false),
		NatsURL:               os.Getenv("NATS_URL"),
		NatsSubjectPrefix:     getenv("NATS_SUBJECT_PREFIX", "relaychat"),
	}
}

// Validate 拒绝无法安全启动的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be set outside dev")
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatTimeout <= 0 {
		return errors.New("config: heartbeat durations must be positive")
	}
	// 探测间隔必须大于等待 pong 的超时，否则慢但存活的连接会被误踢。
	if cfg.HeartbeatTimeout >= cfg.HeartbeatInterval {
		return errors.New("config: HEARTBEAT_TIMEOUT must be shorter than HEARTBEAT_INTERVAL")
	}
	return nil
}

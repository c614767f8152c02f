package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int              `json:"port"`
	JWTSecret     string           `json:"jwt_secret"`
	JWTTTLHours   int              `json:"jwt_ttl_hours"`
	CORSAllowlist []string         `json:"cors_allowlist"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Database      DatabaseConfig   `json:"database"`
	Redis         RedisConfig      `json:"redis"`
	BlobStore     BlobStoreConfig  `json:"blob_store"`
	Collab        CollabConfig     `json:"collab"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type BlobStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// CollabConfig carries the collaboration tuning knobs. The auto-merge
// thresholds are heuristics, not correctness guarantees, so they stay
// configurable.
type CollabConfig struct {
	AutoMergeLenDelta    int     `json:"auto_merge_len_delta"`
	AutoMergeRelDelta    float64 `json:"auto_merge_rel_delta"`
	AutoMergeWindow      int     `json:"auto_merge_window"`
	AutoMergeSimilarity  float64 `json:"auto_merge_similarity"`
	LivenessWindowSecs   int     `json:"liveness_window_secs"`
	SweepThresholdSecs   int     `json:"sweep_threshold_secs"`
	StoreTimeoutMillis   int     `json:"store_timeout_millis"`
	ContentCacheSize     int     `json:"content_cache_size"`
	ContentCacheTTLSecs  int     `json:"content_cache_ttl_secs"`
	PreviewMaxChars      int     `json:"preview_max_chars"`
	SweepCronSpec        string  `json:"sweep_cron_spec"`
	BroadcastQueueLength int     `json:"broadcast_queue_length"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	if cfg.BlobStore.Type == "" {
		cfg.BlobStore.Type = "local"
	}
	cfg.Collab.applyDefaults()
	return &cfg, nil
}

func (c *CollabConfig) applyDefaults() {
	if c.AutoMergeLenDelta <= 0 {
		c.AutoMergeLenDelta = 30
	}
	if c.AutoMergeRelDelta <= 0 {
		c.AutoMergeRelDelta = 0.1
	}
	if c.AutoMergeWindow <= 0 {
		c.AutoMergeWindow = 100
	}
	if c.AutoMergeSimilarity <= 0 {
		c.AutoMergeSimilarity = 0.8
	}
	if c.LivenessWindowSecs <= 0 {
		c.LivenessWindowSecs = 30
	}
	if c.SweepThresholdSecs <= 0 {
		c.SweepThresholdSecs = 60
	}
	if c.StoreTimeoutMillis <= 0 {
		c.StoreTimeoutMillis = 3000
	}
	if c.ContentCacheSize <= 0 {
		c.ContentCacheSize = 256
	}
	if c.ContentCacheTTLSecs <= 0 {
		c.ContentCacheTTLSecs = 300
	}
	if c.PreviewMaxChars <= 0 {
		c.PreviewMaxChars = 200
	}
	if c.SweepCronSpec == "" {
		c.SweepCronSpec = "* * * * *"
	}
	if c.BroadcastQueueLength <= 0 {
		c.BroadcastQueueLength = 32
	}
}

package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings are process-level knobs read from the environment.
type Settings struct {
	CacheTTL        time.Duration `env:"TRIGGER_CACHE_TTL"         envDefault:"300s"`
	CacheCapacity   int           `env:"TRIGGER_CACHE_CAPACITY"    envDefault:"10000"`
	MaxConcurrent   int           `env:"TRIGGER_MAX_CONCURRENT"    envDefault:"10"`
	WorkerSchedule  string        `env:"TRIGGER_WORKER_SCHEDULE"   envDefault:"@every 30s"`
	WorkerBatchSize int           `env:"TRIGGER_WORKER_BATCH_SIZE" envDefault:"50"`
	StorePath       string        `env:"TRIGGER_STORE_PATH"        envDefault:"trigger.db"`
	RedisAddr       string        `env:"TRIGGER_REDIS_ADDR"`
	RedisPassword   string        `env:"TRIGGER_REDIS_PASSWORD"`
	RedisDB         int           `env:"TRIGGER_REDIS_DB"          envDefault:"0"`
	WebhookSecret   string        `env:"TRIGGER_WEBHOOK_SECRET"`
	LogLevel        string        `env:"TRIGGER_LOG_LEVEL"         envDefault:"info"`
}

// LoadSettings parses settings from the environment.
func LoadSettings() (Settings, error) {
	var cfg Settings
	if err := env.Parse(&cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

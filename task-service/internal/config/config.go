package config

import (
	"fmt"
	"time"

	"projectsync/pkg/circuitbreaker"
	"projectsync/pkg/config"
)

const (
	PublishModeDirect = "direct"
	PublishModeOutbox = "outbox"
)

type PublishConfig struct {
	// Mode is "direct" (insert then publish) or "outbox" (relay from the outbox table).
	Mode    string                `yaml:"mode"`
	Breaker circuitbreaker.Config `yaml:"breaker"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	DB        config.DBConfig        `yaml:"db"`
	MQ        config.MQConfig        `yaml:"mq"`
	JWT       config.JWTConfig       `yaml:"jwt"`
	Server    config.ServerConfig    `yaml:"server"`
	Log       config.LogConfig       `yaml:"log"`
	Telemetry config.TelemetryConfig `yaml:"telemetry"`
	Publish   PublishConfig          `yaml:"publish"`
	Outbox    OutboxConfig           `yaml:"outbox"`
}

// TaskServiceSection is the key under which service-specific settings live in the shared files.
const TaskServiceSection = "task_service"

func Load() (*Config, error) {
	// 使用统一配置中心
	var cfg Config
	// 服务专属配置覆盖公共配置
	if err := config.LoadService(config.SourceFromEnv(), TaskServiceSection, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideTelemetryFromEnv(&cfg.Telemetry)
	config.SetString(&cfg.Publish.Mode, "PUBLISH_MODE")

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8082"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Publish.Mode == "" {
		c.Publish.Mode = PublishModeDirect
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
}

func (c *Config) Validate() error {
	switch c.Publish.Mode {
	case PublishModeDirect, PublishModeOutbox:
	default:
		return fmt.Errorf("publish.mode must be %q or %q, got %q", PublishModeDirect, PublishModeOutbox, c.Publish.Mode)
	}
	if c.MQ.URL == "" {
		return fmt.Errorf("mq.url is required")
	}
	return nil
}

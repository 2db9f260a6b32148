package config

import (
	"fmt"
	"time"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/config"
)

type FanoutConfig struct {
	Queue       string `yaml:"queue"`
	Prefetch    int    `yaml:"prefetch"`
	Workers     int    `yaml:"workers"`
	MaxRetries  int    `yaml:"max_retries"`
	CASAttempts int    `yaml:"cas_attempts"`
	// Parallelism bounds concurrent dependent merges within one event.
	Parallelism int `yaml:"parallelism"`
	// Index is "indexed" (reverse lookup by target) or "scan" (full scan).
	Index string `yaml:"index"`
}

type DedupConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type Config struct {
	DB        config.DBConfig        `yaml:"db"`
	MQ        config.MQConfig        `yaml:"mq"`
	Redis     config.RedisConfig     `yaml:"redis"`
	JWT       config.JWTConfig       `yaml:"jwt"`
	Server    config.ServerConfig    `yaml:"server"`
	Log       config.LogConfig       `yaml:"log"`
	Telemetry config.TelemetryConfig `yaml:"telemetry"`
	Fanout    FanoutConfig           `yaml:"fanout"`
	Dedup     DedupConfig            `yaml:"dedup"`
}

const ProjectServiceSection = "project_service"

func Load() (*Config, error) {
	var cfg Config
	// 服务专属配置覆盖公共配置
	if err := config.LoadService(config.SourceFromEnv(), ProjectServiceSection, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideTelemetryFromEnv(&cfg.Telemetry)
	config.SetString(&cfg.Fanout.Index, "FANOUT_INDEX")
	config.SetInt(&cfg.Fanout.Workers, "FANOUT_WORKERS")

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
		c.Server.Port = ":8083"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Fanout.Queue == "" {
		c.Fanout.Queue = mqcontracts.QueueTaskCreated
	}
	if c.Fanout.Prefetch <= 0 {
		c.Fanout.Prefetch = 10
	}
	if c.Fanout.Workers <= 0 {
		c.Fanout.Workers = 4
	}
	if c.Fanout.MaxRetries <= 0 {
		c.Fanout.MaxRetries = 5
	}
	if c.Fanout.CASAttempts <= 0 {
		c.Fanout.CASAttempts = 5
	}
	if c.Fanout.Parallelism <= 0 {
		c.Fanout.Parallelism = 4
	}
	if c.Fanout.Index == "" {
		c.Fanout.Index = "indexed"
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = 24 * time.Hour
	}
}

func (c *Config) Validate() error {
	switch c.Fanout.Index {
	case "indexed", "scan":
	default:
		return fmt.Errorf("fanout.index must be \"indexed\" or \"scan\", got %q", c.Fanout.Index)
	}
	if c.MQ.URL == "" {
		return fmt.Errorf("mq.url is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}

package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	// SlowQuery is the threshold above which statements are logged; zero uses the tracer default.
	SlowQuery time.Duration `yaml:"slow_query"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig: an empty secret disables authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig OpenTelemetry 导出配置
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// 环境变量覆盖（优先级最高）

func OverrideDBFromEnv(cfg *DBConfig) {
	setString(&cfg.Host, "DB_HOST")
	setInt(&cfg.Port, "DB_PORT")
	setString(&cfg.User, "DB_USER")
	setString(&cfg.Password, "DB_PASSWORD")
	setString(&cfg.Name, "DB_NAME")
	setString(&cfg.SSLMode, "DB_SSLMODE")
}

func OverrideMQFromEnv(cfg *MQConfig) {
	setString(&cfg.URL, "MQ_URL")
}

func OverrideRedisFromEnv(cfg *RedisConfig) {
	setString(&cfg.Addr, "REDIS_ADDR")
	setString(&cfg.Password, "REDIS_PASSWORD")
	setInt(&cfg.DB, "REDIS_DB")
}

func OverrideJWTFromEnv(cfg *JWTConfig) {
	setString(&cfg.Secret, "JWT_SECRET")
}

func OverrideServerFromEnv(cfg *ServerConfig) {
	setString(&cfg.Port, "SERVER_PORT")
}

func OverrideLogFromEnv(cfg *LogConfig) {
	setString(&cfg.Level, "LOG_LEVEL")
}

// OverrideTelemetryFromEnv turns exporting on whenever OTEL_ENDPOINT is set.
func OverrideTelemetryFromEnv(cfg *TelemetryConfig) {
	if setString(&cfg.Endpoint, "OTEL_ENDPOINT") {
		cfg.Enabled = true
	}
}

// SetString and SetInt let service configs override their own keys the same way.
func SetString(dst *string, key string) bool { return setString(dst, key) }

func SetInt(dst *int, key string) bool { return setInt(dst, key) }

func setString(dst *string, key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	*dst = v
	return true
}

// 非法数字被忽略，保留文件中的值
func setInt(dst *int, key string) bool {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return false
	}
	*dst = n
	return true
}

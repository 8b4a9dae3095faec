package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile — путь к YAML-конфигурации по умолчанию.
const DefaultConfigFile = "pressline.yaml"

// Load загружает конфигурацию из DefaultConfigFile.
// Приоритет: defaults < YAML < ENV. Отсутствие файла не ошибка.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom загружает конфигурацию из указанного YAML-файла.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML читает YAML-файл поверх cfg. Отсутствующий файл — не ошибка.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv накладывает переменные окружения поверх cfg.
// Пустые значения не перекрывают текущую конфигурацию.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PRESSLINE_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PRESSLINE_PG_MAX_CONNS")
	setString(&cfg.ToolAPI.BaseURL, "TOOL_API_URL")
	setString(&cfg.ToolAPI.Token, "TOOL_API_TOKEN")
	setDuration(&cfg.ToolAPI.Timeout, "TOOL_API_TIMEOUT")
	setDuration(&cfg.Worker.Interval, "PRESSLINE_WORKER_INTERVAL")
	setDuration(&cfg.Executor.PollInterval, "PRESSLINE_POLL_INTERVAL")
	setInt(&cfg.Executor.PollAttempts, "PRESSLINE_POLL_ATTEMPTS")
	setDuration(&cfg.Recovery.StaleAfter, "PRESSLINE_RECOVERY_STALE_AFTER")
	setInt(&cfg.Recovery.Limit, "PRESSLINE_RECOVERY_LIMIT")
	setString(&cfg.MQ.URL, "RABBITMQ_URL")
	setString(&cfg.Logging.Level, "PRESSLINE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "PRESSLINE_LOG_FORMAT")
}

// validate проверяет обязательные поля.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.ToolAPI.BaseURL == "" {
		return errors.New("tool_api.base_url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Executor.PollAttempts < 1 {
		return errors.New("executor.poll_attempts must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskledger.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
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

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TASKLEDGER_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKLEDGER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TASKLEDGER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TASKLEDGER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TASKLEDGER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TASKLEDGER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TASKLEDGER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TASKLEDGER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKLEDGER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TASKLEDGER_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TASKLEDGER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKLEDGER_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "TASKLEDGER_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TASKLEDGER_RATE_BURST")
	setInt64(&cfg.Cache.L1MaxSizeMB, "TASKLEDGER_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TASKLEDGER_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TASKLEDGER_CACHE_L2_TTL")
	setString(&cfg.Telemetry.Endpoint, "TASKLEDGER_OTLP_ENDPOINT")
	setFloat64(&cfg.Gates.ConfidenceThreshold, "TASKLEDGER_CONFIDENCE_THRESHOLD")
	setDuration(&cfg.Gates.VerificationTimeout, "TASKLEDGER_VERIFICATION_TIMEOUT")
	setInt(&cfg.Gates.ReviewIterationCap, "TASKLEDGER_REVIEW_ITERATION_CAP")
	setInt(&cfg.Executor.MaxConcurrent, "TASKLEDGER_EXECUTOR_MAX_CONCURRENT")
	setString(&cfg.Executor.WorkDir, "TASKLEDGER_EXECUTOR_WORK_DIR")
	setInt(&cfg.Batch.Size, "TASKLEDGER_BATCH_SIZE")
	setBool(&cfg.Batch.StopOnFailure, "TASKLEDGER_BATCH_STOP_ON_FAILURE")
	setBool(&cfg.Checkpoint.AfterBatch, "TASKLEDGER_CHECKPOINT_AFTER_BATCH")
	setBool(&cfg.Checkpoint.OnPause, "TASKLEDGER_CHECKPOINT_ON_PAUSE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Gates.ConfidenceThreshold < 0 || cfg.Gates.ConfidenceThreshold > 1 {
		return errors.New("gates.confidence_threshold must be in [0, 1]")
	}
	if cfg.Gates.ReviewIterationCap < 1 {
		return errors.New("gates.review_iteration_cap must be >= 1")
	}
	if cfg.Batch.Size < 1 {
		return errors.New("batch.size must be >= 1")
	}
	if cfg.Executor.MaxConcurrent < 1 {
		return errors.New("executor.max_concurrent must be >= 1")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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

package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskflow/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskflow/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type WorkerEnv struct {
	Concurrency       int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	PollInterval      time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"500ms"`
	ActionTimeout     time.Duration `envconfig:"ACTION_TIMEOUT" default:"30s"`
	JobMaxAttempts    int           `envconfig:"JOB_MAX_ATTEMPTS" default:"5"`
	JobInitialBackoff time.Duration `envconfig:"JOB_INITIAL_BACKOFF" default:"5s"`
}

type WatchEnv struct {
	// Rules enables invalidating the trigger cache when rule documents
	// change on disk. Only effective with local storage.
	Rules bool `envconfig:"WATCH_RULES" default:"true"`
}

type Env struct {
	BaseEnv
	StorageEnv
	WorkerEnv
	WatchEnv
}

const namespace = "TASKFLOW"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if err := env.WorkerEnv.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *WorkerEnv) validate() error {
	if e.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", e.Concurrency)
	}
	if e.JobMaxAttempts <= 0 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be positive, got %d", e.JobMaxAttempts)
	}
	if e.ActionTimeout <= 0 {
		return fmt.Errorf("ACTION_TIMEOUT must be positive, got %s", e.ActionTimeout)
	}
	return nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

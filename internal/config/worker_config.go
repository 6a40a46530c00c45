package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type WorkerRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

type QueueConfig struct {
	BatchSize     int64
	Block         time.Duration
	ClaimInterval time.Duration
}

type AuditConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
}

type WorkerConfig struct {
	Environment string
	LogLevel    string
	Redis       WorkerRedisConfig
	Queues      QueueConfig
	Audit       AuditConfig
}

func LoadWorker() (*WorkerConfig, error) {
	v := newViper("worker", "AUTHSESSION_WORKER")
	setWorkerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg WorkerConfig
	if err := unmarshal(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setWorkerDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("loglevel", "info")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "auth:events")
	v.SetDefault("redis.group", "audit")
	v.SetDefault("redis.consumer", "audit-1")

	v.SetDefault("queues.batchsize", 10)
	v.SetDefault("queues.block", "5s")
	v.SetDefault("queues.claiminterval", "30s")

	v.SetDefault("audit.failurethreshold", 5)
	v.SetDefault("audit.failurewindow", "15m")
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	PasswordAlgorithmBcrypt   = "bcrypt"
	PasswordAlgorithmArgon2id = "argon2id"

	minSecretLength = 32
	minBcryptCost   = 10
)

type HTTPConfig struct {
	Host         string
	Port         int
	BasePath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StorageConfig struct {
	Driver string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	PasswordAlgorithm string
	BcryptCost        int
	MinPasswordLength int
	Revocation        bool
}

type EventsConfig struct {
	Stream       string
	MaxLen       int64
	TrimSchedule string
}

type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

type AppConfig struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Security    SecurityConfig
	Events      EventsConfig
	Metrics     MetricsConfig
}

func Load() (*AppConfig, error) {
	v := newViper("config", "AUTHSESSION")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := unmarshal(v, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error

	if len(c.Security.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("security.jwtsecret must be at least %d bytes", minSecretLength))
	}
	if c.Security.TokenTTL <= 0 {
		errs = append(errs, errors.New("security.tokenttl must be positive"))
	}

	switch c.Security.PasswordAlgorithm {
	case PasswordAlgorithmBcrypt:
		if c.Security.BcryptCost < minBcryptCost {
			errs = append(errs, fmt.Errorf("security.bcryptcost must be >= %d", minBcryptCost))
		}
	case PasswordAlgorithmArgon2id:
	default:
		errs = append(errs, fmt.Errorf("unknown security.passwordalgorithm %q", c.Security.PasswordAlgorithm))
	}

	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Security.Revocation && !c.Redis.Enabled {
		errs = append(errs, errors.New("security.revocation requires redis.enabled"))
	}

	return errors.Join(errs...)
}

func newViper(name, envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper, out any) error {
	if err := v.Unmarshal(out, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("loglevel", "")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 5000)
	v.SetDefault("http.basepath", "/api")
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("storage.driver", StorageDriverMemory)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 5)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.tokenttl", "168h") // 7 days
	v.SetDefault("security.passwordalgorithm", PasswordAlgorithmBcrypt)
	v.SetDefault("security.bcryptcost", 12)
	v.SetDefault("security.minpasswordlength", 6)
	v.SetDefault("security.revocation", false)

	v.SetDefault("events.stream", "auth:events")
	v.SetDefault("events.maxlen", 100000)
	v.SetDefault("events.trimschedule", "0 0 3 * * *")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "authsession")
}

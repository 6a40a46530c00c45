package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig drives authctl. Flags bound by the CLI take precedence over
// the file and environment values.
type ClientConfig struct {
	ServerURL string
	StateDir  string
	Timeout   time.Duration
	LogLevel  string
}

func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigName("authctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "authctl"))
	}
	v.SetEnvPrefix("AUTHCTL")
	v.AutomaticEnv()

	setClientDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg ClientConfig
	if err := unmarshal(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("serverurl", "http://localhost:5000/api/auth")
	v.SetDefault("timeout", "10s")
	v.SetDefault("loglevel", "warn")

	stateDir := ".authctl"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".authctl")
	}
	v.SetDefault("statedir", stateDir)
}

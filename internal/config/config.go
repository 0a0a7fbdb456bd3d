package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Backend Backend `mapstructure:"backend"`
	Storage Storage `mapstructure:"storage"`
	Sync    Sync    `mapstructure:"sync"`
}

type Backend struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type Storage struct {
	// Driver selects the kv backend: memory, sqlite3, mysql or redis.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Redis  Redis  `mapstructure:"redis"`
}

type Redis struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Sync struct {
	ProbeIntervalSeconds     int `mapstructure:"probe_interval_seconds"`
	QueuePollIntervalSeconds int `mapstructure:"queue_poll_interval_seconds"`
}

// LoadConfig reads the config file at path; a missing file falls back to
// defaults plus environment overrides so the CLI works out of the box.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("backend.base_url", "http://localhost:8090")
	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.dsn", "repodash.db")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("sync.probe_interval_seconds", 15)
	v.SetDefault("sync.queue_poll_interval_seconds", 5)

	v.SetEnvPrefix("REPODASH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if token := v.GetString("BACKEND_TOKEN"); token != "" {
		config.Backend.Token = token
	}
	if base := v.GetString("BACKEND_URL"); base != "" {
		config.Backend.BaseURL = base
	}

	return &config, nil
}

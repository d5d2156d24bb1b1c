package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration. Values are read by viper from a
// config file or environment variables.
type Config struct {
	ListenAddr    string `mapstructure:"LISTEN_ADDR"`
	MySQLDSN      string `mapstructure:"MYSQL_DSN"`
	CloudinaryURL string `mapstructure:"CLOUDINARY_URL"`
	AdminToken    string `mapstructure:"ADMIN_TOKEN"`
	AdminUser     string `mapstructure:"ADMIN_USER"`
	AdminPass     string `mapstructure:"ADMIN_PASS"`
	DevMode       bool   `mapstructure:"DEV_MODE"`
	MaxImageBytes int64  `mapstructure:"MAX_IMAGE_BYTES"`
	TiDBCAPath    string `mapstructure:"TIDB_CA"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("LISTEN_ADDR", ":8000")
	viper.SetDefault("ADMIN_USER", "admin")
	viper.SetDefault("MAX_IMAGE_BYTES", int64(20<<20))
	viper.SetDefault("LOG_LEVEL", "info")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars may carry everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if !cfg.DevMode {
		if cfg.MySQLDSN == "" || cfg.CloudinaryURL == "" {
			return Config{}, fmt.Errorf("MYSQL_DSN and CLOUDINARY_URL must be set (or set DEV_MODE=true to run without external services)")
		}
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 20 << 20
	}

	return cfg, nil
}

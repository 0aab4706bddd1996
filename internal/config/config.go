package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
}

// ServerConfig holds the remote API location
type ServerConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StorageConfig holds the local credential store location
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

func defaultStoragePath() string {
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".mmchat", "credentials.db")
	}
	return filepath.Join(os.TempDir(), "mmchat", "credentials.db")
}

// Load loads the configuration from config.yaml (or $CONFIG_PATH).
// A missing config file is not an error; defaults allow running against
// a local server without any configuration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("log.level", "warn")
	v.SetDefault("storage.path", defaultStoragePath())

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

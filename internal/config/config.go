// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration for the luma settings server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	API     APIConfig     `mapstructure:"api"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"required,min=1,max=65535"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

type APIConfig struct {
	// Key is the shared secret every request except the liveness probe must
	// present in the X-API-KEY header.
	Key string `mapstructure:"key" validate:"required"`
}

// Load reads configuration from an optional YAML file, .env files, and
// LUMA_* environment variables (env always wins), validates it, and returns
// the result. The API key has no default and must be provided.
func Load() (Config, error) {
	// Missing .env files are fine; they only exist in dev setups.
	_ = godotenv.Load(".env.local", ".env")

	v := viper.New()
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.data_dir", defaultDataDir())
	v.SetDefault("log.level", "info")
	v.SetDefault("api.key", "")

	v.SetEnvPrefix("LUMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("LUMA_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.API.Key == "" {
		return fmt.Errorf("missing required config: API key. Set it via environment variable LUMA_API_KEY")
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// defaultDataDir returns the platform config directory for luma, falling back
// to the working directory when the home directory cannot be resolved.
func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "luma")
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig   `mapstructure:"server"`
	Redis      RedisConfig    `mapstructure:"redis"`
	NovelAI    UpstreamConfig `mapstructure:"novelai"`
	Midjourney UpstreamConfig `mapstructure:"midjourney"`
	Metering   MeteringConfig `mapstructure:"metering"`
	Log        LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig holds Redis configuration. An empty address disables the
// quota/credit store entirely; the gateway then admits free-tier traffic
// unconditionally.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// UpstreamConfig holds configuration for one generation backend.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MeteringConfig holds authorization and quota configuration.
type MeteringConfig struct {
	AdminToken         string `mapstructure:"admin_token"`
	GlobalDailyLimit   int    `mapstructure:"global_daily_limit"`
	IdentityDailyLimit int    `mapstructure:"identity_daily_limit"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/naigate")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("NAIGATE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if key := os.Getenv("NAIGATE_NOVELAI_API_KEY"); key != "" {
		cfg.NovelAI.APIKey = key
	}
	if key := os.Getenv("NAIGATE_MJ_API_KEY"); key != "" {
		cfg.Midjourney.APIKey = key
	}
	if token := os.Getenv("NAIGATE_ADMIN_TOKEN"); token != "" {
		cfg.Metering.AdminToken = token
	}
	if password := os.Getenv("NAIGATE_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.NovelAI.APIKey == "" {
		return fmt.Errorf("novelai.api_key is required (NAIGATE_NOVELAI_API_KEY)")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 180*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Redis defaults: empty address means no store (fail-open free tier)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)

	// Upstream defaults
	v.SetDefault("novelai.base_url", "https://image.novelai.net")
	v.SetDefault("novelai.timeout", 120*time.Second)
	v.SetDefault("midjourney.base_url", "")
	v.SetDefault("midjourney.timeout", 60*time.Second)

	// Metering defaults
	v.SetDefault("metering.global_daily_limit", 200)
	v.SetDefault("metering.identity_daily_limit", 5)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

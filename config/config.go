package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	LogLevel       string
	StoreDriver    string
	Redis          RedisConfig
	Database       DatabaseConfig
	Calling        CallingConfig
	Stream         StreamConfig
	Retention      RetentionConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	DSN string
}

// CallingConfig configures the LiveKit media backend and call lifecycle timers.
type CallingConfig struct {
	LiveKitURL string
	APIKey     string
	APISecret  string
	TokenTTL   time.Duration
	StaleAfter time.Duration
}

// StreamConfig tunes the push-delivery loops.
type StreamConfig struct {
	Block     time.Duration
	Batch     int
	KeepAlive time.Duration
}

type RetentionConfig struct {
	SignalTTL          time.Duration
	NotificationTTL    time.Duration
	NotificationMaxLen int64
	SweepSchedule      string
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "memory")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.dsn", "")

	v.SetDefault("calling.livekit_url", "")
	v.SetDefault("calling.api_key", "")
	v.SetDefault("calling.api_secret", "")
	v.SetDefault("calling.token_ttl", time.Hour)
	v.SetDefault("calling.stale_after", 5*time.Minute)

	v.SetDefault("stream.block", time.Second)
	v.SetDefault("stream.batch", 64)
	v.SetDefault("stream.keep_alive", 30*time.Second)

	v.SetDefault("retention.signal_ttl", time.Hour)
	v.SetDefault("retention.notification_ttl", 7*24*time.Hour)
	v.SetDefault("retention.notification_max_len", 1000)
	v.SetDefault("retention.sweep_schedule", "@every 1m")
}

// Load reads settings from defaults, an optional settings.toml and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("settings")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	// Parse allowed origins (comma-separated)
	var origins []string
	for _, origin := range strings.Split(v.GetString("allowed_origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return &Config{
		Port:           v.GetString("port"),
		Environment:    v.GetString("environment"),
		AllowedOrigins: origins,
		JWTSecret:      v.GetString("jwt_secret"),
		LogLevel:       v.GetString("log.level"),
		StoreDriver:    v.GetString("store.driver"),
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Calling: CallingConfig{
			LiveKitURL: v.GetString("calling.livekit_url"),
			APIKey:     v.GetString("calling.api_key"),
			APISecret:  v.GetString("calling.api_secret"),
			TokenTTL:   v.GetDuration("calling.token_ttl"),
			StaleAfter: v.GetDuration("calling.stale_after"),
		},
		Stream: StreamConfig{
			Block:     v.GetDuration("stream.block"),
			Batch:     v.GetInt("stream.batch"),
			KeepAlive: v.GetDuration("stream.keep_alive"),
		},
		Retention: RetentionConfig{
			SignalTTL:          v.GetDuration("retention.signal_ttl"),
			NotificationTTL:    v.GetDuration("retention.notification_ttl"),
			NotificationMaxLen: v.GetInt64("retention.notification_max_len"),
			SweepSchedule:      v.GetString("retention.sweep_schedule"),
		},
	}
}

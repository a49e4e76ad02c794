// Package config handles configuration for the board server
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete configuration for the board server
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Presence PresenceConfig `mapstructure:"presence"`
	Redis    RedisConfig    `mapstructure:"redis"`
	WS       WSConfig       `mapstructure:"ws"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BoardCacheSize  int           `mapstructure:"board_cache_size"`
}

// DBConfig contains the sqlite settings
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// PresenceConfig selects the roster backend
type PresenceConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig contains Redis connection settings for the redis roster backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// WSConfig contains realtime server settings
type WSConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	TypingRate     float64       `mapstructure:"typing_rate"`
	TypingBurst    int           `mapstructure:"typing_burst"`
	StepTimeout    time.Duration `mapstructure:"step_timeout"`
}

// JournalConfig enables the room event journal when Dir is set
type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Presence backends.
const (
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

// Load loads configuration from an optional .env file, the config file and
// the environment. Environment values win over the file, the file over defaults.
func Load(configFile string) (*Config, error) {
	// A missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("taskboard")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.WS.AllowedOrigins = splitOrigins(cfg.WS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.board_cache_size", 256)

	v.SetDefault("db.path", "./data/taskboard.db")

	v.SetDefault("presence.backend", PresenceMemory)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "taskboard:presence:")

	v.SetDefault("ws.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.typing_rate", 5.0)
	v.SetDefault("ws.typing_burst", 5)
	v.SetDefault("ws.step_timeout", "5s")

	v.SetDefault("journal.dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("db.path", "DB_PATH")
	_ = v.BindEnv("presence.backend", "PRESENCE_BACKEND")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("ws.allowed_origins", "CLIENT_URL")
	_ = v.BindEnv("journal.dir", "JOURNAL_DIR")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// splitOrigins accepts both a list and one comma separated value.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// Validate checks the values that would otherwise fail at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.DB.Path == "" {
		return errors.New("db.path is required")
	}
	switch c.Presence.Backend {
	case PresenceMemory:
	case PresenceRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis presence backend")
		}
	default:
		return fmt.Errorf("unknown presence.backend %q", c.Presence.Backend)
	}
	if c.WS.TypingRate < 0 {
		return errors.New("ws.typing_rate must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

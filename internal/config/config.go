package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "CONCORT"

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	Backpressure    string        `mapstructure:"backpressure_policy"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateInterval    time.Duration `mapstructure:"rate_interval"`
	Secret          string        `mapstructure:"secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	DatabasePath    string        `mapstructure:"database_path"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	DevLogin        bool          `mapstructure:"dev_login"`
	AdminToken      string        `mapstructure:"admin_token"`
	QueueDebounce   time.Duration `mapstructure:"queue_debounce"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("delivery_timeout", "2s")
	v.SetDefault("backpressure_policy", "kick")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_interval", "5s")
	v.SetDefault("secret", "")
	v.SetDefault("token_ttl", "168h")
	v.SetDefault("database_path", "concort.db")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("dev_login", false)
	v.SetDefault("admin_token", "")
	v.SetDefault("queue_debounce", "0s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the
// defaults, then CONCORT_* environment variables over both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file name. A missing file is not an
// error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("database", cfg.DatabasePath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("secret is required (set %s_SECRET)", envPrefix)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if c.QueueDebounce < 0 {
		return fmt.Errorf("queue_debounce must not be negative")
	}
	return nil
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
